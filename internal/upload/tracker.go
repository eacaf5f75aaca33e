// Package upload tracks a batch of concurrent file uploads, one independent
// entry per file.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
)

var (
	ErrEntryNotFound = errors.New("upload entry not found")
	ErrNotRetryable  = errors.New("upload entry has not failed")
	ErrNotReady      = errors.New("upload batch is not ready")
	ErrSealed        = errors.New("upload batch is being finalized")
)

// Uploader sends one file and returns the server-assigned file id. Progress
// fractions in [0,1] may be sent on progress while the call runs; nothing may
// be sent after it returns.
type Uploader interface {
	UploadFile(ctx context.Context, f gateway.File, progress chan<- float64) (string, error)
}

// Entry is a snapshot of one file in the batch. Done and Error are mutually
// exclusive, and once either is set the entry no longer changes.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Progress int    `json:"progress"`
	Done     bool   `json:"done"`
	Error    bool   `json:"error"`
	ErrorMsg string `json:"error_msg,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

func (e Entry) terminal() bool { return e.Done || e.Error }

type eventKind int

const (
	eventProgress eventKind = iota
	eventSucceeded
	eventFailed
)

// event is the only way an entry changes after it is added.
type event struct {
	entryID  string
	kind     eventKind
	fraction float64
	fileID   string
	err      error
}

type tracked struct {
	Entry
	file gateway.File
}

// Tracker runs one upload goroutine per entry and folds their progress
// events into entry state. Removing an entry does not abort its upload;
// later events for it are dropped.
type Tracker struct {
	uploader Uploader

	mu      sync.Mutex
	entries []*tracked
	sealed  bool
	changed chan struct{}
}

func NewTracker(uploader Uploader) *Tracker {
	return &Tracker{
		uploader: uploader,
		changed:  make(chan struct{}),
	}
}

// Add appends one entry per file and starts uploading each. The uploads
// outlive ctx's cancellation but keep its values. A sealed batch accepts no
// files.
func (t *Tracker) Add(ctx context.Context, files ...gateway.File) ([]Entry, error) {
	t.mu.Lock()
	if t.sealed {
		t.mu.Unlock()
		return nil, ErrSealed
	}
	added := t.addLocked(files)
	t.mu.Unlock()

	return t.start(ctx, added), nil
}

// Remove drops an entry in any state.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return ErrEntryNotFound
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	t.notifyLocked()
	return nil
}

// Retry replaces a failed entry with a fresh one for the same file, appended
// at the end of the batch.
func (t *Tracker) Retry(ctx context.Context, id string) (Entry, error) {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return Entry{}, ErrEntryNotFound
	}
	old := t.entries[i]
	if !old.Error {
		t.mu.Unlock()
		return Entry{}, ErrNotRetryable
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	added := t.addLocked([]gateway.File{old.file})
	t.mu.Unlock()

	return t.start(ctx, added)[0], nil
}

// Seal checks readiness and collects the file ids in one step, then closes
// the batch to new files until Unseal. Only one caller can hold the seal.
func (t *Tracker) Seal() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return nil, ErrSealed
	}
	if !t.readyLocked() {
		return nil, ErrNotReady
	}
	t.sealed = true
	return t.fileIDsLocked(), nil
}

// Unseal reopens the batch after a finalize attempt that did not go through.
func (t *Tracker) Unseal() {
	t.mu.Lock()
	t.sealed = false
	t.mu.Unlock()
}

// Entries returns a snapshot of the batch in insertion order.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Entry
	}
	return out
}

// Ready reports whether the batch is non-empty and every entry is done.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyLocked()
}

func (t *Tracker) readyLocked() bool {
	if len(t.entries) == 0 {
		return false
	}
	for _, e := range t.entries {
		if !e.Done {
			return false
		}
	}
	return true
}

// FileIDs returns the server file ids of done entries, in batch order.
func (t *Tracker) FileIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileIDsLocked()
}

func (t *Tracker) fileIDsLocked() []string {
	var ids []string
	for _, e := range t.entries {
		if e.Done {
			ids = append(ids, e.FileID)
		}
	}
	return ids
}

// Wait blocks until every current entry is done or failed.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		settled := true
		for _, e := range t.entries {
			if !e.terminal() {
				settled = false
				break
			}
		}
		ch := t.changed
		t.mu.Unlock()

		if settled {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tracker) addLocked(files []gateway.File) []*tracked {
	added := make([]*tracked, 0, len(files))
	for _, f := range files {
		e := &tracked{
			Entry: Entry{ID: uuid.NewString(), Name: f.Name, Size: f.Size},
			file:  f,
		}
		t.entries = append(t.entries, e)
		added = append(added, e)
	}
	t.notifyLocked()
	return added
}

// start launches one upload per added entry and returns their initial
// snapshots.
func (t *Tracker) start(ctx context.Context, added []*tracked) []Entry {
	ctx = context.WithoutCancel(ctx)

	out := make([]Entry, len(added))
	t.mu.Lock()
	for i, e := range added {
		out[i] = e.Entry
	}
	t.mu.Unlock()

	for _, e := range added {
		go t.run(ctx, e.ID, e.file)
	}
	return out
}

func (t *Tracker) run(ctx context.Context, id string, f gateway.File) {
	// progress stays open; a send after UploadFile returns is left unread.
	progress := make(chan float64, 16)
	returned := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for {
			select {
			case frac := <-progress:
				t.apply(event{entryID: id, kind: eventProgress, fraction: frac})
			case <-returned:
				return
			}
		}
	}()

	fileID, err := t.uploader.UploadFile(ctx, f, progress)
	close(returned)
	<-drained

	if err != nil {
		slog.Warn("file upload failed", "entry_id", id, "file", f.Name, "error", err)
		t.apply(event{entryID: id, kind: eventFailed, err: err})
		return
	}
	t.apply(event{entryID: id, kind: eventSucceeded, fileID: fileID})
}

func (t *Tracker) apply(ev event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(ev.entryID)
	if i < 0 {
		return
	}
	e := t.entries[i]
	if e.terminal() {
		return
	}

	switch ev.kind {
	case eventProgress:
		p := displayProgress(ev.fraction)
		if p <= e.Progress {
			return
		}
		e.Progress = p
	case eventSucceeded:
		e.Progress = 100
		e.Done = true
		e.FileID = ev.fileID
	case eventFailed:
		e.Error = true
		e.ErrorMsg = ev.err.Error()
	}
	t.notifyLocked()
}

// displayProgress maps a sent fraction to a percentage capped at 99. Only
// server confirmation moves an entry to 100.
func displayProgress(fraction float64) int {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 99
	}
	return min(int(math.Floor(fraction*100)), 99)
}

func (t *Tracker) indexLocked(id string) int {
	for i, e := range t.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tracker) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}
