package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrInvalidTarget   = errors.New("upload target must be dataset_upload or model_upload")
)

// Target describes the resource a finished batch becomes.
type Target struct {
	Type        models.TaskType `json:"task_type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BaseModel   string          `json:"base_model,omitempty"`
}

func (t Target) validate() error {
	switch t.Type {
	case models.TaskTypeDatasetUpload, models.TaskTypeModelUpload:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidTarget, t.Type)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTarget)
	}
	return nil
}

// Session is one upload dialog: a tracker plus what to create once every
// file is on the server.
type Session struct {
	ID        string
	Target    Target
	CreatedAt time.Time
	*Tracker
}

// Finalize seals a ready batch and builds its upload job. The batch stays
// sealed, refusing new files and further Finalize calls, until Reopen.
func (s *Session) Finalize() (models.JobRequest, error) {
	ids, err := s.Seal()
	if err != nil {
		return models.JobRequest{}, err
	}

	switch s.Target.Type {
	case models.TaskTypeDatasetUpload:
		return models.JobRequest{Type: s.Target.Type, Params: models.DatasetUploadParams{
			Name:        s.Target.Name,
			Description: s.Target.Description,
			FileIDs:     ids,
		}}, nil
	case models.TaskTypeModelUpload:
		return models.JobRequest{Type: s.Target.Type, Params: models.ModelUploadParams{
			Name:      s.Target.Name,
			BaseModel: s.Target.BaseModel,
			FileIDs:   ids,
		}}, nil
	}
	s.Unseal()
	return models.JobRequest{}, ErrInvalidTarget
}

// Reopen undoes Finalize when the upload job could not be submitted.
func (s *Session) Reopen() {
	s.Unseal()
}

// Registry holds the open upload sessions of the process.
type Registry struct {
	uploader Uploader
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(uploader Uploader) *Registry {
	return &Registry{
		uploader: uploader,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for target and starts uploading files.
func (r *Registry) Create(ctx context.Context, target Target, files ...gateway.File) (*Session, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Target:    target,
		CreatedAt: r.now(),
		Tracker:   NewTracker(r.uploader),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if _, err := s.Add(ctx, files...); err != nil {
		return nil, err
	}
	slog.Info("upload session created", "session_id", s.ID, "task_type", target.Type, "files", len(files))
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Discard forgets a session. Uploads still running finish in the background
// and their results are dropped with it.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// Expire discards sessions created more than maxAge ago and reports how many
// went.
func (r *Registry) Expire(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// RunExpiry calls Expire every interval until ctx is cancelled.
func (r *Registry) RunExpiry(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Expire(maxAge); n > 0 {
				slog.Info("expired upload sessions", "count", n, "max_age", maxAge.String())
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
