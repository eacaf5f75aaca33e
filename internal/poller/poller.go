// Package poller observes task status over time and turns status changes into
// cache invalidations.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultWindowHours = 24
)

// ErrPollInFlight is returned by Poll when a previous cycle has not finished.
var ErrPollInFlight = errors.New("poll already in flight")

// TaskSource refetches the task list for a recency window.
type TaskSource interface {
	RefreshTasks(ctx context.Context, windowHours int) ([]models.Task, error)
}

// Invalidator marks cache keys stale.
type Invalidator interface {
	Invalidate(key cache.Key)
	InvalidatePrefix(prefix cache.Key)
}

// CompletionEvent reports a task observed moving from a non-terminal state to done.
type CompletionEvent struct {
	Task     models.Task
	Previous models.TaskStatus
}

// Poller periodically refreshes a window of tasks and detects completions by
// diffing each snapshot against the last status it saw for every task id.
// The status map belongs to the instance; independent pollers share nothing.
type Poller struct {
	source      TaskSource
	cache       Invalidator
	interval    time.Duration
	windowHours int

	cycle sync.Mutex // held for the duration of one poll cycle

	mu          sync.Mutex
	lastStatus  map[string]models.TaskStatus
	subscribers []func(CompletionEvent)
}

type Option func(*Poller)

// WithWindow sets the recency window, in hours, of the polled task list.
func WithWindow(hours int) Option {
	return func(p *Poller) { p.windowHours = hours }
}

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithKnownStatuses seeds the last-known-status map.
func WithKnownStatuses(known map[string]models.TaskStatus) Option {
	return func(p *Poller) {
		for id, s := range known {
			p.lastStatus[id] = s
		}
	}
}

func New(source TaskSource, inv Invalidator, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		cache:       inv,
		interval:    DefaultInterval,
		windowHours: DefaultWindowHours,
		lastStatus:  make(map[string]models.TaskStatus),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers fn to be called for every completion event, after the
// affected cache keys have been invalidated.
func (p *Poller) Subscribe(fn func(CompletionEvent)) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}

// Run polls until ctx is cancelled. The next cycle is scheduled only after
// the current one returns, so a slow fetch delays polling instead of stacking
// requests. Cycle errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller started", "interval", p.interval.String(), "window_hours", p.windowHours)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped")
			return nil
		case <-timer.C:
		}

		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("poll cycle failed", "error", err)
		}
		timer.Reset(p.interval)
	}
}

// Poll runs one cycle: refresh the task window, diff it against the known
// statuses, and invalidate the collections affected by each completion.
// It returns ErrPollInFlight without fetching if another cycle is running.
func (p *Poller) Poll(ctx context.Context) ([]CompletionEvent, error) {
	if !p.cycle.TryLock() {
		return nil, ErrPollInFlight
	}
	defer p.cycle.Unlock()

	tasks, err := p.source.RefreshTasks(ctx, p.windowHours)
	if err != nil {
		return nil, fmt.Errorf("refreshing tasks: %w", err)
	}

	events := p.observe(tasks)
	for _, ev := range events {
		p.invalidateFor(ev.Task)
	}
	p.publish(events)

	return events, nil
}

// Known returns a copy of the last-known-status map.
func (p *Poller) Known() map[string]models.TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]models.TaskStatus, len(p.lastStatus))
	for id, s := range p.lastStatus {
		out[id] = s
	}
	return out
}

// observe diffs a snapshot against the status map and updates it.
func (p *Poller) observe(tasks []models.Task) []CompletionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []CompletionEvent
	for _, t := range tasks {
		prev, seen := p.lastStatus[t.ID]

		if seen && prev.IsTerminal() && !t.Status.IsTerminal() {
			// A terminal task never reverts. Treat it as a reused id and
			// keep the terminal status we already acted on.
			slog.Warn("task reverted from terminal status",
				"task_id", t.ID,
				"task_type", t.Type,
				"previous", prev,
				"observed", t.Status,
			)
			continue
		}

		p.lastStatus[t.ID] = t.Status

		if !seen || prev.IsTerminal() || prev == t.Status {
			continue
		}

		switch t.Status {
		case models.TaskStatusDone:
			events = append(events, CompletionEvent{Task: t, Previous: prev})
		case models.TaskStatusFailed, models.TaskStatusCancelled:
			slog.Info("task ended without completing",
				"task_id", t.ID,
				"task_type", t.Type,
				"status", t.Status,
			)
		}
	}

	p.forget(tasks)
	return events
}

// forget drops ids that fell out of the window. Caller holds p.mu.
func (p *Poller) forget(tasks []models.Task) {
	present := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		present[t.ID] = struct{}{}
	}
	for id := range p.lastStatus {
		if _, ok := present[id]; !ok {
			delete(p.lastStatus, id)
		}
	}
}

func (p *Poller) invalidateFor(t models.Task) {
	for _, c := range t.Type.AffectedCollections() {
		p.cache.Invalidate(cache.CollectionKey(c))
	}
	p.cache.InvalidatePrefix(cache.TasksPrefix())

	slog.Info("task completed",
		"task_id", t.ID,
		"task_type", t.Type,
		"tag", t.Tag,
	)
}

func (p *Poller) publish(events []CompletionEvent) {
	if len(events) == 0 {
		return
	}

	p.mu.Lock()
	subs := append([]func(CompletionEvent){}, p.subscribers...)
	p.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
