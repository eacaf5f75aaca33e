// Package failure resolves the diagnostic message of failed tasks on demand.
package failure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/jobsync/pkg/models"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFallback = "Failure details are unavailable."
	DefaultTimeout  = 5 * time.Second
)

// StatusLookup fetches the detailed status of one task.
type StatusLookup interface {
	TaskStatus(ctx context.Context, taskType models.TaskType, id string) (*models.TaskStatusDetail, error)
}

// Resolver looks up failure details at most once per task and remembers the
// answer for its lifetime. Resolve never returns an error: any lookup
// failure resolves to the fallback message.
type Resolver struct {
	lookup   StatusLookup
	fallback string
	timeout  time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	resolved map[string]string
}

type Option func(*Resolver)

func WithFallback(msg string) Option {
	return func(r *Resolver) { r.fallback = msg }
}

// WithTimeout bounds a single lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

func NewResolver(lookup StatusLookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:   lookup,
		fallback: DefaultFallback,
		timeout:  DefaultTimeout,
		resolved: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the failure message for a failed task. Other statuses
// resolve to "" without a lookup.
func (r *Resolver) Resolve(ctx context.Context, task models.Task) string {
	if task.Status != models.TaskStatusFailed {
		return ""
	}
	if msg, ok := r.Cached(task.ID); ok {
		return msg
	}

	v, _, _ := r.group.Do(task.ID, func() (any, error) {
		if msg, ok := r.Cached(task.ID); ok {
			return msg, nil
		}
		msg := r.fetch(ctx, task)

		r.mu.Lock()
		r.resolved[task.ID] = msg
		r.mu.Unlock()
		return msg, nil
	})
	return v.(string)
}

// Cached returns a resolved message without looking anything up.
func (r *Resolver) Cached(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.resolved[id]
	return msg, ok
}

func (r *Resolver) fetch(ctx context.Context, task models.Task) (msg string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("failure lookup panicked", "task_id", task.ID, "panic", fmt.Sprint(rec))
			msg = r.fallback
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	detail, err := r.lookup.TaskStatus(ctx, task.Type, task.ID)
	if err != nil {
		slog.Warn("failure lookup failed", "task_id", task.ID, "task_type", task.Type, "error", err)
		return r.fallback
	}

	switch {
	case detail != nil && detail.ErrorMsg != "":
		return detail.ErrorMsg
	case task.ErrorMsg != "":
		return task.ErrorMsg
	}
	return r.fallback
}
