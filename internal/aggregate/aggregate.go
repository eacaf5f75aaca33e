// Package aggregate combines independently fetched task lists into one view.
package aggregate

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Merge combines task lists into one collection with unique ids, sorted by
// CreatedAt descending. When an id appears in several sources, the task from
// the source merged last wins, so callers pass the most authoritative source
// last. Inputs are not modified.
func Merge(sources ...[]models.Task) []models.Task {
	index := make(map[string]int)
	var out []models.Task

	for _, src := range sources {
		for _, t := range src {
			if i, ok := index[t.ID]; ok {
				out[i] = t
				continue
			}
			index[t.ID] = len(out)
			out = append(out, t)
		}
	}

	slices.SortStableFunc(out, func(a, b models.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if out == nil {
		return []models.Task{}
	}
	return out
}

// Filter narrows a task view. Empty fields match everything.
type Filter struct {
	Types    []models.TaskType
	Statuses []models.TaskStatus
	Tag      string
}

// Apply returns the tasks that match f, preserving order.
func (f Filter) Apply(tasks []models.Task) []models.Task {
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

func (f Filter) Matches(t models.Task) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.Tag != "" && t.Tag != f.Tag {
		return false
	}
	return true
}

// FetchFunc loads one task list.
type FetchFunc func(ctx context.Context, q models.TaskQuery) ([]models.Task, error)

// Collect runs every query concurrently and merges the results in query
// order, so the last query is the most authoritative. Any failing query fails
// the whole collection.
func Collect(ctx context.Context, fetch FetchFunc, queries ...models.TaskQuery) ([]models.Task, error) {
	results := make([][]models.Task, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			tasks, err := fetch(gctx, q)
			if err != nil {
				return err
			}
			results[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(results...), nil
}
