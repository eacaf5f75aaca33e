// Package catalog provides typed, cached views of gateway collections. Every
// read goes through the QueryCache; nothing here writes cache entries directly.
package catalog

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/jobsync/internal/aggregate"
	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Source is the subset of the gateway the catalog reads from.
type Source interface {
	ListTasks(ctx context.Context, q models.TaskQuery) ([]models.Task, error)
	ListModels(ctx context.Context) ([]models.Model, error)
	GetModel(ctx context.Context, id string) (*models.Model, error)
	ListDatasets(ctx context.Context) ([]models.Dataset, error)
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
}

type Catalog struct {
	source Source
	cache  *cache.QueryCache
}

func New(source Source, qc *cache.QueryCache) *Catalog {
	return &Catalog{source: source, cache: qc}
}

// Tasks returns the tasks created or updated within the window, newest first.
func (c *Catalog) Tasks(ctx context.Context, windowHours int) ([]models.Task, error) {
	key := cache.TasksKey(windowHours)
	tasks, err := cache.Read(ctx, c.cache, key, c.windowFetcher(windowHours))
	if err != nil {
		if tasks, err = staleOr[[]models.Task](ctx, c.cache, key, err); err != nil {
			return nil, err
		}
	}
	return aggregate.Merge(tasks), nil
}

// RefreshTasks forces a refetch of the window's task list. Concurrent
// refreshes share a single request.
func (c *Catalog) RefreshTasks(ctx context.Context, windowHours int) ([]models.Task, error) {
	return cache.Reload(ctx, c.cache, cache.TasksKey(windowHours), c.windowFetcher(windowHours))
}

// TasksByQuery returns a filtered task list (by type and/or tag).
func (c *Catalog) TasksByQuery(ctx context.Context, q models.TaskQuery) ([]models.Task, error) {
	key := cache.TaskQueryKey(q.Type, q.Tag)
	tasks, err := cache.Read(ctx, c.cache, key, func(ctx context.Context) ([]models.Task, error) {
		return c.source.ListTasks(ctx, models.TaskQuery{Type: q.Type, Tag: q.Tag})
	})
	if err != nil {
		return staleOr[[]models.Task](ctx, c.cache, key, err)
	}
	return tasks, nil
}

// DatasetHistory lists every task concerning a dataset: training and
// evaluation tasks that reference it, then its own upload and synthesis
// tasks, which merge last and win on duplicate ids.
func (c *Catalog) DatasetHistory(ctx context.Context, datasetID string) ([]models.Task, error) {
	return aggregate.Collect(ctx, c.TasksByQuery,
		models.TaskQuery{Type: models.TaskTypeTraining, Tag: datasetID},
		models.TaskQuery{Type: models.TaskTypeEvaluation, Tag: datasetID},
		models.TaskQuery{Type: models.TaskTypeSynthesis, Tag: datasetID},
		models.TaskQuery{Type: models.TaskTypeDatasetUpload, Tag: datasetID},
	)
}

// ModelHistory lists training and evaluation tasks for a model, with the
// model's own upload tasks merged last.
func (c *Catalog) ModelHistory(ctx context.Context, modelID string) ([]models.Task, error) {
	return aggregate.Collect(ctx, c.TasksByQuery,
		models.TaskQuery{Type: models.TaskTypeEvaluation, Tag: modelID},
		models.TaskQuery{Type: models.TaskTypeTraining, Tag: modelID},
		models.TaskQuery{Type: models.TaskTypeModelUpload, Tag: modelID},
	)
}

func (c *Catalog) Models(ctx context.Context) ([]models.Model, error) {
	out, err := cache.Read(ctx, c.cache, cache.ModelsKey(), c.source.ListModels)
	if err != nil {
		return staleOr[[]models.Model](ctx, c.cache, cache.ModelsKey(), err)
	}
	return out, nil
}

func (c *Catalog) Model(ctx context.Context, id string) (*models.Model, error) {
	return cache.Read(ctx, c.cache, cache.ModelKey(id), func(ctx context.Context) (*models.Model, error) {
		return c.source.GetModel(ctx, id)
	})
}

func (c *Catalog) Datasets(ctx context.Context) ([]models.Dataset, error) {
	out, err := cache.Read(ctx, c.cache, cache.DatasetsKey(), c.source.ListDatasets)
	if err != nil {
		return staleOr[[]models.Dataset](ctx, c.cache, cache.DatasetsKey(), err)
	}
	return out, nil
}

func (c *Catalog) Dataset(ctx context.Context, id string) (*models.Dataset, error) {
	return cache.Read(ctx, c.cache, cache.DatasetKey(id), func(ctx context.Context) (*models.Dataset, error) {
		return c.source.GetDataset(ctx, id)
	})
}

func (c *Catalog) windowFetcher(windowHours int) func(context.Context) ([]models.Task, error) {
	return func(ctx context.Context) ([]models.Task, error) {
		return c.source.ListTasks(ctx, models.TaskQuery{WindowHours: windowHours})
	}
}

// staleOr serves the last cached value when a refetch fails, so a collection
// view never blanks out on a transient gateway error.
func staleOr[T any](ctx context.Context, qc *cache.QueryCache, key cache.Key, err error) (T, error) {
	if v, ok := cache.PeekAs[T](ctx, qc, key); ok {
		slog.Warn("serving stale cache entry", "key", key.String(), "error", err)
		return v, nil
	}
	var zero T
	return zero, err
}
