package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Resource edits produce no task, so only the collection and the entity are
// invalidated, and only after the gateway accepts the change.

func (o *Orchestrator) UpdateModel(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Model, error) {
	m, err := o.gateway.UpdateModel(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("updating model %s: %w", id, err)
	}
	o.invalidateResource(models.CollectionModels, cache.ModelKey(id))
	return m, nil
}

func (o *Orchestrator) DeleteModel(ctx context.Context, id string) error {
	if err := o.gateway.DeleteModel(ctx, id); err != nil {
		return fmt.Errorf("deleting model %s: %w", id, err)
	}
	o.invalidateResource(models.CollectionModels, cache.ModelKey(id))
	slog.Info("model deleted", "model_id", id)
	return nil
}

func (o *Orchestrator) UpdateDataset(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error) {
	d, err := o.gateway.UpdateDataset(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("updating dataset %s: %w", id, err)
	}
	o.invalidateResource(models.CollectionDatasets, cache.DatasetKey(id))
	return d, nil
}

func (o *Orchestrator) DeleteDataset(ctx context.Context, id string) error {
	if err := o.gateway.DeleteDataset(ctx, id); err != nil {
		return fmt.Errorf("deleting dataset %s: %w", id, err)
	}
	o.invalidateResource(models.CollectionDatasets, cache.DatasetKey(id))
	slog.Info("dataset deleted", "dataset_id", id)
	return nil
}

func (o *Orchestrator) invalidateResource(c models.ResourceCollection, entity cache.Key) {
	o.cache.Invalidate(cache.CollectionKey(c))
	o.cache.Invalidate(entity)
}
