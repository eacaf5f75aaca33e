// Package mutation submits jobs and resource edits to the gateway and keeps
// the query cache coherent around them.
package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Gateway is the subset of the remote job gateway that mutates state.
type Gateway interface {
	SubmitJob(ctx context.Context, req models.JobRequest) (string, error)
	UpdateModel(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Model, error)
	DeleteModel(ctx context.Context, id string) error
	UpdateDataset(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
}

// Invalidator marks cache keys stale.
type Invalidator interface {
	Invalidate(key cache.Key)
	InvalidatePrefix(prefix cache.Key)
}

// Orchestrator runs every job-producing mutation through the same three
// phases: invalidate the task lists, submit, and on success invalidate the
// affected collections and the task lists again.
type Orchestrator struct {
	gateway Gateway
	cache   Invalidator
}

func New(gw Gateway, inv Invalidator) *Orchestrator {
	return &Orchestrator{gateway: gw, cache: inv}
}

// Submit validates req and enqueues it. The task lists are marked stale
// before the request leaves so the queued row appears on the next read.
func (o *Orchestrator) Submit(ctx context.Context, req models.JobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	o.cache.InvalidatePrefix(cache.TasksPrefix())

	taskID, err := o.gateway.SubmitJob(ctx, req)
	if err != nil {
		slog.Warn("job submission failed", "task_type", req.Type, "error", err)
		return "", fmt.Errorf("submitting %s job: %w", req.Type, err)
	}

	for _, c := range req.Type.AffectedCollections() {
		o.cache.Invalidate(cache.CollectionKey(c))
	}
	o.cache.InvalidatePrefix(cache.TasksPrefix())

	slog.Info("job submitted", "task_id", taskID, "task_type", req.Type)
	return taskID, nil
}

func (o *Orchestrator) Train(ctx context.Context, p models.TrainingParams) (string, error) {
	return o.Submit(ctx, models.JobRequest{Type: models.TaskTypeTraining, Params: p})
}

func (o *Orchestrator) Evaluate(ctx context.Context, p models.EvaluationParams) (string, error) {
	return o.Submit(ctx, models.JobRequest{Type: models.TaskTypeEvaluation, Params: p})
}

func (o *Orchestrator) Synthesize(ctx context.Context, p models.SynthesisParams) (string, error) {
	return o.Submit(ctx, models.JobRequest{Type: models.TaskTypeSynthesis, Params: p})
}

func (o *Orchestrator) UploadModel(ctx context.Context, p models.ModelUploadParams) (string, error) {
	return o.Submit(ctx, models.JobRequest{Type: models.TaskTypeModelUpload, Params: p})
}

func (o *Orchestrator) UploadDataset(ctx context.Context, p models.DatasetUploadParams) (string, error) {
	return o.Submit(ctx, models.JobRequest{Type: models.TaskTypeDatasetUpload, Params: p})
}
