package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// ResourceReader serves cached models, datasets and their task history.
type ResourceReader interface {
	Models(ctx context.Context) ([]models.Model, error)
	Model(ctx context.Context, id string) (*models.Model, error)
	ModelHistory(ctx context.Context, modelID string) ([]models.Task, error)
	Datasets(ctx context.Context) ([]models.Dataset, error)
	Dataset(ctx context.Context, id string) (*models.Dataset, error)
	DatasetHistory(ctx context.Context, datasetID string) ([]models.Task, error)
}

// ResourceWriter edits models and datasets and invalidates their cache keys.
type ResourceWriter interface {
	UpdateModel(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Model, error)
	DeleteModel(ctx context.Context, id string) error
	UpdateDataset(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
}

// Resources handles the /models and /datasets routes.
type Resources struct {
	reader ResourceReader
	writer ResourceWriter
}

func NewResources(reader ResourceReader, writer ResourceWriter) *Resources {
	return &Resources{reader: reader, writer: writer}
}

func (h *Resources) ListModels(w http.ResponseWriter, r *http.Request) {
	out, err := h.reader.Models(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, nonNil(out))
}

func (h *Resources) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.reader.Model(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, m)
}

func (h *Resources) UpdateModel(w http.ResponseWriter, r *http.Request) {
	upd, ok := decodeUpdate(w, r)
	if !ok {
		return
	}
	m, err := h.writer.UpdateModel(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, m)
}

func (h *Resources) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.writer.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Resources) ModelTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.reader.ModelHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, tasks)
}

func (h *Resources) ListDatasets(w http.ResponseWriter, r *http.Request) {
	out, err := h.reader.Datasets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, nonNil(out))
}

func (h *Resources) GetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := h.reader.Dataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, d)
}

func (h *Resources) UpdateDataset(w http.ResponseWriter, r *http.Request) {
	upd, ok := decodeUpdate(w, r)
	if !ok {
		return
	}
	d, err := h.writer.UpdateDataset(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, d)
}

func (h *Resources) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := h.writer.DeleteDataset(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Resources) DatasetTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.reader.DatasetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, tasks)
}

func decodeUpdate(w http.ResponseWriter, r *http.Request) (models.ResourceUpdate, bool) {
	var upd models.ResourceUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJobBodyBytes)).Decode(&upd); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return upd, false
	}
	if upd.Name == nil && upd.Description == nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name or description is required", nil)
		return upd, false
	}
	if upd.Name != nil && *upd.Name == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name must not be empty", nil)
		return upd, false
	}
	return upd, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
