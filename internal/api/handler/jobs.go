package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

const maxJobBodyBytes = 1 << 20

// JobSubmitter enqueues a job through the invalidation protocol.
type JobSubmitter interface {
	Submit(ctx context.Context, req models.JobRequest) (string, error)
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{kind}.
func NewSubmitJobHandler(jobs JobSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskType, ok := parseTaskType(chi.URLParam(r, "kind"))
		if !ok {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "unknown job kind", nil)
			return
		}

		params, err := decodeParams(taskType, io.LimitReader(r.Body, maxJobBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		taskID, err := jobs.Submit(r.Context(), models.JobRequest{Type: taskType, Params: params})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, map[string]string{
			"task_id":   taskID,
			"task_type": string(taskType),
		})
	}
}

// decodeParams decodes the body into the params type for t.
func decodeParams(t models.TaskType, body io.Reader) (any, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	switch t {
	case models.TaskTypeTraining:
		var p models.TrainingParams
		err := dec.Decode(&p)
		return p, err
	case models.TaskTypeEvaluation:
		var p models.EvaluationParams
		err := dec.Decode(&p)
		return p, err
	case models.TaskTypeSynthesis:
		var p models.SynthesisParams
		err := dec.Decode(&p)
		return p, err
	case models.TaskTypeModelUpload:
		var p models.ModelUploadParams
		err := dec.Decode(&p)
		return p, err
	case models.TaskTypeDatasetUpload:
		var p models.DatasetUploadParams
		err := dec.Decode(&p)
		return p, err
	}
	return nil, fmt.Errorf("no params for task type %q", t)
}
