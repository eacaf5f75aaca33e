package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// FailureResolver resolves failure messages and never fails itself.
type FailureResolver interface {
	Resolve(ctx context.Context, task models.Task) string
}

type failureResponse struct {
	TaskID   string            `json:"task_id"`
	TaskType models.TaskType   `json:"task_type"`
	Status   models.TaskStatus `json:"task_status"`
	ErrorMsg string            `json:"error_msg"`
}

// NewFailureHandler returns an http.HandlerFunc for
// GET /api/v1/tasks/{taskType}/{taskID}/failure.
//
// The task is looked up in the cached window so its status and list-level
// error message are known. A task outside the window is assumed failed,
// since that is the only status a caller asks this for.
func NewFailureHandler(tasks TaskLister, resolver FailureResolver, windowHours int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskType, ok := parseTaskType(chi.URLParam(r, "taskType"))
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown task type", nil)
			return
		}
		task := models.Task{
			ID:     chi.URLParam(r, "taskID"),
			Type:   taskType,
			Status: models.TaskStatusFailed,
		}

		if list, err := tasks.Tasks(r.Context(), windowHours); err == nil {
			for _, t := range list {
				if t.ID == task.ID && t.Type == task.Type {
					task = t
					break
				}
			}
		}

		response.JSON(w, failureResponse{
			TaskID:   task.ID,
			TaskType: task.Type,
			Status:   task.Status,
			ErrorMsg: resolver.Resolve(r.Context(), task),
		})
	}
}
