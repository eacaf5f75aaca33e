package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// writeError maps domain and gateway errors onto the response envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *gateway.RejectedError

	switch {
	case errors.Is(err, models.ErrInvalidJobRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, gateway.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	case errors.As(err, &rejected):
		response.Error(w, http.StatusUnprocessableEntity, "GATEWAY_REJECTED", rejected.Message,
			map[string]int{"gateway_status": rejected.StatusCode})
	case errors.Is(err, gateway.ErrGatewayTimeout):
		response.Error(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", "The job gateway did not respond in time", nil)
	case errors.Is(err, gateway.ErrGatewayUnreachable):
		response.Error(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "The job gateway is not reachable", nil)
	case errors.Is(err, gateway.ErrGatewayError):
		response.Error(w, http.StatusBadGateway, "GATEWAY_ERROR", "The job gateway returned an error", nil)
	default:
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// parseTaskType accepts both the task_type form ("dataset_upload") and the
// gateway path form ("dataset-upload").
func parseTaskType(s string) (models.TaskType, bool) {
	if t := models.TaskType(s); t.Valid() {
		return t, true
	}
	return gateway.KindFromSegment(s)
}
