package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/jobsync/internal/aggregate"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/pkg/models"
)

const (
	maxWindowHours   = 24 * 30
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// TaskLister reads the cached task list for a recency window.
type TaskLister interface {
	Tasks(ctx context.Context, windowHours int) ([]models.Task, error)
}

// NewListTasksHandler returns an http.HandlerFunc for GET /api/v1/tasks.
// Query: window_hours, type (repeatable), status (repeatable), tag, page, limit.
func NewListTasksHandler(tasks TaskLister, defaultWindow int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		window := defaultWindow
		if v := q.Get("window_hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxWindowHours {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"window_hours must be an integer between 1 and 720", nil)
				return
			}
			window = n
		}

		filter := aggregate.Filter{Tag: q.Get("tag")}
		for _, v := range q["type"] {
			t, ok := parseTaskType(v)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown task type: "+v, nil)
				return
			}
			filter.Types = append(filter.Types, t)
		}
		for _, v := range q["status"] {
			s := models.TaskStatus(v)
			if !s.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown task status: "+v, nil)
				return
			}
			filter.Statuses = append(filter.Statuses, s)
		}

		page, limit, ok := parsePage(w, q.Get("page"), q.Get("limit"))
		if !ok {
			return
		}

		all, err := tasks.Tasks(r.Context(), window)
		if err != nil {
			writeError(w, r, err)
			return
		}

		items, meta := response.Paginate(filter.Apply(all), page, limit)
		response.Collection(w, items, meta)
	}
}

func parsePage(w http.ResponseWriter, pageStr, limitStr string) (page, limit int, ok bool) {
	page, limit = 1, defaultPageLimit

	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return 0, 0, false
		}
		page = n
	}
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return 0, 0, false
		}
		limit = min(n, maxPageLimit)
	}
	return page, limit, true
}
