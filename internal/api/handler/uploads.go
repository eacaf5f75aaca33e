package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
	"github.com/kiranshivaraju/jobsync/internal/upload"
)

const (
	maxUploadBytes      = 256 << 20
	multipartMemoryHint = 32 << 20
)

// SessionStore holds the open upload sessions.
type SessionStore interface {
	Create(ctx context.Context, target upload.Target, files ...gateway.File) (*upload.Session, error)
	Get(id string) (*upload.Session, error)
	Discard(id string) error
}

// Uploads handles the /uploads routes. Files are buffered in memory, sent to
// the gateway in the background, and finalized into an upload job.
type Uploads struct {
	sessions SessionStore
	jobs     JobSubmitter
}

func NewUploads(sessions SessionStore, jobs JobSubmitter) *Uploads {
	return &Uploads{sessions: sessions, jobs: jobs}
}

type sessionResponse struct {
	ID        string         `json:"id"`
	Target    upload.Target  `json:"target"`
	Entries   []upload.Entry `json:"entries"`
	Ready     bool           `json:"ready"`
	CreatedAt time.Time      `json:"created_at"`
}

func sessionView(s *upload.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Target:    s.Target,
		Entries:   s.Entries(),
		Ready:     s.Ready(),
		CreatedAt: s.CreatedAt,
	}
}

// Create handles POST /api/v1/uploads. The multipart form carries task_type,
// name, description, base_model and one or more "files" parts.
func (h *Uploads) Create(w http.ResponseWriter, r *http.Request) {
	files, ok := readFiles(w, r)
	if !ok {
		return
	}

	taskType, _ := parseTaskType(r.FormValue("task_type"))
	target := upload.Target{
		Type:        taskType,
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		BaseModel:   r.FormValue("base_model"),
	}

	s, err := h.sessions.Create(r.Context(), target, files...)
	if err != nil {
		if errors.Is(err, upload.ErrInvalidTarget) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		writeError(w, r, err)
		return
	}
	response.Created(w, sessionView(s))
}

// Get handles GET /api/v1/uploads/{sessionID}.
func (h *Uploads) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	response.JSON(w, sessionView(s))
}

// AddFiles handles POST /api/v1/uploads/{sessionID}/files.
func (h *Uploads) AddFiles(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	files, ok := readFiles(w, r)
	if !ok {
		return
	}
	added, err := s.Add(r.Context(), files...)
	if errors.Is(err, upload.ErrSealed) {
		response.Error(w, http.StatusConflict, "UPLOAD_FINALIZING", "The batch is being finalized", nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, added)
}

// RemoveFile handles DELETE /api/v1/uploads/{sessionID}/files/{entryID}.
func (h *Uploads) RemoveFile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Remove(chi.URLParam(r, "entryID")); err != nil {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Upload entry not found", nil)
		return
	}
	response.NoContent(w)
}

// RetryFile handles POST /api/v1/uploads/{sessionID}/files/{entryID}/retry.
func (h *Uploads) RetryFile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	entry, err := s.Retry(r.Context(), chi.URLParam(r, "entryID"))
	switch {
	case errors.Is(err, upload.ErrEntryNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Upload entry not found", nil)
	case errors.Is(err, upload.ErrNotRetryable):
		response.Error(w, http.StatusConflict, "NOT_RETRYABLE", "Only failed uploads can be retried", nil)
	case err != nil:
		writeError(w, r, err)
	default:
		response.Created(w, entry)
	}
}

// Finalize handles POST /api/v1/uploads/{sessionID}/finalize. It submits the
// upload job once every file is on the server and closes the session.
func (h *Uploads) Finalize(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	req, err := s.Finalize()
	switch {
	case errors.Is(err, upload.ErrNotReady):
		response.Error(w, http.StatusConflict, "UPLOAD_NOT_READY",
			"Every file must finish uploading before the batch can be finalized", sessionView(s))
		return
	case errors.Is(err, upload.ErrSealed):
		response.Error(w, http.StatusConflict, "UPLOAD_FINALIZING", "The batch is being finalized", nil)
		return
	case err != nil:
		writeError(w, r, err)
		return
	}

	taskID, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		s.Reopen()
		writeError(w, r, err)
		return
	}
	_ = h.sessions.Discard(s.ID)

	response.Accepted(w, map[string]string{
		"task_id":   taskID,
		"task_type": string(req.Type),
	})
}

// Discard handles DELETE /api/v1/uploads/{sessionID}.
func (h *Uploads) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Discard(chi.URLParam(r, "sessionID")); err != nil {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Upload session not found", nil)
		return
	}
	response.NoContent(w)
}

func (h *Uploads) session(w http.ResponseWriter, r *http.Request) (*upload.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Upload session not found", nil)
		return nil, false
	}
	return s, true
}

// readFiles buffers every "files" part. The request's temporary files are
// gone once the handler returns, and uploads outlive the request.
func readFiles(w http.ResponseWriter, r *http.Request) ([]gateway.File, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryHint); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart body", nil)
		return nil, false
	}
	headers := r.MultipartForm.File["files"]
	files := make([]gateway.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return nil, false
		}
		files = append(files, gateway.File{
			Name: fh.Filename,
			Size: int64(len(data)),
			Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		})
	}
	return files, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// compile-time check
var _ SessionStore = (*upload.Registry)(nil)
