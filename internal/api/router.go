package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/jobsync/internal/api/middleware"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	ListTasks      http.HandlerFunc
	FailureHandler http.HandlerFunc
	SubmitJob      http.HandlerFunc

	ListModels    http.HandlerFunc
	GetModel      http.HandlerFunc
	UpdateModel   http.HandlerFunc
	DeleteModel   http.HandlerFunc
	ModelTasks    http.HandlerFunc
	ListDatasets  http.HandlerFunc
	GetDataset    http.HandlerFunc
	UpdateDataset http.HandlerFunc
	DeleteDataset http.HandlerFunc
	DatasetTasks  http.HandlerFunc

	CreateUpload   http.HandlerFunc
	GetUpload      http.HandlerFunc
	AddUploadFiles http.HandlerFunc
	RemoveUpload   http.HandlerFunc
	RetryUpload    http.HandlerFunc
	FinalizeUpload http.HandlerFunc
	DiscardUpload  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
// Reads are served from the cache and are not rate limited; anything that
// reaches the gateway with a mutation is.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		r.Get("/tasks", orNotImplemented(deps.ListTasks))
		r.Get("/tasks/{taskType}/{taskID}/failure", orNotImplemented(deps.FailureHandler))

		r.Get("/models", orNotImplemented(deps.ListModels))
		r.Get("/models/{id}", orNotImplemented(deps.GetModel))
		r.Get("/models/{id}/tasks", orNotImplemented(deps.ModelTasks))
		r.Get("/datasets", orNotImplemented(deps.ListDatasets))
		r.Get("/datasets/{id}", orNotImplemented(deps.GetDataset))
		r.Get("/datasets/{id}/tasks", orNotImplemented(deps.DatasetTasks))

		r.Get("/uploads/{sessionID}", orNotImplemented(deps.GetUpload))

		// Mutations
		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/jobs/{kind}", orNotImplemented(deps.SubmitJob))

			r.Put("/models/{id}", orNotImplemented(deps.UpdateModel))
			r.Delete("/models/{id}", orNotImplemented(deps.DeleteModel))
			r.Put("/datasets/{id}", orNotImplemented(deps.UpdateDataset))
			r.Delete("/datasets/{id}", orNotImplemented(deps.DeleteDataset))

			r.Post("/uploads", orNotImplemented(deps.CreateUpload))
			r.Delete("/uploads/{sessionID}", orNotImplemented(deps.DiscardUpload))
			r.Post("/uploads/{sessionID}/files", orNotImplemented(deps.AddUploadFiles))
			r.Delete("/uploads/{sessionID}/files/{entryID}", orNotImplemented(deps.RemoveUpload))
			r.Post("/uploads/{sessionID}/files/{entryID}/retry", orNotImplemented(deps.RetryUpload))
			r.Post("/uploads/{sessionID}/finalize", orNotImplemented(deps.FinalizeUpload))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
