package httpx

import "net/http"

// NewServeMux builds the API router.
func NewServeMux(h *MigrationHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("HEAD /health", healthHandler)

	mux.HandleFunc("POST /api/migrations", h.SubmitUpload)
	mux.HandleFunc("GET /api/migrations", h.ListJobs)
	mux.HandleFunc("GET /api/migrations/stats", h.Stats)
	mux.HandleFunc("GET /api/migrations/{id}", h.GetJob)
	mux.HandleFunc("GET /api/migrations/{id}/progress", h.GetProgress)
	mux.HandleFunc("GET /api/migrations/{id}/errors", h.ListErrors)
	mux.HandleFunc("POST /api/migrations/{id}/cancel", h.Cancel)

	return mux
}
