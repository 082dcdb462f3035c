package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the UI API on the given chi router. events serves the
// WebSocket endpoint; it may be nil.
func MountRoutes(r chi.Router, h *Handlers, events http.HandlerFunc) {
	r.Get("/health", h.Health)
	if events != nil {
		r.Get("/ws", events)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.UpdatePreferences)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/", h.OpenRepository)
			r.Delete("/", h.DetachRepository)
			r.Post("/refresh", h.Refresh)

			// Working copy
			r.Get("/files", h.ListFiles)
			r.Get("/diff", h.GetDiff)
			r.Put("/selection", h.SelectFile)
			r.Get("/status", h.GetStatus)

			// Branches
			r.Get("/branches", h.ListBranches)
			r.Post("/branches", h.CreateBranch)
			r.Post("/branches/checkout", h.CheckoutBranch)
			r.Put("/branches/source", h.SetSourceBranch)

			// Actions
			r.Post("/pull", h.Pull)
			r.Post("/push", h.Push)
			r.Post("/rollback", h.Rollback)
			r.Get("/actions", h.GetActions)
			r.Get("/log", h.GetLog)
			r.Get("/journal", h.ListJournal)
		})
	})
}

// Version is reported by /api/v1 and /health; set at build time.
var Version = "dev"

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	repo := h.Session.Repository()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    Version,
		"session":    h.Session.ID(),
		"repository": repo.Key(),
		"journal":    h.Journal != nil,
	})
}
