package runs

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the run table routes.
func SetupRoutes(router chi.Router, tables TableSource, logger *slog.Logger, isDev bool) error {
	handlers := NewHandlers(tables, logger, isDev)

	// Page routes
	router.Get("/", handlers.RedirectHome)
	router.Get("/runs", handlers.RunsPage)

	router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", handlers.Snapshot)
		r.Get("/rows", handlers.Rows)
		r.Get("/columns", handlers.Columns)
		r.Get("/updates", handlers.RunsPageUpdates)
		r.Post("/next", handlers.NextPage)
		r.Post("/refetch", handlers.Refetch)

		r.Get("/filters", handlers.GetFilters)
		r.Put("/filters", handlers.SetFilters)
		r.Patch("/filters/draft", handlers.EditDraft)
		r.Delete("/filters/draft", handlers.DiscardDraft)
		r.Post("/filters/apply", handlers.ApplyDraft)

		r.Post("/selection", handlers.Selection)
		r.Get("/export", handlers.Export)
		r.Post("/delete", handlers.DeleteSelected)
	})

	return nil
}
