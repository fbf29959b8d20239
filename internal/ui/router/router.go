// Package router sets up HTTP routes for the UI server.
package router

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	runsFeature "github.com/leapstack-labs/runboard/internal/ui/features/runs"
	"github.com/leapstack-labs/runboard/internal/ui/resources"
	"github.com/leapstack-labs/runboard/internal/ui/session"
)

// SetupRoutes configures all routes for the UI server. Feature routes run
// behind the session middleware so each browser gets its own table.
func SetupRoutes(router chi.Router, sessions *session.Manager, logger *slog.Logger, isDev bool) error {
	// Hot reload endpoint for dev mode
	if isDev {
		setupReload(router)
	}

	// Static assets
	router.Handle("/static/*", resources.Handler())

	var err error
	router.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)
		err = runsFeature.SetupRoutes(r, sessions, logger, isDev)
	})
	return err
}

func setupReload(router chi.Router) {
	reloadChan := make(chan struct{}, 1)
	var hotReloadOnce sync.Once

	router.Get("/reload", func(w http.ResponseWriter, r *http.Request) {
		sse := datastar.NewSSE(w, r)
		reload := func() { _ = sse.ExecuteScript("window.location.reload()") }
		hotReloadOnce.Do(reload)
		select {
		case <-reloadChan:
			reload()
		case <-r.Context().Done():
		}
	})

	router.Get("/hotreload", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case reloadChan <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
