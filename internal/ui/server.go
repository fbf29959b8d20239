// Package ui serves the run table in the browser.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/internal/ui/router"
	"github.com/leapstack-labs/runboard/internal/ui/session"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Server is the main UI server.
type Server struct {
	cfg      Config
	sessions *session.Manager
	logger   *slog.Logger
	handler  http.Handler

	settingsMu   sync.Mutex
	settings     Settings
	fileSettings Settings
}

// Config holds configuration for the UI server.
type Config struct {
	API     core.RunsAPI
	Store   *state.SQLiteStore
	Filters *filters.Registry
	Caches  *runtable.Caches

	Port          int
	SessionSecret string

	// Scope of every table.
	ProjectID string
	AppIDs    []string
	Kind      core.EvaluationKind

	PageSize     int
	PollInterval time.Duration
	IdleTimeout  time.Duration

	// ConfigFile, when set, is watched while serving. Changes to its page
	// size or poll interval apply to tables mounted afterwards.
	ConfigFile string

	Dev    bool
	Logger *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) (*Server, error) {
	if cfg.API == nil {
		return nil, errors.New("ui: API is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("ui: state store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewRegistry(cfg.Store, cfg.Logger)
	}
	if cfg.Caches == nil {
		cfg.Caches = runtable.NewCaches(0)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = session.DefaultIdleTimeout
	}

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		settings: Settings{PageSize: cfg.PageSize, PollInterval: cfg.PollInterval},
	}
	if cfg.ConfigFile != "" {
		abs, err := filepath.Abs(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		s.cfg.ConfigFile = abs
		// Later edits are compared against what the file says now.
		if fs, err := s.loadFileSettings(); err == nil {
			s.fileSettings = fs
		}
	}
	s.sessions = session.NewManager(session.Config{
		Cookies:     sessionStore,
		Store:       cfg.Store,
		NewTable:    s.mountTable,
		ProjectID:   cfg.ProjectID,
		AppIDs:      cfg.AppIDs,
		Kind:        cfg.Kind,
		IdleTimeout: cfg.IdleTimeout,
		Logger:      cfg.Logger,
	})

	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		requestLogger(cfg.Logger),
		middleware.Recoverer,
		middleware.Compress(5),
	)
	if err := router.SetupRoutes(r, s.sessions, cfg.Logger, cfg.Dev); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	s.handler = r
	return s, nil
}

func (s *Server) mountTable(ctx context.Context, sess *state.Session) (*runtable.Table, error) {
	settings := s.Settings()
	return runtable.New(ctx, runtable.Config{
		API:          s.cfg.API,
		ProjectID:    sess.ProjectID,
		AppIDs:       sess.AppIDs,
		Kind:         sess.Kind,
		PageSize:     settings.PageSize,
		PollInterval: settings.PollInterval,
		Filters:      s.cfg.Filters,
		Caches:       s.cfg.Caches,
		Logger:       s.logger.With(slog.String("session", sess.ID)),
	})
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Serve starts the UI server and blocks until the context is cancelled.
// Every mounted table is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer s.sessions.Close()

	s.logger.Info("starting UI server", slog.String("addr", "http://"+ln.Addr().String()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Start config watcher if a config file is known
	if s.cfg.ConfigFile != "" {
		eg.Go(func() error {
			return s.watchConfig(egctx)
		})
	}

	// Idle tables are unmounted a few times per idle timeout.
	eg.Go(func() error {
		return s.sessions.Run(egctx, max(s.cfg.IdleTimeout/4, time.Second))
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down UI server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// requestLogger logs every request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
