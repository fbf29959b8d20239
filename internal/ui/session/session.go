// Package session binds browser sessions to run tables. Each cookie session
// is persisted as a table session and owns one mounted runtable.Table.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/pkg/core"
)

const (
	cookieName = "runboard"
	idKey      = "sid"
)

// DefaultIdleTimeout is how long an unused table stays mounted.
const DefaultIdleTimeout = 30 * time.Minute

// Store persists table sessions.
type Store interface {
	CreateSession(ctx context.Context, projectID string, appIDs []string, kind core.EvaluationKind) (*state.Session, error)
	GetSession(ctx context.Context, id string) (*state.Session, error)
	TouchSession(ctx context.Context, id string) error
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
}

// TableFactory mounts the table of a session.
type TableFactory func(ctx context.Context, s *state.Session) (*runtable.Table, error)

// Config configures a Manager.
type Config struct {
	Cookies  sessions.Store
	Store    Store
	NewTable TableFactory

	// Scope of new sessions.
	ProjectID string
	AppIDs    []string
	Kind      core.EvaluationKind

	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type entry struct {
	table    *runtable.Table
	lastUsed time.Time
}

// Manager owns the tables of every live session.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tables map[string]*entry
	closed bool
}

// ErrNoSession is returned when a request did not pass through Middleware.
var ErrNoSession = errors.New("request has no table session")

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Kind == "" {
		cfg.Kind = core.KindAuto
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		tables: make(map[string]*entry),
	}
}

type ctxKey struct{}

// FromContext returns the table session of a request.
func FromContext(ctx context.Context) (*state.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*state.Session)
	return s, ok
}

// Middleware resolves the table session of the request, creating one (and
// its cookie) when the browser has none or it expired.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		// A cookie that fails to decode still yields a usable empty session.
		cs, _ := m.cfg.Cookies.Get(r, cookieName)

		var sess *state.Session
		if id, _ := cs.Values[idKey].(string); id != "" {
			s, err := m.cfg.Store.GetSession(ctx, id)
			switch {
			case err == nil:
				sess = s
				if err := m.cfg.Store.TouchSession(ctx, id); err != nil {
					m.logger.Debug("touch session failed", slog.String("session", id), slog.Any("error", err))
				}
			case !errors.Is(err, state.ErrSessionNotFound):
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		if sess == nil {
			s, err := m.cfg.Store.CreateSession(ctx, m.cfg.ProjectID, m.cfg.AppIDs, m.cfg.Kind)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			sess = s
			cs.Values[idKey] = s.ID
			if err := cs.Save(r, w); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			m.logger.Debug("table session created", slog.String("session", s.ID))
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, sess)))
	})
}

// Table returns the table of the request's session, mounting it on first use.
func (m *Manager) Table(r *http.Request) (*runtable.Table, error) {
	sess, ok := FromContext(r.Context())
	if !ok {
		return nil, ErrNoSession
	}
	return m.TableFor(r.Context(), sess)
}

// TableFor returns the table of sess, mounting it on first use.
func (m *Manager) TableFor(ctx context.Context, sess *state.Session) (*runtable.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, runtable.ErrClosed
	}
	if e, ok := m.tables[sess.ID]; ok {
		e.lastUsed = m.now()
		return e.table, nil
	}
	// Detached so the table outlives the request that mounted it.
	t, err := m.cfg.NewTable(context.WithoutCancel(ctx), sess)
	if err != nil {
		return nil, fmt.Errorf("mount table: %w", err)
	}
	m.tables[sess.ID] = &entry{table: t, lastUsed: m.now()}
	return t, nil
}

// Len returns the number of mounted tables.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

// Prune unmounts tables idle for longer than the idle timeout and deletes
// their stored sessions. It returns the number of tables unmounted.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*runtable.Table
	for id, e := range m.tables {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.table)
			delete(m.tables, id)
		}
	}
	m.mu.Unlock()

	for _, t := range idle {
		t.Close()
	}
	if _, err := m.cfg.Store.PruneSessions(ctx, cutoff); err != nil {
		return len(idle), err
	}
	if len(idle) > 0 {
		m.logger.Debug("idle tables unmounted", slog.Int("count", len(idle)))
	}
	return len(idle), nil
}

// Run prunes idle tables every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Prune(ctx); err != nil {
				m.logger.Warn("prune sessions failed", slog.Any("error", err))
			}
		}
	}
}

// Close unmounts every table. Later Table calls fail with runtable.ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	tables := m.tables
	m.tables = map[string]*entry{}
	m.closed = true
	m.mu.Unlock()
	for _, e := range tables {
		e.table.Close()
	}
}
