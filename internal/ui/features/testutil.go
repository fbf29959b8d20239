// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/internal/ui/session"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// TestProjectID is the project every fixture table is scoped to.
const TestProjectID = "p1"

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	API          *testutil.FakeAPI
	Store        *state.SQLiteStore
	Filters      *filters.Registry
	Sessions     *session.Manager
	SessionStore *sessions.CookieStore

	t *testing.T
}

// SetupTestFixture creates a fake backend serving runs, a migrated state
// store in a temp dir and a session manager mounting tables over both.
func SetupTestFixture(t *testing.T, runs ...core.APIRun) *TestFixture {
	t.Helper()

	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	f := &TestFixture{
		API:          testutil.NewFakeAPI(runs...),
		Store:        store,
		Filters:      filters.NewRegistry(store, nil),
		SessionStore: NewTestSessionStore(),
		t:            t,
	}
	f.Sessions = session.NewManager(session.Config{
		Cookies:   f.SessionStore,
		Store:     store,
		NewTable:  f.mount,
		ProjectID: TestProjectID,
		Kind:      core.KindAuto,
	})
	t.Cleanup(f.Sessions.Close)
	return f
}

func (f *TestFixture) mount(ctx context.Context, s *state.Session) (*runtable.Table, error) {
	return runtable.New(ctx, runtable.Config{
		API:          f.API,
		ProjectID:    s.ProjectID,
		AppIDs:       s.AppIDs,
		Kind:         s.Kind,
		PageSize:     3,
		PollInterval: 10 * time.Millisecond,
		Filters:      f.Filters,
	})
}

// NewTable mounts a table outside any session. It is closed on cleanup.
func (f *TestFixture) NewTable() *runtable.Table {
	f.t.Helper()
	tbl, err := f.mount(context.Background(), &state.Session{ProjectID: TestProjectID, Kind: core.KindAuto})
	require.NoError(f.t, err)
	f.t.Cleanup(tbl.Close)
	return tbl
}

// StaticTables serves the same table, or error, to every request.
type StaticTables struct {
	T   *runtable.Table
	Err error
}

// Table implements the table source of the feature handlers.
func (s StaticTables) Table(*http.Request) (*runtable.Table, error) {
	return s.T, s.Err
}

// PlainRuns returns n runs r1..rn with the given status.
func PlainRuns(n int, status core.RunStatus) []core.APIRun {
	runs := make([]core.APIRun, n)
	for i := range runs {
		runs[i] = core.APIRun{ID: fmt.Sprintf("r%d", i+1), Name: fmt.Sprintf("Run %d", i+1), Status: status}
	}
	return runs
}

// NewTestSessionStore creates a session store for testing.
func NewTestSessionStore() *sessions.CookieStore {
	return sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!"))
}
