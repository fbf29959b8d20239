package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/pkg/core"
)

func newTestManager(t *testing.T) (*Manager, *state.SQLiteStore, *int) {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	api := testutil.NewFakeAPI()
	mounted := 0
	m := NewManager(Config{
		Cookies: sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!")),
		Store:   store,
		NewTable: func(ctx context.Context, s *state.Session) (*runtable.Table, error) {
			mounted++
			return runtable.New(ctx, runtable.Config{
				API:       api,
				ProjectID: s.ProjectID,
				AppIDs:    s.AppIDs,
				Kind:      s.Kind,
			})
		},
		ProjectID:   "proj-1",
		Kind:        core.KindHuman,
		IdleTimeout: time.Minute,
	})
	t.Cleanup(m.Close)
	return m, store, &mounted
}

// serve runs one request through the middleware and returns the response and
// the session the handler saw.
func serve(t *testing.T, m *Manager, cookies []*http.Cookie) (*httptest.ResponseRecorder, *state.Session, *runtable.Table) {
	t.Helper()
	var (
		seen  *state.Session
		table *runtable.Table
	)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		var err error
		table, err = m.Table(r)
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen, table
}

func TestMiddleware_CreatesAndReusesSession(t *testing.T) {
	m, store, mounted := newTestManager(t)

	rec, first, t1 := serve(t, m, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, first)
	assert.Equal(t, "proj-1", first.ProjectID)
	assert.Equal(t, core.KindHuman, first.Kind)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies, "new session sets a cookie")

	_, second, t2 := serve(t, m, cookies)
	assert.Equal(t, first.ID, second.ID)
	assert.Same(t, t1, t2, "one table per session")
	assert.Equal(t, 1, *mounted)

	stored, err := store.GetSession(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
}

func TestMiddleware_SessionsAreIsolated(t *testing.T) {
	m, _, mounted := newTestManager(t)

	_, a, ta := serve(t, m, nil)
	_, b, tb := serve(t, m, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, ta, tb)
	assert.Equal(t, 2, *mounted)
	assert.Equal(t, 2, m.Len())
}

func TestMiddleware_UnknownSessionIsReplaced(t *testing.T) {
	m, store, _ := newTestManager(t)

	rec, first, _ := serve(t, m, nil)
	cookies := rec.Result().Cookies()

	n, err := store.PruneSessions(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rec, second, _ := serve(t, m, cookies)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestManager_TableWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Table(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_PruneUnmountsIdleTables(t *testing.T) {
	m, _, _ := newTestManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	_, _, table := serve(t, m, nil)
	require.Equal(t, 1, m.Len())

	n, err := m.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "still fresh")

	now = now.Add(2 * time.Minute)
	n, err = m.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, m.Len())

	_, err = table.DeleteSelected(context.Background())
	assert.ErrorIs(t, err, runtable.ErrClosed)
}

func TestManager_Close(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, sess, _ := serve(t, m, nil)

	m.Close()
	_, err := m.TableFor(context.Background(), sess)
	assert.ErrorIs(t, err, runtable.ErrClosed)
}
