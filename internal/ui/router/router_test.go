package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/ui/features"
)

func newRouter(t *testing.T, isDev bool) http.Handler {
	t.Helper()
	f := features.SetupTestFixture(t, features.PlainRuns(2, "success")...)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, f.Sessions, nil, isDev))
	return r
}

func TestSetupRoutes(t *testing.T) {
	tests := []struct {
		name   string
		isDev  bool
		path   string
		status int
	}{
		{"static asset", false, "/static/runboard.css", http.StatusOK},
		{"runs page", false, "/runs", http.StatusOK},
		{"root redirects", false, "/", http.StatusFound},
		{"hot reload only in dev", false, "/hotreload", http.StatusNotFound},
		{"hot reload in dev", true, "/hotreload", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(t, tt.isDev)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRunsPageSetsSessionCookie(t *testing.T) {
	h := newRouter(t, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

	resp := rec.Result()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Cookies())
	assert.Contains(t, string(body), "Run 1")
}
