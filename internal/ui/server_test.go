package ui

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/config"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/pkg/core"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	api := testutil.NewFakeAPI(
		core.APIRun{ID: "r1", Name: "Nightly", Status: core.RunStatusSuccess},
		core.APIRun{ID: "r2", Name: "Weekly", Status: core.RunStatusFailure},
	)
	srv, err := NewServer(Config{
		API:           api,
		Store:         store,
		SessionSecret: "test-secret-key-32-bytes-long!!",
		ProjectID:     "p1",
		Kind:          core.KindAuto,
		PageSize:      10,
		PollInterval:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Sessions().Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.ErrorContains(t, err, "API is required")

	_, err = NewServer(Config{API: testutil.NewFakeAPI()})
	assert.ErrorContains(t, err, "state store is required")
}

func TestServer_RunsPage(t *testing.T) {
	_, ts := newTestServer(t)
	c := newClient(t)

	resp, body := get(t, c, ts.URL+"/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/runs", resp.Request.URL.Path, "root redirects to the runs page")
	assert.Contains(t, body, "Nightly")
	assert.Contains(t, body, "Weekly")
	assert.NotEmpty(t, c.Jar.Cookies(resp.Request.URL), "a session cookie is set")
}

func TestServer_StaticAssets(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, newClient(t), ts.URL+"/static/runboard.css")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, ".rb-table")
}

func TestServer_SessionsHaveOwnTables(t *testing.T) {
	srv, ts := newTestServer(t)
	alice, bob := newClient(t), newClient(t)

	get(t, alice, ts.URL+"/runs")
	get(t, bob, ts.URL+"/runs")
	require.Equal(t, 2, srv.Sessions().Len())

	resp, err := alice.Post(ts.URL+"/api/runs/selection?action=select&key=p1::r1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snapshot := func(c *http.Client) runtable.Snapshot {
		resp, body := get(t, c, ts.URL+"/api/runs/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap runtable.Snapshot
		require.NoError(t, json.Unmarshal([]byte(body), &snap))
		return snap
	}
	assert.Equal(t, []string{"p1::r1"}, snapshot(alice).Selection)
	assert.Empty(t, snapshot(bob).Selection, "selection is per session")
	assert.Equal(t, 2, srv.Sessions().Len(), "requests reuse the session table")
}

func TestServer_ExportDownload(t *testing.T) {
	_, ts := newTestServer(t)
	c := newClient(t)
	get(t, c, ts.URL+"/runs")

	resp, body := get(t, c, ts.URL+"/api/runs/export")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	assert.Len(t, lines, 3)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/static/runboard.js")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newConfigFileServer(t *testing.T, path string) *Server {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	srv, err := NewServer(Config{
		API:           testutil.NewFakeAPI(),
		Store:         store,
		SessionSecret: "test-secret-key-32-bytes-long!!",
		ProjectID:     "p1",
		Kind:          core.KindAuto,
		PageSize:      10,
		PollInterval:  time.Second,
		ConfigFile:    path,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Sessions().Close)
	return srv
}

func TestServer_ReloadKeepsFlagsUntilFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	writeConfig(t, path, "page_size: 25\npoll_interval: 2s\n")

	// Flags set page size 10 and poll interval 1s over the file.
	srv := newConfigFileServer(t, path)
	assert.Equal(t, Settings{PageSize: 10, PollInterval: time.Second}, srv.Settings())

	srv.reloadConfig()
	assert.Equal(t, Settings{PageSize: 10, PollInterval: time.Second}, srv.Settings(),
		"an untouched file must not override flags")

	writeConfig(t, path, "page_size: 25\npoll_interval: 3s\n")
	srv.reloadConfig()
	assert.Equal(t, Settings{PageSize: 10, PollInterval: 3 * time.Second}, srv.Settings())

	writeConfig(t, path, "page_size: 40\npoll_interval: 3s\n")
	srv.reloadConfig()
	assert.Equal(t, Settings{PageSize: 40, PollInterval: 3 * time.Second}, srv.Settings())

	writeConfig(t, path, "page_size: -1\n")
	srv.reloadConfig()
	assert.Equal(t, Settings{PageSize: 40, PollInterval: 3 * time.Second}, srv.Settings(),
		"an invalid file keeps the last settings")
}

func TestServer_UpdateSettingsKeepsZeroFields(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.False(t, srv.UpdateSettings(Settings{}))
	assert.True(t, srv.UpdateSettings(Settings{PageSize: 5}))
	assert.Equal(t, Settings{PageSize: 5, PollInterval: time.Second}, srv.Settings())
	assert.False(t, srv.UpdateSettings(Settings{PageSize: 5}))
}

func TestServer_WatchesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	writeConfig(t, path, "page_size: 25\n")
	srv := newConfigFileServer(t, path)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The watcher starts asynchronously, so the edit is repeated until seen.
	require.Eventually(t, func() bool {
		writeConfig(t, path, "page_size: 7\n")
		return srv.Settings().PageSize == 7
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, time.Second, srv.Settings().PollInterval)
}
