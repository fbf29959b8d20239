package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedcfg "github.com/leapstack-labs/runboard/internal/config"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("api-url", "", "")
	fs.String("project", "", "")
	fs.StringSlice("app", nil, "")
	fs.String("kind", "", "")
	fs.Int("page-size", 0, "")
	fs.Duration("poll-interval", 0, "")
	fs.String("state", "", "")
	fs.StringP("output", "o", "", "")
	fs.BoolP("verbose", "v", false, "")
	return fs
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, sharedcfg.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RUNBOARD_PROJECT_ID", "project_id"},
		{"RUNBOARD_APP_ID", "app_id"},
		{"RUNBOARD_API_BASE_URL", "api.base_url"},
		{"RUNBOARD_API_TOKEN", "api.token"},
		{"RUNBOARD_API_RETRY_MAX_ELAPSED", "api.retry.max_elapsed"},
		{"RUNBOARD_UI_SESSION_SECRET", "ui.session_secret"},
		{"RUNBOARD_POLL_INTERVAL", "poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "api.base_url", flagKey("api-url"))
	assert.Equal(t, "state_path", flagKey("state"))
	assert.Equal(t, "page_size", flagKey("page-size"))
	assert.Equal(t, "verbose", flagKey("verbose"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Empty(t, GetConfigFileUsed())
	assert.Equal(t, sharedcfg.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, sharedcfg.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, sharedcfg.DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultUIPort, cfg.UI.Port)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	ResetConfig()
	writeConfig(t, dir, `
api:
  base_url: https://file.example.com
project_id: from-file
page_size: 10
poll_interval: 2s
state_path: data/state.db
`)
	t.Setenv("RUNBOARD_PROJECT_ID", "from-env")
	t.Setenv("RUNBOARD_PAGE_SIZE", "20")
	t.Setenv("RUNBOARD_APP_ID", "app-1,app-2")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--page-size", "30", "--kind", "human"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL, "file beats defaults")
	assert.Equal(t, "from-env", cfg.ProjectID, "env beats file")
	assert.Equal(t, 30, cfg.PageSize, "flags beat env")
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"app-1", "app-2"}, cfg.AppIDs)
	assert.Equal(t, "human", cfg.EvaluationKind)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
	assert.Equal(t, "state.db", filepath.Base(cfg.StatePath))
	assert.Equal(t, "data", filepath.Base(filepath.Dir(cfg.StatePath)))
}

func TestLoadConfig_FoundUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	writeConfig(t, root, "project_id: upward\n")
	t.Chdir(nested)
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "upward", cfg.ProjectID)
	assert.Equal(t, sharedcfg.ConfigFileName, filepath.Base(GetConfigFileUsed()))
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())
	ResetConfig()
	path := writeConfig(t, dir, "project_id: explicit\nstate_path: local.db\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.ProjectID)
	assert.Equal(t, "local.db", filepath.Base(cfg.StatePath))
}

func TestLoadConfig_StateFlagRelativeToWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	ResetConfig()

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--state", "x/state.db"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "x", "state.db"), cfg.StatePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown kind", "evaluation_kind: robots\n"},
		{"zero page size", "page_size: 0\n"},
		{"negative poll interval", "poll_interval: -1s\n"},
		{"bad yaml", "page_size: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			ResetConfig()
			writeConfig(t, dir, tt.body)

			_, err := LoadConfig("", nil)
			assert.Error(t, err)
		})
	}
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := NewLogger(os.Stderr, true)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
	assert.Equal(t, loggerKey{}, LoggerKey())
}
