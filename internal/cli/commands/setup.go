package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/runboard/internal/apiclient"
	"github.com/leapstack-labs/runboard/internal/cli/config"
	"github.com/leapstack-labs/runboard/internal/cli/output"
	sharedcfg "github.com/leapstack-labs/runboard/internal/config"
	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// defaultCacheSize bounds every per-command cache.
const defaultCacheSize = 4096

// newAPI builds the backend client. Tests replace it with a fake.
var newAPI = func(cfg *config.Config, logger *slog.Logger) (core.RunsAPI, error) {
	return apiclient.New(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
		Retry: apiclient.RetryConfig{
			InitialInterval: cfg.API.Retry.InitialInterval,
			MaxInterval:     cfg.API.Retry.MaxInterval,
			MaxElapsed:      cfg.API.Retry.MaxElapsed,
		},
		Logger: logger,
	})
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	API      core.RunsAPI
	Store    *state.SQLiteStore
	Filters  *filters.Registry
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with API client, state store
// and renderer. The returned cleanup must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutAPI(cmd)

	api, err := newAPI(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create api client: %w", err)
	}
	cc.API = api

	store, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Store = store
	cc.Filters = filters.NewRegistry(store, cc.Logger)

	cleanup := func() {
		_ = store.Close()
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutAPI creates a CommandContext without backend or
// state access. Useful for commands that only inspect configuration.
func NewCommandContextWithoutAPI(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the loaded configuration, or the defaults when the
// command runs without the root command (as in tests).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	var cfg config.Config
	sharedcfg.ApplyDefaults(&cfg)
	return &cfg
}

func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	return store, nil
}

// TableOptions narrows the runs a command works on.
type TableOptions struct {
	Search string
	Status []string
}

func (o TableOptions) values() core.FilterValues {
	return core.FilterValues{Search: o.Search, StatusFilters: o.Status}
}

func (o TableOptions) changed() bool {
	return o.Search != "" || len(o.Status) > 0
}

func addTableFlags(cmd *cobra.Command, o *TableOptions) {
	cmd.Flags().StringVar(&o.Search, "search", "", "Only runs whose name matches")
	cmd.Flags().StringSliceVar(&o.Status, "status", nil, "Only runs with these statuses")
}

// openTable mounts a run table for the configured scope. Filter flags
// replace the scope's saved filters.
func (cc *CommandContext) openTable(ctx context.Context, o TableOptions) (*runtable.Table, error) {
	if cc.Cfg.ProjectID == "" {
		return nil, fmt.Errorf("no project configured\nHint: pass --project or set project_id in %s", sharedcfg.ConfigFileName)
	}
	t, err := runtable.New(ctx, runtable.Config{
		API:          cc.API,
		ProjectID:    cc.Cfg.ProjectID,
		AppIDs:       cc.Cfg.AppIDs,
		Kind:         cc.Cfg.Kind(),
		PageSize:     cc.Cfg.PageSize,
		PollInterval: cc.Cfg.PollInterval,
		Filters:      cc.Filters,
		Caches:       runtable.NewCaches(defaultCacheSize),
		Logger:       cc.Logger,
	})
	if err != nil {
		return nil, err
	}
	if o.changed() {
		t.SetFilters(ctx, o.values())
	}
	return t, nil
}
