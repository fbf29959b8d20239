package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/runboard/internal/cli/config"
	sharedcfg "github.com/leapstack-labs/runboard/internal/config"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/ui"
)

// UIOptions holds options for the ui command.
type UIOptions struct {
	Port      int
	NoBrowser bool
	Dev       bool
}

// NewUICommand creates the ui command.
func NewUICommand() *cobra.Command {
	opts := &UIOptions{}

	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve the run table in the browser",
		Long: `Start a local web server showing the evaluation runs of the configured
project.

Every browser session gets its own table: selection is per session while
filters are shared with every table of the same scope, including the CLI.
Tables of sessions that stay idle are unmounted and their polling stops.
Edits to the page size or poll interval in the config file apply to tables
mounted after the edit.`,
		Example: `  # Start on the configured port
  runboard ui

  # Start on a custom port without opening a browser
  runboard ui --port 3000 --no-browser`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, fmt.Sprintf("Port to serve on (default: %d)", sharedcfg.DefaultUIPort))
	cmd.Flags().BoolVar(&opts.NoBrowser, "no-browser", false, "Don't auto-open browser")
	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "Serve assets from disk and reload on restart")
	_ = cmd.Flags().MarkHidden("dev")

	return cmd
}

func runUI(cmd *cobra.Command, opts *UIOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if cc.Cfg.ProjectID == "" {
		return fmt.Errorf("no project configured\nHint: pass --project or set project_id in %s", sharedcfg.ConfigFileName)
	}

	port := cc.Cfg.UI.Port
	if cmd.Flags().Changed("port") {
		port = opts.Port
	}

	secret := cc.Cfg.UI.SessionSecret
	if secret == "" {
		// Sessions then only live as long as the process.
		if secret, err = generateSessionSecret(); err != nil {
			return err
		}
	}

	server, err := ui.NewServer(ui.Config{
		API:           cc.API,
		Store:         cc.Store,
		Filters:       cc.Filters,
		Caches:        runtable.NewCaches(defaultCacheSize),
		Port:          port,
		SessionSecret: secret,
		ProjectID:     cc.Cfg.ProjectID,
		AppIDs:        cc.Cfg.AppIDs,
		Kind:          cc.Cfg.Kind(),
		PageSize:      cc.Cfg.PageSize,
		PollInterval:  cc.Cfg.PollInterval,
		ConfigFile:    config.GetConfigFileUsed(),
		Dev:           opts.Dev,
		Logger:        cc.Logger,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://localhost:%d", port)
	if !opts.NoBrowser {
		go openBrowser(url)
	}

	cc.Renderer.Success("Serving runs of %s on %s", cc.Cfg.ProjectID, url)
	cc.Renderer.Muted("Press Ctrl+C to stop")

	return server.Serve(cmd.Context())
}

// generateSessionSecret returns a random cookie signing key.
func generateSessionSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// openBrowser opens the default browser to the specified URL.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url) //nolint:noctx
	case "linux":
		cmd = exec.Command("xdg-open", url) //nolint:noctx
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url) //nolint:noctx
	default:
		return
	}

	_ = cmd.Start()
}
