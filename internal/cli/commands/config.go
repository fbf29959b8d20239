package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/runboard/internal/cli/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect runboard configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, config file, RUNBOARD_ environment
variables and flags are merged. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContextWithoutAPI(cmd)
			if file := config.GetConfigFileUsed(); file != "" {
				cc.Renderer.Muted("# from %s", file)
			}
			enc := yaml.NewEncoder(cc.Renderer.Writer())
			enc.SetIndent(2)
			if err := enc.Encode(newConfigView(cc.Cfg.Redacted())); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

// configView mirrors config.Config with durations spelled out.
type configView struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token,omitempty"`
		Timeout string `yaml:"timeout"`
		Retry   struct {
			InitialInterval string `yaml:"initial_interval"`
			MaxInterval     string `yaml:"max_interval"`
			MaxElapsed      string `yaml:"max_elapsed"`
		} `yaml:"retry"`
	} `yaml:"api"`
	ProjectID      string   `yaml:"project_id"`
	AppIDs         []string `yaml:"app_id,omitempty"`
	EvaluationKind string   `yaml:"evaluation_kind"`
	PageSize       int      `yaml:"page_size"`
	PollInterval   string   `yaml:"poll_interval"`
	StatePath      string   `yaml:"state_path"`
	Output         string   `yaml:"output"`
	Verbose        bool     `yaml:"verbose"`
	NoColor        bool     `yaml:"no_color"`
	UI             struct {
		Port          int    `yaml:"port"`
		SessionSecret string `yaml:"session_secret,omitempty"`
	} `yaml:"ui"`
}

func newConfigView(c config.Config) configView {
	var v configView
	v.API.BaseURL = c.API.BaseURL
	v.API.Token = c.API.Token
	v.API.Timeout = c.API.Timeout.String()
	v.API.Retry.InitialInterval = c.API.Retry.InitialInterval.String()
	v.API.Retry.MaxInterval = c.API.Retry.MaxInterval.String()
	v.API.Retry.MaxElapsed = c.API.Retry.MaxElapsed.String()
	v.ProjectID = c.ProjectID
	v.AppIDs = c.AppIDs
	v.EvaluationKind = c.EvaluationKind
	v.PageSize = c.PageSize
	v.PollInterval = c.PollInterval.String()
	v.StatePath = c.StatePath
	v.Output = c.OutputFormat
	v.Verbose = c.Verbose
	v.NoColor = c.NoColor
	v.UI.Port = c.UI.Port
	v.UI.SessionSecret = c.UI.SessionSecret
	return v
}
