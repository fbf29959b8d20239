// Package cli provides the command-line interface for runboard.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/runboard/internal/cli/commands"
	"github.com/leapstack-labs/runboard/internal/cli/config"
	"github.com/leapstack-labs/runboard/internal/cli/output"
	sharedcfg "github.com/leapstack-labs/runboard/internal/config"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "runboard",
		Short: "runboard - evaluation run browser",
		Long: `runboard lists the evaluation runs of a project the way the run table
does: paged, filtered, polled while runs are in flight, with columns derived
from the references and metrics of the loaded runs.

Use it from the terminal (runs list, runs watch) or in the browser (ui).`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			cmd.SetContext(config.WithLogger(cmd.Context(), logger))
			output.ConfigureColor(cfg.NoColor)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+sharedcfg.ConfigFileName+")")
	pf.String("api-url", "", "Base URL of the evaluation API")
	pf.String("token", "", "API bearer token")
	pf.Duration("timeout", 0, "API request timeout")
	pf.String("project", "", "Project ID")
	pf.StringSlice("app", nil, "Application IDs (repeatable)")
	pf.String("kind", "", "Evaluation kind (auto|human|online|custom|all)")
	pf.Int("page-size", 0, "Runs per page")
	pf.Duration("poll-interval", 0, "Polling interval while runs are in progress")
	pf.String("state", "", "Path to state database")
	pf.StringP("output", "o", "", "Output format (auto|text|json|csv)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.Bool("no-color", false, "Disable colored output")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return sharedcfg.OutputModes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		kinds := make([]string, 0, len(core.EvaluationKinds))
		for _, k := range core.EvaluationKinds {
			kinds = append(kinds, string(k))
		}
		return kinds, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewFiltersCommand())
	rootCmd.AddCommand(commands.NewUICommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for runboard.

To load completions:

Bash:
  $ source <(runboard completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ runboard completion bash > /etc/bash_completion.d/runboard
  # macOS:
  $ runboard completion bash > $(brew --prefix)/etc/bash_completion.d/runboard

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ runboard completion zsh > "${fpath[1]}/_runboard"

Fish:
  $ runboard completion fish | source

  # To load completions for each session, execute once:
  $ runboard completion fish > ~/.config/fish/completions/runboard.fish

PowerShell:
  PS> runboard completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
