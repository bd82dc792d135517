package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"stark-agent/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "stark",
		Short:   "STARK virtual CFO agent",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (env vars take precedence)")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newLambdaCommand(&configPath))
	rootCmd.AddCommand(newToolsCommand())

	return rootCmd
}
