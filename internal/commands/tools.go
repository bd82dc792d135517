package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"stark-agent/internal/tools"
)

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool registry sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := json.MarshalIndent(tools.Descriptors(), "", "  ")
			if err != nil {
				return fmt.Errorf("encoding tool registry: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
