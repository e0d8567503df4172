package cli

import (
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/clientrt/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective client configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
