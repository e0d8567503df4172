// Package cli implements the dvrctl commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/clientrt"
	"github.com/ambiyansyah-risyal/clientrt/config"
)

var (
	cfgPath string
	isDebug bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dvrctl",
	Short: "Inspect, validate and record DVR traffic files",
	Long: `dvrctl works with the JSON network traffic recordings used to replay
HTTP exchanges in tests.

Example:
  dvrctl inspect testdata/example.com.json
  dvrctl validate expected.json actual.json --media-type application/json
  dvrctl record https://example.com -o example.json`,
	Version:           clientrt.Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "client config file (YAML); CLIENTRT_* variables override it")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.SetVersionTemplate(clientrt.GetVersion() + "\n")

	rootCmd.AddCommand(inspectCmd, validateCmd, recordCmd, configCmd)
}

// setup loads the configuration and installs the console logger. A .env
// file in the working directory, if any, feeds the CLIENTRT_* overrides.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if isDebug {
		loaded.Logging.Level = "debug"
	}
	cfg = loaded

	slog.SetDefault(cfg.Logging.NewLogger(os.Stderr))
	slog.Debug("Logger initialized", "level", cfg.Logging.SlogLevel().String())
	return nil
}
