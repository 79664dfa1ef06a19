package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/layer-3/passage/config"
	"github.com/layer-3/passage/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "passage",
	Short: "Passage issues, verifies and revokes session credentials",
	Long: `Passage is a session and credential lifecycle service: email enrollment
with one-time codes, password login, signed bearer tokens and a revocation
registry swept of entries that have expired on their own.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to YAML config file")
}

// loadConfig reads the config file, .env and PASSAGE_* overrides
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, logger, nil
}
