package cmd

import (
	"fmt"

	"github.com/layer-3/passage/service"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove revocation entries whose tokens have expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		stores, err := openStores(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN, cfg.Store.RedisURL, cfg.Store.Prefix)
		if err != nil {
			return err
		}
		defer stores.Close()

		removed, err := service.NewSweeper(stores.Revocations, cfg.Sweeper.Interval, service.WithLogger(logger)).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired revocation entries\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
