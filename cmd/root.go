package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tam",
	Short: "Total addressable market sizing on Prospeo search",
	Long:  "Plans segmented company searches under the Prospeo result ceiling, runs market-sizing jobs with cross-job reuse of stored results, and serves the job API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
