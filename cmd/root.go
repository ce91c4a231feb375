package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "edcfill",
	Short: "Clinical document extraction and EDC form fill pipeline",
	Long:  "Extracts lab results and vital signs from clinical documents via Claude vision, maps them onto a declared form schema, and writes accepted values into an EDC form with read-back verification and a full audit ledger.",
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
