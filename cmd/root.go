package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/alttext-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "alttext-cli",
	Short: "Batch alt text generation for image manifests",
	Long:  "Reads CSV manifests of page/image pairs, scrapes page context, batches images through Claude vision, and writes alt text back with resumable, cost-capped runs.",
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
