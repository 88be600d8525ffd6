package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "boq",
	Short: "Bill-of-quantities extraction pipeline",
	Long:  "Segments cost documents into sheets, extracts line items with an AI model and a heuristic fallback, classifies and matches them against the material catalog, and stores the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
