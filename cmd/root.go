package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reddit-intel",
	Short: "Reddit competitive intelligence pipeline",
	Long:  "Turns a company domain into a structured intelligence report by mining Reddit: discovers relevant communities, harvests posts and comments, extracts entities and relationships via Claude, and computes competitive analytics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "cmd: load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "cmd: init logger")
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
