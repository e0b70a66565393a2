package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/config"
)

// version is stamped by the release build.
var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:               "taxcomp",
	Short:             "Two-year tax comparison pipeline",
	Long:              "Extracts structured metrics from tax documents via Claude, reconciles two tax years, and renders PDF, XLSX, and JSON artifacts.",
	Version:           version,
	PersistentPreRunE: bootstrap,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// bootstrap loads config and swaps in the configured logger before any
// subcommand runs.
func bootstrap(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .taxcomp.yaml in cwd or $HOME)")
}
