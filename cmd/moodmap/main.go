// Command moodmap runs the Mood Map capture service and its one-shot tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/mood-map/internal/config"
	"github.com/teslashibe/mood-map/internal/log"
)

var version = "dev"

var (
	logLevel   string
	engineName string
)

var rootCmd = &cobra.Command{
	Use:   "moodmap",
	Short: "Mood Map facial signal capture and annotation",
	Long: `Mood Map reads a camera, estimates age, gender, expression and head pose
of the face in view, draws the results over the video and exports an annotated
snapshot. Nothing is stored besides the snapshots you export.

Settings come from MOODMAP_* environment variables; flags override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "analysis engine: opencv or mock")

	rootCmd.AddCommand(serveCmd, analyzeCmd, detectCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if engineName != "" {
		cfg.Engine = engineName
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
