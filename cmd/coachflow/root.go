package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/internal/app"
	"github.com/aretw0/coachflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "coachflow",
	Short: "coachflow runs AI coaching conversations and analyses",
	Long: `coachflow drives multi-turn coaching conversations and single-shot analyses
through workflow graphs backed by versioned prompt templates and a pool of LLM providers.

Configuration is read from coachflow.yaml (or --config), a .env file and
COACHFLOW_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file (default: ./coachflow.yaml)")
	rootCmd.PersistentFlags().Bool("offline", false, "Use the built-in scripted coach instead of the configured providers")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// loadApp wires the application for cmd. The caller must Close it.
func loadApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	var opts []app.Option
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		opts = append(opts, app.WithOffline())
	}
	return app.New(ctx, cfg, logger, opts...)
}
