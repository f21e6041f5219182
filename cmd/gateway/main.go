package main

import (
	"fmt"
	"os"

	"github.com/miles-spidee/exoml/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "gateway",
		Short:        "Inference gateway in front of the exoplanet model server",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env vars still override)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(probeCmd(&configPath))
	return cmd
}

// loadConfig builds the configuration from .env, the optional YAML file
// and the environment, then validates it.
func loadConfig(path string) (*config.Config, error) {
	// .env is for local development only; a missing file is fine.
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg *config.Config
	if path != "" {
		c, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Load()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
