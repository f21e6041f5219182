package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/cache"
	"github.com/miles-spidee/exoml/internal/infra/client"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func probeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the model server is reachable and print the probe results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			// Probe results go to stdout; keep logs out of the way.
			health := service.NewBackendHealthService(
				client.NewProber(&http.Client{}, cfg.ProbeTimeout),
				cache.New[*domain.BackendHealth](0),
				cfg.ProbeURLs(),
				observability.NewMetrics(),
				zap.NewNop(),
			)

			h := health.Check(cmd.Context())

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if !h.Reachable {
				return fmt.Errorf("model server unreachable at %s", cfg.UpstreamBaseURL())
			}
			return nil
		},
	}
}
