package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/megagig/pharmacare/pkg/config"
	"github.com/megagig/pharmacare/pkg/httpserver"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/svc/billing"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billingd",
		Short:         "Subscription lifecycle and entitlement service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newAdminCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			srv := httpserver.NewFromConfig(a.cfg.HTTP,
				httpserver.WithLogger(a.log),
				httpserver.WithShutdownHook(a.cleanup),
			)
			return srv.Run(ctx, a.svc.Handle())
		},
	}
}

type app struct {
	cfg     billing.Config
	log     *slog.Logger
	svc     *billing.Service
	cleanup func()
}

// openApp loads configuration and connects the backends. The caller
// owns cleanup.
func openApp(ctx context.Context) (*app, error) {
	var cfg billing.Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.FromConfig(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger.SetAsDefault(log)

	deps, cleanup, err := billing.Open(ctx, cfg, log)
	if err != nil {
		cleanup()
		return nil, err
	}
	svc, err := billing.New(cfg, deps)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &app{cfg: cfg, log: log, svc: svc, cleanup: cleanup}, nil
}
