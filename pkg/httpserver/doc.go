// Package httpserver runs the billing HTTP API with graceful shutdown and
// serves the liveness and readiness probes.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Run returns nil after a clean drain. Listen failures wrap ErrStart and
// drain timeouts wrap ErrShutdown.
package httpserver
