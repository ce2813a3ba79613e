package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/arxiv/arxiv-auth/httpapi"
	"github.com/arxiv/arxiv-auth/metrics/export/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the authenticator, login and health endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			svc, err := arxivauth.New().WithConfig(cfg).Build()
			if err != nil {
				return err
			}
			defer svc.Close()
			return serve(cmd.Context(), svc)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, svc *arxivauth.Service) error {
	logger := svc.Logger()
	cfg := svc.Config()

	opts := httpapi.Options{Logger: logger.Named("http")}
	if cfg.Metrics.Enabled {
		opts.Metrics = prometheus.Handler(prometheus.NewRegistry(svc))
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(svc, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
