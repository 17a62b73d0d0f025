package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/johncui/socrate/pkg/api"
	"github.com/johncui/socrate/pkg/config"
	"github.com/johncui/socrate/pkg/diary"
	"github.com/johncui/socrate/pkg/gateway"
	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/session"
	"github.com/johncui/socrate/pkg/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP session API and the model gateway proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg.Log, os.Stdout)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backend, err := store.Open(ctx, store.Options{
		Driver:   cfg.Store.Driver,
		Name:     cfg.Store.Name,
		Capacity: cfg.Store.Capacity,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	// The proxy is only mounted when this process holds the key itself.
	var upstream gateway.Upstream
	if cfg.Gateway.APIKey != "" {
		upstream, err = gateway.NewGenAIUpstream(ctx, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
		if err != nil {
			return err
		}
	}
	gw, err := buildGateway(cfg.Gateway, upstream)
	if err != nil {
		return err
	}

	sessions, err := session.NewService(session.Options{Store: backend, Gateway: gw, Logger: logger})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(api.Options{
			Sessions:     sessions,
			Upstream:     upstream,
			DefaultModel: cfg.Gateway.Model,
			Diary:        diary.Options{Layout: cfg.Diary.Layout, Location: cfg.Diary.Location()},
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting socrate server",
			"addr", cfg.ListenAddr,
			"store", cfg.Store.Driver,
			"proxy", upstream != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		store.SweepLoop(ctx, backend, cfg.Store.SessionTTL, cfg.Store.SweepEvery, logger)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildGateway prefers a configured proxy URL, then the in-process upstream.
func buildGateway(cfg config.GatewayConfig, upstream gateway.Upstream) (model.Gateway, error) {
	switch {
	case cfg.URL != "":
		return gateway.NewClient(cfg.URL, cfg.Model, &http.Client{Timeout: cfg.Timeout}), nil
	case upstream != nil:
		return gateway.NewDirect(upstream, cfg.Model), nil
	default:
		return nil, errors.New("no model gateway: set SOCRATE_GATEWAY_URL or GEMINI_API_KEY")
	}
}
