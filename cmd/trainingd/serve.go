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

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-training/internal/api/http"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	auth "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/composer"
	"github.com/mind-engage/mindengage-training/internal/config"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/metrics"
	"github.com/mind-engage/mindengage-training/internal/submission"
	"github.com/mind-engage/mindengage-training/internal/svc"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	pub, closePub, err := publisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()

	var (
		m        *metrics.Metrics
		mHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		mHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	deps := svc.Deps{DB: d, Publisher: pub, Metrics: m, Logger: logger}
	srv := &api.Server{
		DB:          d,
		Auth:        auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Content:     content.NewService(deps),
		Composer:    composer.New(deps),
		Assignments: assignment.NewService(deps),
		Engine:      submission.NewEngine(deps),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     mHandler,
	}
	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver, "version", Version)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	return eg.Wait()
}

// publisher connects to NATS when configured and falls back to logging
// events otherwise.
func publisher(cfg config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.LogPublisher{Logger: logger}, func() {}, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return events.NewNATSPublisher(nc, cfg.EventsSubjectPrefix), func() { _ = nc.Drain() }, nil
}
