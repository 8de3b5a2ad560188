// SPDX-License-Identifier: MIT

// Command daemon runs the paywatch reconciliation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kinoseat/paywatch/internal/api"
	"github.com/kinoseat/paywatch/internal/config"
	"github.com/kinoseat/paywatch/internal/gateway"
	"github.com/kinoseat/paywatch/internal/health"
	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/poll"
	"github.com/kinoseat/paywatch/internal/push"
	"github.com/kinoseat/paywatch/internal/session"
	"github.com/kinoseat/paywatch/internal/status"
	"github.com/kinoseat/paywatch/internal/telemetry"
	"github.com/kinoseat/paywatch/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("PAYWATCH_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "paywatch"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "paywatch",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	holder := config.NewHolder(cfg, configPath)

	healthMgr := health.NewManager(version.Version)

	// Push feed: Redis when configured, in-process otherwise.
	var feed push.Feed
	if cfg.RedisAddr != "" {
		redisFeed, err := push.NewRedisFeed(push.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.WithComponent("push"))
		if err != nil {
			return fmt.Errorf("init push feed: %w", err)
		}
		feed = redisFeed
		healthMgr.RegisterChecker(health.CheckerFunc{
			CheckerName: "redis",
			Fn: func(ctx context.Context) health.CheckResult {
				if err := redisFeed.HealthCheck(ctx); err != nil {
					return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
				}
				return health.CheckResult{Status: health.StatusHealthy}
			},
		})
	} else {
		feed = push.NewMemoryFeed()
		logger.Info().Msg("no Redis configured, using in-process push feed")
	}
	defer func() { _ = feed.Close() }()

	// Poll query: real gateway when configured. Without a gateway the
	// poll channel reports pending so the push channel and the deadline
	// still resolve every session.
	var query poll.QueryFunc
	if cfg.GatewayURL != "" {
		client := gateway.New(cfg.GatewayURL)
		query = client.QueryStatus
	} else {
		logger.Warn().Msg("no gateway URL configured, poll channel reports pending")
		query = func(_ context.Context, transactionID string) (st status.Event, _ error) {
			st.TransactionID = transactionID
			st.Status = status.StatusPending
			return st, nil
		}
	}

	sessions := session.NewManager(session.Deps{Query: query, Feed: feed})
	defer sessions.Shutdown()

	server := api.NewServer(holder, sessions, feed, healthMgr)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("listen", cfg.ListenAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return holder.Watch(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("daemon stopped")
	return nil
}
