package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tubedrift/tubedrift/server/internal/api"
	"github.com/tubedrift/tubedrift/server/internal/auth"
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/config"
	"github.com/tubedrift/tubedrift/server/internal/dispatch"
	"github.com/tubedrift/tubedrift/server/internal/history"
	"github.com/tubedrift/tubedrift/server/internal/metrics"
	"github.com/tubedrift/tubedrift/server/internal/notify"
	"github.com/tubedrift/tubedrift/server/internal/poller"
	"github.com/tubedrift/tubedrift/server/internal/upstream"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
	"github.com/tubedrift/tubedrift/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("tubedrift-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"backend", cfg.Upstream.Backend,
		"cache_ttl", cfg.Cache.TTL,
		"poll_interval", cfg.Poller.Interval,
	)

	provider, err := upstream.New(cfg.Upstream)
	if err != nil {
		slog.Error("failed to build upstream provider", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Shared state: one cache and one history store for the whole process.
	c := cache.New(cfg.Cache.TTL, cfg.Cache.FetchTimeout)
	hist := history.New()
	pool := workpool.New("upstream", cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize)

	d := dispatch.New(c, pool, provider, cfg.Dispatcher.InboxSize, cfg.Dispatcher.Timeout)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher stopped", "err", err)
		}
	}()

	// Drift notifications go to the session's sockets on the poll loop; the
	// configured external sinks deliver in the background.
	fanout := notify.NewFanout()
	for _, whCfg := range cfg.Notify.Webhooks {
		wh, err := notify.NewWebhook(whCfg)
		if err != nil {
			slog.Warn("skipping webhook", "type", whCfg.Type, "err", err)
			continue
		}
		fanout.AddBackground(wh)
	}
	var kafkaSink *notify.KafkaSink
	if cfg.Notify.Kafka.Enabled() {
		kafkaSink = notify.NewKafkaSink(cfg.Notify.Kafka)
		fanout.AddBackground(kafkaSink)
	}

	polls := poller.New(c, hist, provider, pool, fanout, poller.Options{
		Interval:     cfg.Poller.Interval,
		FetchTimeout: cfg.Cache.FetchTimeout,
	})

	hub := ws.New(d, hist, polls)
	fanout.Add(hub)
	go hub.Run(ctx)

	slog.Info("notification sinks", "sinks", fanout.Sinks())

	reg := metrics.New()
	reg.Register(metrics.CacheCollector(c))
	reg.Register(metrics.DispatchCollector(d))
	reg.Register(metrics.PollerCollector(polls))
	reg.Register(metrics.PoolCollector("upstream", pool))

	// Hot reload: poll interval and log level apply without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			polls.SetInterval(next.Poller.Interval)
			level.Set(next.Log.SlogLevel())
			slog.Info("config applied",
				"poll_interval", next.Poller.Interval,
				"log_level", next.Log.Level,
			)
		})
		if err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	// gRPC health service with optional API key authentication. Health/Check
	// stays open for load balancer health checks.
	authCfg := cfg.Server.Auth
	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(
			authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(),
			healthpb.Health_Check_FullMethodName,
		)),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(
			authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(),
		)),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API, metrics and session WebSocket on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/", api.New(api.Deps{
		Searcher:    d,
		History:     hist,
		Refresher:   polls,
		Connections: hub,
		Cache:       c,
		Metrics:     reg.Handler(),
		Auth:        authCfg,
	}))
	httpMux.Handle("/ws/session", auth.HTTPMiddleware(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())(hub))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tubedrift-server shutting down")

	healthSrv.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	polls.StopAll()
	fanout.Wait()
	<-dispatchDone
	if err := pool.Close(shutdownCtx); err != nil {
		slog.Warn("worker pool did not drain", "err", err)
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			slog.Warn("kafka writer close failed", "err", err)
		}
	}
}
