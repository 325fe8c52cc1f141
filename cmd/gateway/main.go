// Command gateway starts the federated GraphQL gateway.
//
// The gateway probes every configured subgraph in the background, composes
// the schemas of the reachable ones into a single federated schema, and
// plans and executes client operations across subgraphs. It keeps serving a
// narrower schema when subgraphs fail and answers 503 on /graphql when no
// schema can be composed at all.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/executor"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/prober"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/supervisor"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/config"
	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/resilience"
)

// main loads configuration, binds the listening port, wires the prober,
// composer, supervisor and executor, and serves HTTP until SIGINT/SIGTERM.
// Configuration and bind failures exit with status 1.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	cfg.Normalize(slog.Default().With("component", "config"))

	descriptors := subgraph.FromConfig(cfg.Subgraphs)
	slog.Info("starting gateway",
		"port", cfg.Server.Port,
		"subgraphs", len(descriptors),
		"environment", cfg.Gateway.Environment,
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to bind listening port",
			"addr", addr,
			"error", fmt.Errorf("%w: %v", gwerrors.ErrFatalStartup, err),
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	checker := health.NewChecker()

	// Event stream: Kafka when enabled, the log otherwise.
	var publisher events.Publisher = events.NewLogPublisher()
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.EventsTopic)
		publisher = producer
		brokers := cfg.Kafka.Brokers
		checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}))
	}
	collector := events.NewCollector(publisher, 100, 5*time.Second)
	collector.Start(ctx)

	// SDL cache: Redis when enabled.
	var sdlStore composer.SDLStore = composer.NewMemoryStore()
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, caching subgraph SDL in memory", "error", err)
		} else {
			sdlStore = composer.NewRedisStore(rdb, cfg.Redis.SDLTTL)
			checker.Register("redis", health.PingCheck(rdb.Ping))
		}
	}

	// Composition history: PostgreSQL when enabled.
	var historyStore history.Store = history.NewMemoryStore(100)
	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err == nil {
			var pgStore *history.PostgresStore
			pgStore, err = history.NewPostgresStore(ctx, db)
			if err == nil {
				historyStore = pgStore
				checker.Register("postgres", health.PingCheck(db.Ping))
			}
		}
		if err != nil {
			slog.Warn("postgres unavailable, keeping composition history in memory", "error", err)
		}
	}

	sup := supervisor.New(len(descriptors), m, collector)
	checker.Register("mode", sup.Check())

	probe := prober.New(descriptors, prober.Config{
		FailureThreshold: cfg.Probe.FailureThreshold,
		Client:           &http.Client{},
		Metrics:          m,
		OnTransition: func(t prober.Transition) {
			collector.Track(events.Event{
				Type:     events.SubgraphStateChanged,
				Subgraph: t.Subgraph,
				From:     string(t.From),
				To:       string(t.To),
			})
		},
	})

	fetcher := composer.NewFetcher(&http.Client{}, cfg.Composition.FetchTimeout, cfg.Composition.FetchAttempts, sdlStore)
	comp := composer.New(descriptors, probe, fetcher, composer.Config{
		RevalidateInterval: cfg.Composition.RevalidateInterval,
		Metrics:            m,
		Events:             collector,
		History:            historyStore,
		OnComposed:         func(s *composer.ComposedSchema) { sup.Observe(s) },
	})

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled && cfg.Kafka.SchemaChangesTopic != "" {
		consumer = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.SchemaChangesTopic, events.SchemaChangeHandler(comp.Trigger))
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("schema change consumer stopped", "error", err)
			}
		}()
	}

	go probe.Run(ctx)
	go comp.Run(ctx)

	exec := executor.New(descriptors, executor.Config{
		Client:            &http.Client{},
		SubrequestTimeout: cfg.Gateway.SubrequestTimeout,
		Metrics:           m,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
	})

	limiter := ratelimit.New(cfg.Gateway.RateLimitPerMinute, time.Minute)
	defer limiter.Close()

	h := gwhandler.New(gwhandler.Config{
		ServiceName:     cfg.Gateway.ServiceName,
		Version:         cfg.Gateway.Version,
		MaxRequestBytes: cfg.Gateway.MaxRequestBytes,
	}, comp, probe, sup, exec, historyStore, sdlStore, m)

	chain := router.New(h, router.Options{
		Explorer:    !cfg.Gateway.IsProduction(),
		ServiceName: cfg.Gateway.ServiceName,
		CORSOrigins: cfg.Gateway.CORSOrigins,
		Limiter:     limiter,
		Metrics:     m,
		Checker:     checker,
	})

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	server := &http.Server{
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("gateway listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	collector.Close()
	if consumer != nil {
		consumer.Close()
	}
	if producer != nil {
		producer.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	slog.Info("gateway stopped")
}
