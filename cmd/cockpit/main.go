// Command cockpit runs the agent console service: an HTTP gateway plus
// a WebSocket fan-out hub in front of the agent runtime's session
// channels.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ckhttp "github.com/relaywork/cockpit/internal/adapter/http"
	cknats "github.com/relaywork/cockpit/internal/adapter/nats"
	"github.com/relaywork/cockpit/internal/adapter/natskv"
	"github.com/relaywork/cockpit/internal/adapter/otel"
	"github.com/relaywork/cockpit/internal/adapter/planstore"
	"github.com/relaywork/cockpit/internal/adapter/ristretto"
	"github.com/relaywork/cockpit/internal/adapter/runtimeapi"
	"github.com/relaywork/cockpit/internal/adapter/tiered"
	"github.com/relaywork/cockpit/internal/adapter/ws"
	"github.com/relaywork/cockpit/internal/channel"
	"github.com/relaywork/cockpit/internal/config"
	"github.com/relaywork/cockpit/internal/logger"
	"github.com/relaywork/cockpit/internal/middleware"
	"github.com/relaywork/cockpit/internal/port/cache"
	"github.com/relaywork/cockpit/internal/port/messagequeue"
	"github.com/relaywork/cockpit/internal/resilience"
	"github.com/relaywork/cockpit/internal/service"
	"github.com/relaywork/cockpit/internal/surface"
)

const dedupBucket = "dispatch-dedup"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"runtime_url", cfg.Runtime.BaseURL,
		"nats", cfg.NATS.URL != "",
		"input_idle", cfg.Timeouts.InputIdle,
	)

	ctx := context.Background()

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(ctx) }()

	// --- Infrastructure ---

	// NATS relay is optional: without it plan dispatches arrive only via
	// HTTP and status updates fan out to WebSocket clients only.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := cknats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
		log.Info("nats connected")
	}

	// Dispatch idempotency cache: in-process L1, NATS KV L2 when the
	// relay is up so replays across restarts are still deduplicated.
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	dedup := cache.Cache(l1)
	if q, ok := queue.(*cknats.Queue); ok {
		kv, err := q.KeyValue(ctx, dedupBucket, cfg.Cache.DispatchTTL)
		if err != nil {
			return fmt.Errorf("dedup bucket: %w", err)
		}
		dedup = tiered.New(l1, natskv.New(kv), cfg.Cache.DispatchTTL)
	}

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Collaborators ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	runtimeClient := runtimeapi.NewClient(cfg.Runtime.BaseURL)
	runtimeClient.SetBreaker(breaker)

	planClient := planstore.NewClient(cfg.PlanStore.BaseURL)
	planClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	registry := channel.NewRegistry(
		channel.WebSocketDialer(cfg.Runtime.WSURL),
		resilience.Poller{Attempts: cfg.Runtime.HandshakePolls, Interval: cfg.Runtime.HandshakeBackoff},
		cfg.Timeouts.InputIdle,
		cfg.Timeouts.TimeoutMessage,
		log,
	)

	// --- Services ---

	hub := ws.NewHub()
	renderer := surface.NewRenderer(surface.NewBuilder(cfg.Surface.URLTemplate, cfg.Surface.Quality))

	console := service.NewConsole(service.Deps{
		Registry:   registry,
		Runtime:    runtimeClient,
		Plans:      planClient,
		Hub:        hub,
		Queue:      queue,
		Metrics:    metrics,
		DedupCache: dedup,
		DedupTTL:   cfg.Cache.DispatchTTL,
		Log:        log,
	})

	cancelDispatches, err := console.SubscribePlanDispatches(ctx)
	if err != nil {
		return fmt.Errorf("dispatch subscriber: %w", err)
	}
	defer cancelDispatches()

	// --- HTTP ---

	handlers := ckhttp.NewHandlers(console, runtimeClient, renderer, hub)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(ckhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(ckhttp.Logger)
	r.Use(ckhttp.SecurityHeaders)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	ckhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	// Close channels before draining the relay so terminal statuses
	// still reach it.
	console.Shutdown()
	if queue != nil {
		if err := queue.Drain(); err != nil {
			log.Error("nats drain", "error", err)
		}
	}

	return nil
}
