// Package main is the entry point for the agentplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentplane/internal/config"
	"agentplane/internal/controller"
	"agentplane/internal/logger"
	"agentplane/internal/metrics"
	"agentplane/internal/notify"
	"agentplane/internal/observability"
	"agentplane/internal/scheduler"
	"agentplane/internal/store/postgres"
	"agentplane/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: agentplane.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	// Setup Database
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(pg.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "agentplane-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	_, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Use an Observable Gauge (Async) that queries the DB only when scraped.
	meter := otel.Meter("agentplane-controller")
	_, err = meter.Int64ObservableGauge("agentplane.queue.depth",
		metric.WithDescription("Current number of claimable executions in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := pg.Count(ctx)
			if err != nil {
				log.Printf("Failed to count queue depth: %v", err)
				return nil // Don't crash metrics scrape on DB error
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	source := metrics.NewStoreSource(pg)
	hub := worker.NewCompletionHub(pg, 2*time.Second)

	var notifier notify.Notifier = notify.NewLogNotifier(logger.ForComponent(slogger, "notify"))
	if cfg.NotificationEndpoint != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotificationEndpoint, cfg.NotificationSecret)
		slogger.Info("delivering schedule outcomes to webhook", "endpoint", cfg.NotificationEndpoint)
	}

	sched := scheduler.NewService(pg, pg, scheduler.NewCronStrategy(), hub,
		notifier,
		notify.NewLogAlerter(logger.ForComponent(slogger, "alerts")),
		logger.ForComponent(slogger, "scheduler"),
		scheduler.Config{BatchSize: cfg.SchedulerBatchSize})

	// Scheduler reconciliation ticker. The /internal/scheduler/tick
	// endpoint triggers the same pass on demand.
	go func() {
		ticker := time.NewTicker(cfg.SchedulerTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if _, err := sched.RefillWindows(ctx, now); err != nil {
					slogger.Error("window refill failed", "error", err)
				}
				if _, err := sched.ProcessScheduledExecutions(ctx, now); err != nil {
					slogger.Error("scheduler pass failed", "error", err)
				}
			}
		}
	}()

	// Reaper: return executions whose claim lease expired (dead worker)
	// to pending.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := pg.RequeueExpired(ctx, time.Now().UTC())
				if err != nil {
					slogger.Error("requeue of expired claims failed", "error", err)
					continue
				}
				if n > 0 {
					slogger.Warn("requeued expired claims", "count", n)
				}
			}
		}
	}()

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Config{
		Addr:           addr,
		InternalSecret: cfg.InternalSecret,
	}, pg, sched, controller.Deps{
		Waiter:   hub,
		Metrics:  source,
		Gatherer: prometheus.DefaultGatherer,
	})

	go func() {
		log.Printf("Agentplane Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
