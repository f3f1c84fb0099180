// Package main is the entry point for the agentplane worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentplane/internal/config"
	"agentplane/internal/logger"
	"agentplane/internal/metrics"
	"agentplane/internal/observability"
	"agentplane/internal/runtime"
	"agentplane/internal/store/postgres"
	"agentplane/internal/tenant"
	"agentplane/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: agentplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	shutdownTracer, err := observability.InitTracer(ctx, "agentplane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	_, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// The strict tier needs a real out-of-process boundary. "exec" is a
	// development fallback only.
	var strict runtime.Isolator
	switch cfg.StrictRuntime {
	case "docker":
		docker, err := runtime.NewDockerIsolator()
		if err != nil {
			log.Fatalf("Failed to init docker isolator: %v", err)
		}
		strict = docker
	case "kubernetes":
		k8s, err := runtime.NewKubernetesIsolator(runtime.KubernetesConfig{
			Namespace: cfg.KubernetesNamespace,
		})
		if err != nil {
			log.Fatalf("Failed to init kubernetes isolator: %v", err)
		}
		strict = k8s
	case "exec":
		slogger.Warn("strict tier is using the exec isolator; do not run enterprise agents like this in production")
		strict = runtime.NewEnhancedExec()
	default:
		log.Fatalf("Unknown strict_runtime %q (want docker, kubernetes, or exec)", cfg.StrictRuntime)
	}

	selector := runtime.NewSelector(runtime.NewBasicExec(), runtime.NewEnhancedExec(), strict)
	registry := tenant.NewRegistry(selector, logger.ForComponent(slogger, "tenant"))
	registry.WorkDir = cfg.RuntimeWorkDir
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	hub := worker.NewCompletionHub(pg, 2*time.Second)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "agentplane-worker"
	}

	agent := worker.New(pg, pg, registry, collector, hub,
		logger.ForComponent(slogger, "worker"), worker.Config{
			ID:                hostname,
			Concurrency:       cfg.WorkerConcurrency,
			PollInterval:      cfg.WorkerPollInterval,
			MaxBackoff:        cfg.WorkerMaxBackoff,
			HeartbeatInterval: cfg.WorkerHeartbeatInterval,
		}, nil)

	go func() {
		if err := agent.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Worker stopped: %v", err)
		}
	}()

	// Prometheus scrape endpoint for the execution metrics.
	metricsAddr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(
		prometheus.DefaultGatherer, promhttp.HandlerOpts{})}
	go func() {
		log.Printf("Worker metrics listening on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	log.Printf("Agentplane Worker %s started (concurrency=%d)", hostname, cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker, draining in-flight executions...")
	cancel()
	<-agent.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}
	log.Println("Worker exited properly")
}
