// Command producer runs one pipeline pass: harvest archive links from the
// configured catalog, then download, extract, and publish each book to the
// Kafka topic. The run summary is printed to stdout at the end; logs go to
// stderr.
//
// Usage:
//
//	go run ./cmd/producer [-config configs/gutenfeed.yaml]
//
// With no -config flag, built-in defaults plus GF_* environment variables
// apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gutenfeed/internal/archive"
	"gutenfeed/internal/harvest"
	"gutenfeed/internal/pipeline"
	"gutenfeed/pkg/config"
	"gutenfeed/pkg/health"
	"gutenfeed/pkg/kafka"
	"gutenfeed/pkg/logger"
	"gutenfeed/pkg/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// main loads configuration, wires the harvester, ingestor, and Kafka producer
// into a pipeline, and executes one run. SIGINT/SIGTERM cancel the run; a
// fatal pipeline error exits non-zero.
func main() {
	configPath := flag.String("config", "", "path to config file (optional; defaults plus GF_* env apply)")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx)

	log.Info("starting producer run",
		"catalog", cfg.Harvest.BaseURL,
		"topic", cfg.Kafka.Topic,
		"mode", cfg.Publish.Mode,
		"target", cfg.Harvest.MinLinks,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		checker := health.NewChecker(runID)
		checker.Register("kafka", health.KafkaProbe(cfg.Kafka))
		checker.Register("scratch", health.ScratchProbe(cfg.Ingest.ScratchDir))
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	producer, err := kafka.NewProducer(cfg.Kafka, runID, m)
	if err != nil {
		log.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	log.Info("kafka producer initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)

	harvester, err := harvest.New(cfg.Harvest, m)
	if err != nil {
		log.Error("failed to create harvester", "error", err)
		os.Exit(1)
	}
	ingestor, err := archive.NewIngestor(cfg.Ingest, m)
	if err != nil {
		log.Error("failed to create ingestor", "error", err)
		os.Exit(1)
	}
	pipe, err := pipeline.New(cfg, harvester, ingestor, producer, m, runID)
	if err != nil {
		log.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	result, err := pipe.Run(ctx)
	if err != nil {
		log.Error("run failed", "error", err)
		producer.Close()
		os.Exit(1)
	}

	fmt.Print(result.Summary())
	log.Info("run complete",
		"succeeded", len(result.Successes),
		"failed", len(result.Failures),
		"delivered", result.Delivered,
	)
	if result.DeliveryFailed > 0 {
		log.Warn("some deliveries failed", "count", result.DeliveryFailed)
	}
}
