// Command topics provisions the configured Kafka topics with their partition
// counts and replication factors. Topics that already exist are left as they
// are, so the command is safe to run before every producer run.
//
// Usage:
//
//	go run ./cmd/topics [-config configs/gutenfeed.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gutenfeed/pkg/config"
	"gutenfeed/pkg/kafka"
	"gutenfeed/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; defaults plus GF_* env apply)")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("provisioning kafka topics", "brokers", cfg.Kafka.Brokers, "count", len(cfg.Kafka.Topics))
	results, err := kafka.CreateTopics(ctx, cfg.Kafka)
	if err != nil {
		slog.Error("topic provisioning failed", "error", err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			slog.Error("topic creation failed", "topic", r.Name, "error", r.Err)
			failed++
		case r.Existed:
			slog.Info("topic already exists", "topic", r.Name)
		default:
			slog.Info("topic created",
				"topic", r.Name,
				"partitions", r.Partitions,
				"replication_factor", r.ReplicationFactor,
			)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
