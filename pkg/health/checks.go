package health

import (
	"context"
	"os"

	"gutenfeed/pkg/config"

	"github.com/segmentio/kafka-go"
)

// KafkaProbe checks the first configured broker with a plain TCP dial.
func KafkaProbe(cfg config.KafkaConfig) Probe {
	return func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout.Duration())
		defer cancel()
		conn, err := kafka.DialContext(dialCtx, "tcp", cfg.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// ScratchProbe verifies the scratch area exists and is writable by creating
// and removing a probe file. An empty dir means the OS temp directory, same
// as the ingestor's default.
func ScratchProbe(dir string) Probe {
	return func(ctx context.Context) error {
		root := dir
		if root == "" {
			root = os.TempDir()
		}
		probe, err := os.CreateTemp(root, "gutenfeed-health-*")
		if err != nil {
			return err
		}
		probe.Close()
		return os.Remove(probe.Name())
	}
}
