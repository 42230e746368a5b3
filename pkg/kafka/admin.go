package kafka

import (
	"context"
	"errors"
	"fmt"

	"gutenfeed/pkg/config"

	"github.com/segmentio/kafka-go"
)

// TopicResult reports the provisioning outcome for one topic.
type TopicResult struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Existed           bool
	Err               error
}

// CreateTopics provisions every configured topic, treating "already exists"
// as success so the command is safe to run repeatedly. Results come back in
// configuration order.
func CreateTopics(ctx context.Context, cfg config.KafkaConfig) ([]TopicResult, error) {
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no topics configured")
	}

	client := &kafka.Client{
		Addr:    kafka.TCP(cfg.Brokers...),
		Timeout: cfg.DialTimeout.Duration(),
	}

	req := &kafka.CreateTopicsRequest{}
	for _, t := range cfg.Topics {
		req.Topics = append(req.Topics, kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
	}

	resp, err := client.CreateTopics(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating topics: %w", err)
	}

	results := make([]TopicResult, 0, len(cfg.Topics))
	for _, t := range cfg.Topics {
		r := TopicResult{
			Name:              t.Name,
			Partitions:        t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		}
		if terr := resp.Errors[t.Name]; terr != nil {
			if errors.Is(terr, kafka.TopicAlreadyExists) {
				r.Existed = true
			} else {
				r.Err = terr
			}
		}
		results = append(results, r)
	}
	return results, nil
}
