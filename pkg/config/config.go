// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Harvest, Ingest, Book, Kafka, Publish, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Publish modes: one message per content line, or the whole file as a single
// message.
const (
	ModeLines = "lines"
	ModeFile  = "file"
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "2m" instead of raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the top-level application configuration.
type Config struct {
	Harvest HarvestConfig `yaml:"harvest"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Book    BookConfig    `yaml:"book"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Publish PublishConfig `yaml:"publish"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HarvestConfig drives the catalog walker. Page URLs are formed by
// concatenating BaseURL with the current pagination path, so BaseURL should
// carry a trailing slash when the catalog paths are relative.
type HarvestConfig struct {
	BaseURL      string   `yaml:"baseUrl"`
	StartPath    string   `yaml:"startPath"`
	MinLinks     int      `yaml:"minLinks"`
	LinkPattern  string   `yaml:"linkPattern"`
	FetchTimeout Duration `yaml:"fetchTimeout"`
	PollInterval Duration `yaml:"pollInterval"`
}

// IngestConfig drives archive download and extraction. An empty ScratchDir
// means the operating system's temp directory.
type IngestConfig struct {
	ScratchDir      string   `yaml:"scratchDir"`
	DownloadTimeout Duration `yaml:"downloadTimeout"`
	ChunkSize       int      `yaml:"chunkSize"`
	ContentPattern  string   `yaml:"contentPattern"`
}

// BookConfig controls title extraction from a content file.
type BookConfig struct {
	TitlePattern string `yaml:"titlePattern"`
	SearchWindow int    `yaml:"searchWindow"`
}

// KafkaConfig holds broker settings, the publish topic, and the topics the
// provisioning command creates.
type KafkaConfig struct {
	Brokers         []string    `yaml:"brokers"`
	Topic           string      `yaml:"topic"`
	DialTimeout     Duration    `yaml:"dialTimeout"`
	MaxMessageBytes int         `yaml:"maxMessageBytes"`
	Topics          []TopicSpec `yaml:"topics"`
}

// TopicSpec describes one topic for provisioning.
type TopicSpec struct {
	Name              string `yaml:"name"`
	Partitions        int    `yaml:"partitions"`
	ReplicationFactor int    `yaml:"replicationFactor"`
}

// PublishConfig selects how a book's content is mapped onto messages.
type PublishConfig struct {
	Mode string `yaml:"mode"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles per-run span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a validated Config populated with defaults for any
// missing values.
func Load(path string) (*Config, error) {
	// A .env file, when present, supplies GF_* variables for local runs.
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config pointed at the Project Gutenberg robot
// catalog, the shape of source this pipeline was built for.
func defaultConfig() *Config {
	return &Config{
		Harvest: HarvestConfig{
			BaseURL:      "https://www.gutenberg.org/robot/",
			StartPath:    "harvest?filetypes[]=txt&langs[]=en",
			MinLinks:     10,
			LinkPattern:  `\.zip$`,
			FetchTimeout: Duration(30 * time.Second),
			PollInterval: Duration(2 * time.Second),
		},
		Ingest: IngestConfig{
			ScratchDir:      "",
			DownloadTimeout: Duration(2 * time.Minute),
			ChunkSize:       32 * 1024,
			ContentPattern:  "*.txt",
		},
		Book: BookConfig{
			TitlePattern: "^Title:",
			SearchWindow: 40,
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			Topic:           "book-lines",
			DialTimeout:     Duration(10 * time.Second),
			MaxMessageBytes: 10 * 1024 * 1024,
			Topics: []TopicSpec{
				{Name: "book-lines", Partitions: 3, ReplicationFactor: 1},
			},
		},
		Publish: PublishConfig{
			Mode: ModeLines,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads GF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GF_HARVEST_BASE_URL"); v != "" {
		cfg.Harvest.BaseURL = v
	}
	if v := os.Getenv("GF_HARVEST_START_PATH"); v != "" {
		cfg.Harvest.StartPath = v
	}
	if v := os.Getenv("GF_HARVEST_MIN_LINKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Harvest.MinLinks = n
		}
	}
	if v := os.Getenv("GF_HARVEST_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Harvest.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("GF_INGEST_SCRATCH_DIR"); v != "" {
		cfg.Ingest.ScratchDir = v
	}
	if v := os.Getenv("GF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GF_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("GF_PUBLISH_MODE"); v != "" {
		cfg.Publish.Mode = v
	}
	if v := os.Getenv("GF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GF_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("GF_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

// Validate rejects configurations the pipeline cannot run with. Patterns are
// compiled here once so a bad pattern fails at startup rather than mid-run.
func (c *Config) Validate() error {
	if c.Harvest.BaseURL == "" {
		return fmt.Errorf("harvest.baseUrl must not be empty")
	}
	if c.Harvest.MinLinks < 1 {
		return fmt.Errorf("harvest.minLinks must be at least 1, got %d", c.Harvest.MinLinks)
	}
	if _, err := regexp.Compile(c.Harvest.LinkPattern); err != nil {
		return fmt.Errorf("harvest.linkPattern: %w", err)
	}
	if c.Harvest.FetchTimeout <= 0 {
		return fmt.Errorf("harvest.fetchTimeout must be positive")
	}
	if c.Harvest.PollInterval < 0 {
		return fmt.Errorf("harvest.pollInterval must not be negative")
	}
	if c.Ingest.DownloadTimeout <= 0 {
		return fmt.Errorf("ingest.downloadTimeout must be positive")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunkSize must be positive, got %d", c.Ingest.ChunkSize)
	}
	if _, err := filepath.Match(c.Ingest.ContentPattern, "probe"); err != nil {
		return fmt.Errorf("ingest.contentPattern %q: %w", c.Ingest.ContentPattern, err)
	}
	if c.Book.TitlePattern == "" {
		return fmt.Errorf("book.titlePattern must not be empty")
	}
	if _, err := regexp.Compile("(?i)" + c.Book.TitlePattern); err != nil {
		return fmt.Errorf("book.titlePattern: %w", err)
	}
	if c.Book.SearchWindow < 1 {
		return fmt.Errorf("book.searchWindow must be at least 1, got %d", c.Book.SearchWindow)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic must not be empty")
	}
	if c.Kafka.DialTimeout <= 0 {
		return fmt.Errorf("kafka.dialTimeout must be positive")
	}
	if c.Kafka.MaxMessageBytes <= 0 {
		return fmt.Errorf("kafka.maxMessageBytes must be positive")
	}
	for i, t := range c.Kafka.Topics {
		if t.Name == "" {
			return fmt.Errorf("kafka.topics[%d].name must not be empty", i)
		}
		if t.Partitions < 1 {
			return fmt.Errorf("kafka.topics[%d].partitions must be at least 1", i)
		}
		if t.ReplicationFactor < 1 {
			return fmt.Errorf("kafka.topics[%d].replicationFactor must be at least 1", i)
		}
	}
	if c.Publish.Mode != ModeLines && c.Publish.Mode != ModeFile {
		return fmt.Errorf("publish.mode must be %q or %q, got %q", ModeLines, ModeFile, c.Publish.Mode)
	}
	return nil
}
