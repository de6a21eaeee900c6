// Package config provides configuration management for the scd CLI.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mergetide/go-scd"
)

// Config represents the scd runner configuration.
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Service name, used in metrics and trace labels
	Service string `yaml:"service"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Kafka source configuration
	Kafka KafkaConfig `yaml:"kafka"`

	// Notify configuration for downstream fan-out
	Notify NotifyConfig `yaml:"notify,omitempty"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// Workers is the merge lane count. Zero means one lane per CPU.
	Workers int `yaml:"workers,omitempty"`

	// Entities lists the merged entities
	Entities []EntityConfig `yaml:"entities"`
}

// DatabaseConfig contains state store settings.
type DatabaseConfig struct {
	// Driver is the store driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema to use
	Schema string `yaml:"schema"`
}

// KafkaConfig contains change feed settings.
type KafkaConfig struct {
	// Brokers lists the broker addresses
	Brokers []string `yaml:"brokers"`

	// GroupID is the consumer group id
	GroupID string `yaml:"group_id"`

	// BatchSize is the maximum events per micro-batch
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxWait is how long a partial batch waits before flushing
	MaxWait time.Duration `yaml:"max_wait,omitempty"`

	// Codec selects the row payload encoding (json, msgpack)
	Codec string `yaml:"codec,omitempty"`
}

// NotifyConfig contains applied-change fan-out settings.
type NotifyConfig struct {
	// KafkaTopic publishes changes to a Kafka topic when set
	KafkaTopic string `yaml:"kafka_topic,omitempty"`

	// WebhookURL posts change batches to an endpoint when set
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the metrics server
	Addr string `yaml:"addr,omitempty"`
}

// EntityConfig describes one merged entity.
type EntityConfig struct {
	// Name is the entity identifier
	Name string `yaml:"name"`

	// Topic is the Kafka topic carrying the entity's feed
	Topic string `yaml:"topic"`

	// KeyColumn holds the entity key
	KeyColumn string `yaml:"key_column"`

	// SequenceColumn holds the per-key sequence
	SequenceColumn string `yaml:"sequence_column"`

	// OperationColumn holds the operation code. Defaults to "operation".
	OperationColumn string `yaml:"operation_column,omitempty"`

	// TrackOnly limits history versioning to these columns
	TrackOnly []string `yaml:"track_only,omitempty"`

	// TrackExcept versions every column except these
	TrackExcept []string `yaml:"track_except,omitempty"`
}

// Entity converts the YAML entity into an engine entity config.
func (e EntityConfig) Entity() scd.EntityConfig {
	tracked := scd.TrackAll()
	if len(e.TrackOnly) > 0 {
		tracked = scd.TrackOnly(e.TrackOnly...)
	} else if len(e.TrackExcept) > 0 {
		tracked = scd.TrackAllExcept(e.TrackExcept...)
	}
	return scd.EntityConfig{
		Name:            e.Name,
		KeyColumn:       e.KeyColumn,
		SequenceColumn:  e.SequenceColumn,
		OperationColumn: e.OperationColumn,
		Tracked:         tracked,
	}
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Service: "scd-merger",
		Database: DatabaseConfig{
			Driver: "postgres",
			Schema: "scd",
		},
		Kafka: KafkaConfig{
			Brokers:   []string{"localhost:9092"},
			GroupID:   "scd-merger",
			BatchSize: 500,
			MaxWait:   time.Second,
			Codec:     "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
		},
		Entities: []EntityConfig{
			{
				Name:           "customers",
				Topic:          "cdc.customers",
				KeyColumn:      "customer_id",
				SequenceColumn: "sequence_number",
			},
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "scd.yaml"

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory.
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// Validate validates the configuration and returns a list of problems.
func (c *Config) Validate() []string {
	var errors []string

	if c.Database.Driver == "" {
		errors = append(errors, "database.driver is required")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		errors = append(errors, "database.url is required for the postgres driver")
	}
	if len(c.Kafka.Brokers) == 0 {
		errors = append(errors, "kafka.brokers is required")
	}
	if c.Kafka.GroupID == "" {
		errors = append(errors, "kafka.group_id is required")
	}
	if len(c.Entities) == 0 {
		errors = append(errors, "at least one entity is required")
	}
	seen := map[string]bool{}
	for _, e := range c.Entities {
		if e.Name == "" {
			errors = append(errors, "entity name is required")
			continue
		}
		if seen[e.Name] {
			errors = append(errors, "duplicate entity "+e.Name)
		}
		seen[e.Name] = true
		if e.Topic == "" {
			errors = append(errors, "entity "+e.Name+": topic is required")
		}
		if e.KeyColumn == "" {
			errors = append(errors, "entity "+e.Name+": key_column is required")
		}
		if e.SequenceColumn == "" {
			errors = append(errors, "entity "+e.Name+": sequence_column is required")
		}
		if len(e.TrackOnly) > 0 && len(e.TrackExcept) > 0 {
			errors = append(errors, "entity "+e.Name+": track_only and track_except are mutually exclusive")
		}
	}

	return errors
}
