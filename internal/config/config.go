package config

import (
	"fmt"
	"strconv"

	"callboard/internal/hub"
	"callboard/internal/store"
	"callboard/pkg/config"
)

// DefaultPort is where Crier listens when PORT is unset.
const DefaultPort = "18030"

// DefaultTopic is the Kafka topic announcements are consumed from.
const DefaultTopic = "callboard.announcements"

// Config stores environment configuration for Crier.
type Config struct {
	Port        string
	Environment string

	StoreCapacity          int
	BacklogLimit           int
	HistoryLimit           int
	BroadcastProcessed     bool
	AllowTestAnnouncements bool

	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaClientID  string
	KafkaClusterID string
	KafkaDLQTopic  string
}

// LoadConfig loads the Crier configuration from environment variables.
// Malformed values are reported together rather than replaced by defaults.
func LoadConfig() (Config, error) {
	var env config.Env
	cfg := Config{
		Port:                   env.String("PORT", DefaultPort),
		Environment:            env.String("APP_ENV", "development"),
		StoreCapacity:          env.Int("STORE_CAPACITY", store.DefaultCapacity, 1),
		BacklogLimit:           env.Int("BACKLOG_LIMIT", 0, 0),
		HistoryLimit:           env.Int("HISTORY_LIMIT", hub.DefaultHistoryLimit, 1),
		BroadcastProcessed:     env.Bool("BROADCAST_PROCESSED", false),
		AllowTestAnnouncements: env.Bool("ALLOW_TEST_ANNOUNCEMENTS", true),
		KafkaBrokers:           env.List("KAFKA_BROKERS"),
		KafkaTopic:             env.String("KAFKA_TOPIC", DefaultTopic),
		KafkaGroupID:           env.String("KAFKA_GROUP_ID", "crier-group"),
		KafkaClientID:          env.String("KAFKA_CLIENT_ID", "crier"),
		KafkaClusterID:         env.String("KAFKA_CLUSTER_ID", "local"),
		KafkaDLQTopic:          env.String("KAFKA_DLQ_TOPIC", ""),
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		return cfg, fmt.Errorf("PORT: %q is not a valid port", cfg.Port)
	}
	if err := env.Err(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// KafkaEnabled reports whether the Kafka ingest path should run.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// HubConfig derives the hub settings.
func (c Config) HubConfig() hub.Config {
	return hub.Config{
		Capacity:           c.StoreCapacity,
		BacklogLimit:       c.BacklogLimit,
		HistoryLimit:       c.HistoryLimit,
		BroadcastProcessed: c.BroadcastProcessed,
	}
}
