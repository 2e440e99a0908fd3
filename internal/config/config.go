package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// JobConfig describes one scheduled ingestion job: which feed window to
// fetch and how often.
type JobConfig struct {
	ID           string
	Name         string
	Interval     time.Duration
	Period       string
	MinMagnitude string
	Enabled      bool
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DatabaseURL selects the Postgres repository; empty falls back to the
	// in-memory repository (dev mode, no durability).
	DatabaseURL string

	KafkaBrokers     []string
	KafkaAlertsTopic string
	KafkaEnabled     bool

	USGSBaseURL    string
	USGSTimeout    time.Duration
	USGSMaxRecords int

	// TickTimeout bounds one complete fetch+ingest cycle.
	TickTimeout time.Duration

	// BroadcastMinInterval is the minimum spacing between successive
	// outbound websocket sends.
	BroadcastMinInterval time.Duration

	Jobs []JobConfig
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	usgsTimeout, err := parseDuration("USGS_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	tickTimeout, err := parseDuration("TICK_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	broadcastInterval, err := parseDuration("BROADCAST_MIN_INTERVAL", "150ms")
	if err != nil {
		return nil, err
	}
	maxRecords, err := parseInt("USGS_MAX_RECORDS", 100)
	if err != nil {
		return nil, err
	}

	jobs, err := loadJobs()
	if err != nil {
		return nil, err
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers:     brokers,
		KafkaAlertsTopic: envOrDefault("KAFKA_ALERTS_TOPIC", "hazard-events"),
		KafkaEnabled:     kafkaEnabled,

		USGSBaseURL:    envOrDefault("USGS_BASE_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary"),
		USGSTimeout:    usgsTimeout,
		USGSMaxRecords: maxRecords,

		TickTimeout:          tickTimeout,
		BroadcastMinInterval: broadcastInterval,

		Jobs: jobs,
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.BroadcastMinInterval < 0 {
		return nil, errors.New("BROADCAST_MIN_INTERVAL must not be negative")
	}

	return cfg, nil
}

// loadJobs builds the two default feed jobs. Either can be disabled; the
// sweep job covers recent activity frequently, the significant job catches
// strong events across a wider window.
func loadJobs() ([]JobConfig, error) {
	sweepInterval, err := parseDuration("USGS_INGESTION_INTERVAL", "30m")
	if err != nil {
		return nil, err
	}
	significantInterval, err := parseDuration("USGS_SIGNIFICANT_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	return []JobConfig{
		{
			ID:           "usgs_ingestion",
			Name:         "USGS earthquake feed ingestion",
			Interval:     sweepInterval,
			Period:       envOrDefault("USGS_INGESTION_PERIOD", "hour"),
			MinMagnitude: envOrDefault("USGS_INGESTION_MIN_MAGNITUDE", "2.5"),
			Enabled:      os.Getenv("USGS_INGESTION_ENABLED") != "false",
		},
		{
			ID:           "usgs_significant",
			Name:         "USGS significant events sweep",
			Interval:     significantInterval,
			Period:       envOrDefault("USGS_SIGNIFICANT_PERIOD", "day"),
			MinMagnitude: envOrDefault("USGS_SIGNIFICANT_MIN_MAGNITUDE", "significant"),
			Enabled:      os.Getenv("USGS_SIGNIFICANT_ENABLED") != "false",
		},
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
