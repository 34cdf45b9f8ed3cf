// Package config provides configuration parsing and validation for the
// transcript-worker and alert-flusher binaries.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultNumShards is the default number of pending-alert partitions.
	DefaultNumShards = 5
	// MaxRecommendedWorkers is the threshold above which a worker count
	// is accepted but warned about.
	MaxRecommendedWorkers = 50
)

// BatchWindows maps a communication type to the minimum delay between an
// alert's first trigger and its flushed notification. Types without an
// entry use Default. A zero window means flush-eligible on the next sweep.
type BatchWindows struct {
	ByType  map[string]time.Duration
	Default time.Duration
}

// DefaultBatchWindows returns the standard window configuration.
func DefaultBatchWindows() BatchWindows {
	return BatchWindows{
		ByType: map[string]time.Duration{
			"call":  30 * time.Second,
			"email": 5 * time.Minute,
			"chat":  0,
		},
		Default: 60 * time.Second,
	}
}

// WindowFor returns the batch window for a communication type, falling
// back to the default window for unknown types.
func (w BatchWindows) WindowFor(communicationType string) time.Duration {
	if d, ok := w.ByType[communicationType]; ok {
		return d
	}
	return w.Default
}

// Min returns the smallest configured window across all types and the
// default. The flusher uses it as a cheap superset pre-filter cutoff.
func (w BatchWindows) Min() time.Duration {
	min := w.Default
	for _, d := range w.ByType {
		if d < min {
			min = d
		}
	}
	return min
}

// ParseBatchWindows parses a comma-separated list of type=duration pairs,
// e.g. "call=30s,email=5m,chat=0s". An empty string yields no overrides.
func ParseBatchWindows(s string, defaultWindow time.Duration) (BatchWindows, error) {
	windows := BatchWindows{
		ByType:  make(map[string]time.Duration),
		Default: defaultWindow,
	}
	if s == "" {
		return windows, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return BatchWindows{}, fmt.Errorf("invalid batch window entry %q, want type=duration", pair)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return BatchWindows{}, fmt.Errorf("invalid batch window duration for %q: %w", name, err)
		}
		if d < 0 {
			return BatchWindows{}, fmt.Errorf("batch window for %q cannot be negative", name)
		}
		windows.ByType[strings.TrimSpace(name)] = d
	}
	return windows, nil
}

// Config holds all configuration parameters shared by the binaries.
// Each binary validates only the fields it uses via the Validate methods.
type Config struct {
	KafkaBrokers       string
	TranscriptsTopic   string
	NotificationsTopic string
	ConsumerGroupID    string
	PostgresDSN        string
	RedisAddr          string

	OracleBaseURL string
	OracleAPIKey  string
	OracleModel   string

	NumShards     int
	Windows       BatchWindows
	SweepInterval time.Duration
	WorkerCount   int
}

// validateShared checks fields used by both binaries.
func (c *Config) validateShared() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.NumShards <= 0 {
		return fmt.Errorf("num-shards must be > 0")
	}
	return nil
}

// ValidateWorker checks the configuration required by transcript-worker.
func (c *Config) ValidateWorker() error {
	if err := c.validateShared(); err != nil {
		return err
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.TranscriptsTopic == "" {
		return fmt.Errorf("transcripts-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.OracleAPIKey == "" {
		return fmt.Errorf("oracle-api-key cannot be empty")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker-count must be > 0")
	}
	return nil
}

// ValidateFlusher checks the configuration required by alert-flusher.
func (c *Config) ValidateFlusher() error {
	if err := c.validateShared(); err != nil {
		return err
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.NotificationsTopic == "" {
		return fmt.Errorf("notifications-topic cannot be empty")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be > 0")
	}
	if min := c.Windows.Min(); c.SweepInterval > min && min > 0 {
		return fmt.Errorf("sweep-interval %s must not exceed the smallest batch window %s", c.SweepInterval, min)
	}
	return nil
}
