package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr          string
	DatabaseURL   string
	ArchiveRoot   string
	JWTSigningKey string

	Redis RedisConfig
	Kafka KafkaConfig

	// ArchiveQueueSize bounds the background archive work queue.
	ArchiveQueueSize int
	// ArchiveRetryBase is the first backoff delay for failed archive writes.
	ArchiveRetryBase time.Duration
	// ReconcileInterval is how often the background scanner runs. Zero
	// disables scheduled scans (on-demand only).
	ReconcileInterval time.Duration
}

// RedisConfig holds connection settings for the watermark store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the optional audit mirror producer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables with development
// defaults.
func FromEnv() Server {
	cfg := Server{
		Addr:              envOr("PSYMETRIC_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ArchiveRoot:       envOr("ARCHIVE_ROOT", "archives"),
		JWTSigningKey:     envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ArchiveQueueSize:  envOrInt("ARCHIVE_QUEUE_SIZE", 1024),
		ArchiveRetryBase:  envOrDuration("ARCHIVE_RETRY_BASE", 100*time.Millisecond),
		ReconcileInterval: envOrDuration("RECONCILE_INTERVAL", 0),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envOrInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envOrInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envOrDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envOrDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envOrDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Topic: envOr("KAFKA_AUDIT_TOPIC", "audit.events"),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
