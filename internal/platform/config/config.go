package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	strs "kycflow/pkg/platform/strings"
)

// Config is the whole process configuration, read once at startup.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	MinIO    MinIO
	Logging  Logging
	Workflow Workflow
}

// Server captures the ops HTTP server configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig holds connection settings for the Redis task queue.
// An empty URL means Redis is not configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// Kafka configures the audit outbox relay. No brokers disables the relay.
type Kafka struct {
	Brokers           []string
	Topic             string
	Partitions        int
	ReplicationFactor int
	FlushInterval     time.Duration
	BatchSize         int
}

// MinIO configures document image storage. An empty endpoint keeps images in memory.
type MinIO struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Logging struct {
	Level     string
	Format    string // json or text
	AddSource bool
}

// QueueBackend selects where delayed retry tasks live.
type QueueBackend string

const (
	QueueMemory   QueueBackend = "memory"
	QueueRedis    QueueBackend = "redis"
	QueuePostgres QueueBackend = "postgres"
)

type Workflow struct {
	PolicyPath       string
	MaxCascade       int
	MaxParallelCalls int
	QueueBackend     QueueBackend
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	TaskLease        time.Duration
	TaskPollInterval time.Duration
}

// FromEnv builds the configuration from KYCFLOW_* environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:            getenv("KYCFLOW_ADDR", ":8080"),
			ShutdownTimeout: getenvDuration("KYCFLOW_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: Database{
			URL:             os.Getenv("KYCFLOW_DATABASE_URL"),
			MaxOpenConns:    getenvInt("KYCFLOW_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getenvInt("KYCFLOW_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getenvDuration("KYCFLOW_DB_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       getenvDuration("KYCFLOW_DB_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("KYCFLOW_REDIS_URL"),
			PoolSize:     getenvInt("KYCFLOW_REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("KYCFLOW_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("KYCFLOW_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("KYCFLOW_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("KYCFLOW_REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    getenv("KYCFLOW_REDIS_KEY_PREFIX", "kycflow:tasks"),
		},
		Kafka: Kafka{
			Brokers:           getenvList("KYCFLOW_KAFKA_BROKERS"),
			Topic:             getenv("KYCFLOW_KAFKA_TOPIC", "kycflow.audit"),
			Partitions:        getenvInt("KYCFLOW_KAFKA_PARTITIONS", 6),
			ReplicationFactor: getenvInt("KYCFLOW_KAFKA_REPLICATION_FACTOR", 1),
			FlushInterval:     getenvDuration("KYCFLOW_OUTBOX_FLUSH_INTERVAL", time.Second),
			BatchSize:         getenvInt("KYCFLOW_OUTBOX_BATCH_SIZE", 100),
		},
		MinIO: MinIO{
			Endpoint:  os.Getenv("KYCFLOW_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("KYCFLOW_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("KYCFLOW_MINIO_SECRET_KEY"),
			Bucket:    getenv("KYCFLOW_MINIO_BUCKET", "kycflow-documents"),
			UseSSL:    getenvBool("KYCFLOW_MINIO_USE_SSL", false),
		},
		Logging: Logging{
			Level:     getenv("KYCFLOW_LOG_LEVEL", "info"),
			Format:    getenv("KYCFLOW_LOG_FORMAT", "json"),
			AddSource: getenvBool("KYCFLOW_LOG_SOURCE", false),
		},
		Workflow: Workflow{
			PolicyPath:       getenv("KYCFLOW_POLICY_PATH", "config/policy.yaml"),
			MaxCascade:       getenvInt("KYCFLOW_MAX_CASCADE", 16),
			MaxParallelCalls: getenvInt("KYCFLOW_MAX_PARALLEL_CALLS", 4),
			QueueBackend:     QueueBackend(getenv("KYCFLOW_QUEUE_BACKEND", string(QueueMemory))),
			RetryBaseDelay:   getenvDuration("KYCFLOW_RETRY_BASE_DELAY", 5*time.Second),
			RetryMaxDelay:    getenvDuration("KYCFLOW_RETRY_MAX_DELAY", 10*time.Minute),
			RetryMaxAttempts: getenvInt("KYCFLOW_RETRY_MAX_ATTEMPTS", 8),
			TaskLease:        getenvDuration("KYCFLOW_TASK_LEASE", time.Minute),
			TaskPollInterval: getenvDuration("KYCFLOW_TASK_POLL_INTERVAL", time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Workflow.QueueBackend {
	case QueueMemory:
	case QueueRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("KYCFLOW_REDIS_URL is required for the redis queue backend")
		}
	case QueuePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("KYCFLOW_DATABASE_URL is required for the postgres queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Workflow.QueueBackend)
	}
	if len(c.Kafka.Brokers) > 0 && c.Database.URL == "" {
		return fmt.Errorf("the outbox relay needs KYCFLOW_DATABASE_URL")
	}
	if c.Workflow.RetryMaxDelay < c.Workflow.RetryBaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s", c.Workflow.RetryMaxDelay, c.Workflow.RetryBaseDelay)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvList(key string) []string {
	return strs.SplitList(os.Getenv(key))
}
