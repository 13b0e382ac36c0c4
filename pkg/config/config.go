// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. A .env file in the working directory is
// loaded first so local development can keep credentials out of the YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Worker     WorkerConfig     `yaml:"worker"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the submission endpoint.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RabbitMQConfig holds broker connection and topology names.
type RabbitMQConfig struct {
	Host       string `yaml:"host" validate:"required"`
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	User       string `yaml:"user" validate:"required"`
	Password   string `yaml:"password"`
	VHost      string `yaml:"vhost"`
	Exchange   string `yaml:"exchange" validate:"required"`
	Queue      string `yaml:"queue" validate:"required"`
	RoutingKey string `yaml:"routingKey" validate:"required"`
	// DeadLetterExchange, when set, is attached to the queue so messages
	// discarded by the worker are dead-lettered instead of dropped.
	DeadLetterExchange string        `yaml:"deadLetterExchange"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
}

// URL returns an amqp:// URL for the configured broker.
func (r RabbitMQConfig) URL() string {
	vhost := strings.TrimPrefix(r.VHost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", r.User, r.Password, r.Host, r.Port, vhost)
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Database        string        `yaml:"database" validate:"required"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds the connection used by the delivery attempt tracker.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	KeyTTL   time.Duration `yaml:"keyTTL"`
}

// KafkaConfig controls the optional record-stored event stream.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
}

// ExtractionConfig configures the OpenAI-compatible extraction service.
type ExtractionConfig struct {
	BaseURL     string  `yaml:"baseUrl"`
	APIKey      string  `yaml:"apiKey"`
	Model       string  `yaml:"model" validate:"required"`
	MaxTokens   int     `yaml:"maxTokens" validate:"min=1"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	// StrictValues rejects records whose value cannot be parsed instead of
	// storing them with a zero value.
	StrictValues bool `yaml:"strictValues"`
}

// WorkerConfig controls the consume loop.
type WorkerConfig struct {
	ConsumerTag string `yaml:"consumerTag"`
	// MaxDeliveries caps redeliveries of transiently failing messages.
	// Zero means unbounded.
	MaxDeliveries     int           `yaml:"maxDeliveries" validate:"min=0"`
	ReconnectAttempts int           `yaml:"reconnectAttempts"`
	ReconnectDelay    time.Duration `yaml:"reconnectDelay"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a .env file and a YAML config file (both optional), applies
// environment-variable overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags on every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development. Names
// match the deployed broker topology.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Host:       "localhost",
			Port:       5672,
			User:       "guest",
			Password:   "guest",
			Exchange:   "financial_data_exchange",
			Queue:      "financial_data_queue",
			RoutingKey: "financial_data",
			Heartbeat:  600 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "financial_data",
			User:            "financial_data",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 4,
			KeyTTL:   24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "financial-records.stored",
		},
		Extraction: ExtractionConfig{
			Model:       "gpt-4o",
			MaxTokens:   1000,
			Temperature: 0.0,
		},
		Worker: WorkerConfig{
			ConsumerTag:       "financial-data-worker",
			ReconnectAttempts: 10,
			ReconnectDelay:    time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FDP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt("FDP_SERVER_PORT", &cfg.Server.Port)

	setString("FDP_RABBITMQ_HOST", &cfg.RabbitMQ.Host)
	setInt("FDP_RABBITMQ_PORT", &cfg.RabbitMQ.Port)
	setString("FDP_RABBITMQ_USER", &cfg.RabbitMQ.User)
	setString("FDP_RABBITMQ_PASSWORD", &cfg.RabbitMQ.Password)
	setString("FDP_RABBITMQ_VHOST", &cfg.RabbitMQ.VHost)
	setString("FDP_RABBITMQ_EXCHANGE", &cfg.RabbitMQ.Exchange)
	setString("FDP_RABBITMQ_QUEUE", &cfg.RabbitMQ.Queue)
	setString("FDP_RABBITMQ_ROUTING_KEY", &cfg.RabbitMQ.RoutingKey)
	setString("FDP_RABBITMQ_DEAD_LETTER_EXCHANGE", &cfg.RabbitMQ.DeadLetterExchange)

	setString("FDP_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("FDP_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("FDP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("FDP_POSTGRES_USER", &cfg.Postgres.User)
	setString("FDP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("FDP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	setBool("FDP_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("FDP_REDIS_ADDR", &cfg.Redis.Addr)
	setString("FDP_REDIS_PASSWORD", &cfg.Redis.Password)

	setBool("FDP_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("FDP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("FDP_KAFKA_TOPIC", &cfg.Kafka.Topic)

	setString("FDP_EXTRACTION_BASE_URL", &cfg.Extraction.BaseURL)
	setString("FDP_EXTRACTION_MODEL", &cfg.Extraction.Model)
	setBool("FDP_EXTRACTION_STRICT_VALUES", &cfg.Extraction.StrictValues)
	// The original deployment only knew OPENAI_API_KEY.
	setString("OPENAI_API_KEY", &cfg.Extraction.APIKey)
	setString("FDP_EXTRACTION_API_KEY", &cfg.Extraction.APIKey)

	setInt("FDP_WORKER_MAX_DELIVERIES", &cfg.Worker.MaxDeliveries)
	setString("FDP_WORKER_CONSUMER_TAG", &cfg.Worker.ConsumerTag)

	setString("FDP_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("FDP_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("FDP_METRICS_PORT", &cfg.Metrics.Port)
}
