package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server           ServerConfig   `yaml:"server"`
	Database         DatabaseConfig `yaml:"database"`
	Redis            RedisConfig    `yaml:"redis"`
	Kafka            KafkaConfig    `yaml:"kafka"`
	InventoryService ServiceConfig  `yaml:"inventory_service"`
	Workflow         WorkflowConfig `yaml:"workflow"`
	Tracing          TracingConfig  `yaml:"tracing"`
	Features         FeatureFlags   `yaml:"features"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver       string        `yaml:"driver"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Name         string        `yaml:"name"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	OrdersTopic   string   `yaml:"orders_topic"`
	RequestsTopic string   `yaml:"requests_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"api_key"`
}

// WorkflowConfig bounds the placement workflow.
type WorkflowConfig struct {
	// Timeout caps a whole placement, independent of the caller.
	Timeout time.Duration `yaml:"timeout"`
	// CommitTimeout bounds the final store write, separately from Timeout.
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	// MaxInventoryAttempts counts the first call plus retries.
	MaxInventoryAttempts int           `yaml:"max_inventory_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != ""
}

type FeatureFlags struct {
	EnableOrderCaching         bool `yaml:"enable_order_caching"`
	EnableOrderEvents          bool `yaml:"enable_order_events"`
	EnableOrderRequestConsumer bool `yaml:"enable_order_request_consumer"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8082,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			User:         "acme",
			Password:     "acme",
			Name:         "acme_orders",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			TTL:  5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			OrdersTopic:   "orders",
			RequestsTopic: "order-requests",
			ConsumerGroup: "order-service",
		},
		InventoryService: ServiceConfig{
			BaseURL: "http://localhost:8084",
			Timeout: 3 * time.Second,
		},
		Workflow: WorkflowConfig{
			Timeout:              20 * time.Second,
			CommitTimeout:        5 * time.Second,
			MaxInventoryAttempts: 3,
			RetryInitialInterval: 200 * time.Millisecond,
			RetryMaxInterval:     2 * time.Second,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Database.Driver = getEnvString("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnvString("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnvString("DB_USER", c.Database.User)
	c.Database.Password = getEnvString("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvString("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnvString("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Host = getEnvString("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnvString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.TTL = getEnvDuration("REDIS_TTL", c.Redis.TTL)

	if brokers := getEnvString("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.OrdersTopic = getEnvString("KAFKA_ORDERS_TOPIC", c.Kafka.OrdersTopic)
	c.Kafka.RequestsTopic = getEnvString("KAFKA_REQUESTS_TOPIC", c.Kafka.RequestsTopic)
	c.Kafka.ConsumerGroup = getEnvString("KAFKA_CONSUMER_GROUP", c.Kafka.ConsumerGroup)

	c.InventoryService.BaseURL = getEnvString("INVENTORY_SERVICE_URL", c.InventoryService.BaseURL)
	c.InventoryService.Timeout = getEnvDuration("INVENTORY_SERVICE_TIMEOUT", c.InventoryService.Timeout)
	c.InventoryService.APIKey = getEnvString("INVENTORY_SERVICE_API_KEY", c.InventoryService.APIKey)

	c.Workflow.Timeout = getEnvDuration("WORKFLOW_TIMEOUT", c.Workflow.Timeout)
	c.Workflow.CommitTimeout = getEnvDuration("WORKFLOW_COMMIT_TIMEOUT", c.Workflow.CommitTimeout)
	c.Workflow.MaxInventoryAttempts = getEnvInt("WORKFLOW_MAX_INVENTORY_ATTEMPTS", c.Workflow.MaxInventoryAttempts)
	c.Workflow.RetryInitialInterval = getEnvDuration("WORKFLOW_RETRY_INITIAL_INTERVAL", c.Workflow.RetryInitialInterval)
	c.Workflow.RetryMaxInterval = getEnvDuration("WORKFLOW_RETRY_MAX_INTERVAL", c.Workflow.RetryMaxInterval)

	c.Tracing.Endpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)

	c.Features.EnableOrderCaching = getEnvBool("ENABLE_ORDER_CACHING", c.Features.EnableOrderCaching)
	c.Features.EnableOrderEvents = getEnvBool("ENABLE_ORDER_EVENTS", c.Features.EnableOrderEvents)
	c.Features.EnableOrderRequestConsumer = getEnvBool("ENABLE_ORDER_REQUEST_CONSUMER", c.Features.EnableOrderRequestConsumer)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.InventoryService.BaseURL == "" {
		return fmt.Errorf("INVENTORY_SERVICE_URL is required")
	}
	if c.InventoryService.Timeout <= 0 {
		return fmt.Errorf("INVENTORY_SERVICE_TIMEOUT must be positive")
	}
	if c.Workflow.MaxInventoryAttempts < 1 {
		return fmt.Errorf("WORKFLOW_MAX_INVENTORY_ATTEMPTS must be at least 1")
	}
	if c.Workflow.Timeout <= 0 || c.Workflow.CommitTimeout <= 0 {
		return fmt.Errorf("WORKFLOW_TIMEOUT and WORKFLOW_COMMIT_TIMEOUT must be positive")
	}
	if (c.Features.EnableOrderEvents || c.Features.EnableOrderRequestConsumer) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when kafka features are enabled")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
