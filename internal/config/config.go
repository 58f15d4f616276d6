package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultExchange is the topic exchange job workers publish log events to
	DefaultExchange = "oq-signalling"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and signalling exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds the topic exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds per-job queue configuration. Expires maps to the x-expires queue argument.
type QueueConfig struct {
	Durable    bool          `yaml:"durable"`
	AutoDelete bool          `yaml:"auto_delete"`
	Expires    time.Duration `yaml:"expires"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	Name              string        `yaml:"name"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SupervisorConfig holds supervisor service configuration
type SupervisorConfig struct {
	MaxSupervisions int           `yaml:"max_supervisions"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	FailureLevels   []string      `yaml:"failure_levels"`
	DefaultLevels   []string      `yaml:"default_levels"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ArchiveConfig holds the OpenSearch log archive configuration
type ArchiveConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// Load reads and parses the configuration file, then applies defaults and environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := seed()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

// Default returns the built-in defaults plus environment overrides, for running without a config file
func Default() *Config {
	config := seed()
	config.applyDefaults()
	config.applyEnv()
	return &config
}

// seed returns the defaults of settings whose zero value is meaningful. The file is decoded
// over it, so keys left out keep these values.
func seed() Config {
	return Config{
		RabbitMQ: RabbitMQConfig{
			// job workers declare the signalling exchange auto-delete; a mismatch fails the redeclare
			Exchange: ExchangeConfig{AutoDelete: true},
		},
	}
}

// applyDefaults fills settings left empty in the file
func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.VHost == "" {
		c.RabbitMQ.VHost = "/"
	}
	if c.RabbitMQ.Exchange.Name == "" {
		c.RabbitMQ.Exchange.Name = DefaultExchange
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 1
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Supervisor.PollInterval == 0 {
		c.Supervisor.PollInterval = time.Second
	}
	if len(c.Supervisor.FailureLevels) == 0 {
		c.Supervisor.FailureLevels = []string{"ERROR", "CRITICAL"}
	}
	if c.Supervisor.ShutdownTimeout == 0 {
		c.Supervisor.ShutdownTimeout = 30 * time.Second
	}
	if c.Archive.Index == "" {
		c.Archive.Index = "job-logs"
	}
}

// applyEnv lets secrets come from the environment (or a .env file) instead of the config file
func (c *Config) applyEnv() {
	if v := os.Getenv("RABBITMQ_USER"); v != "" {
		c.RabbitMQ.User = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		c.Archive.Password = v
	}
}

// ValidateTailConfig checks the settings needed to consume a job log stream
func (c *Config) ValidateTailConfig() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Expires < 0 {
		return fmt.Errorf("rabbitmq queue expires must not be negative")
	}

	return nil
}

// ValidateServiceConfig checks the settings of the supervisor service
func (c *Config) ValidateServiceConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := c.ValidateTailConfig(); err != nil {
		return err
	}

	if c.Supervisor.MaxSupervisions <= 0 {
		return fmt.Errorf("supervisor max_supervisions must be greater than 0")
	}

	if c.Supervisor.PollInterval <= 0 {
		return fmt.Errorf("supervisor poll_interval must be greater than 0")
	}

	if c.Supervisor.MaxDuration < 0 {
		return fmt.Errorf("supervisor max_duration must not be negative")
	}

	if c.Archive.Enabled && len(c.Archive.Addresses) == 0 {
		return fmt.Errorf("archive addresses are required when archive is enabled")
	}

	return nil
}
