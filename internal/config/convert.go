package config

import (
	"time"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
	"github.com/cuongbtq/job-supervisor/shared/logger"
	"github.com/cuongbtq/job-supervisor/shared/postgresql"
	"github.com/cuongbtq/job-supervisor/shared/rabbitmq"
)

// LoggerConfig maps the logging section onto the shared logger
func (c *LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		Output:       c.Output,
		EnableSource: c.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
}

// PostgresConfig maps the database section onto the shared PostgreSQL client
func (c *DatabaseConfig) PostgresConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// ClientConfig maps the connection settings onto the shared RabbitMQ client
func (c *RabbitMQConfig) ClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:              c.Host,
		Port:              c.Port,
		User:              c.User,
		Password:          c.Password,
		VHost:             c.VHost,
		ConnectionName:    c.Connection.Name,
		RetryAttempts:     c.Connection.RetryAttempts,
		RetryInterval:     c.Connection.RetryInterval,
		Heartbeat:         c.Connection.Heartbeat,
		ConnectionTimeout: c.Connection.ConnectionTimeout,
	}
}

// SignallingConfig maps the exchange, queue and consumer settings onto a log consumer config
func (c *RabbitMQConfig) SignallingConfig() signalling.Config {
	return signalling.Config{
		Exchange:           c.Exchange.Name,
		ExchangeDurable:    c.Exchange.Durable,
		ExchangeAutoDelete: c.Exchange.AutoDelete,
		QueueDurable:       c.Queue.Durable,
		QueueAutoDelete:    c.Queue.AutoDelete,
		QueueExpires:       c.Queue.Expires,
		PrefetchCount:      c.Consumer.PrefetchCount,
	}
}

// ArchiverConfig maps the archive section onto the OpenSearch archiver
func (c *ArchiveConfig) ArchiverConfig() *archive.Config {
	return &archive.Config{
		Addresses: c.Addresses,
		Username:  c.Username,
		Password:  c.Password,
		Index:     c.Index,
	}
}
