// Package config holds the service configuration and its validation.
// Values are layered: defaults, then an optional .env file, then the
// process environment. See load.go.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-ledger/leave"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config is the complete application configuration.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Store       StoreConfig
	SQLite      SQLiteConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Ledger      LedgerConfig
	Migration   MigrationConfig
	Kafka       KafkaConfig
}

type ApplicationConfig struct {
	Env  string
	Name string
}

type LoggingConfig struct {
	Level  string
	Pretty bool // console output instead of JSON
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	AllowedOrigins  []string
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string // ":memory:" for an ephemeral database
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI         string
	Database    string
	Timeout     time.Duration
	MaxPoolSize uint64
}

// LedgerConfig tunes the leave engine.
type LedgerConfig struct {
	StoreTimeout       time.Duration
	DefaultEntitlement int
	MaxApplyAttempts   int
	RetryBackoff       time.Duration
	RetentionPolicy    leave.RetentionPolicy
}

// MigrationConfig controls the balance migration runner and its scheduler.
type MigrationConfig struct {
	Concurrency int
	Interval    time.Duration // 0 disables the periodic run
	OnStartup   bool
}

// KafkaConfig contains the employee lifecycle consumer settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        string
	LifecycleTopic string
	ConsumerGroup  string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
}

// BrokerList splits the comma-separated broker string.
func (k KafkaConfig) BrokerList() []string {
	return splitList(k.Brokers)
}

// LeaveOptions maps the ledger settings onto engine options.
func (c *Config) LeaveOptions() leave.Options {
	return leave.Options{
		Entitlement:          c.Ledger.DefaultEntitlement,
		StoreTimeout:         c.Ledger.StoreTimeout,
		MaxApplyAttempts:     c.Ledger.MaxApplyAttempts,
		RetryBackoff:         c.Ledger.RetryBackoff,
		MigrationConcurrency: c.Migration.Concurrency,
		Retention:            c.Ledger.RetentionPolicy,
	}
}

// validate collects every problem instead of stopping at the first one.
func (c *Config) validate() error {
	var validationErrors []string

	// Server
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Store, checked only for the selected driver
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLite.Path == "" {
			validationErrors = append(validationErrors, "SQLITE_PATH is required")
		}
	case DriverPostgres:
		if c.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required")
		}
		if c.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be between 0 and POSTGRES_MAX_CONNS")
		}
		if c.Postgres.MigrationsPath == "" {
			validationErrors = append(validationErrors, "POSTGRES_MIGRATIONS_PATH is required")
		}
	case DriverMongo:
		if c.MongoDB.URI == "" {
			validationErrors = append(validationErrors, "MONGO_URI is required")
		}
		if c.MongoDB.Database == "" {
			validationErrors = append(validationErrors, "MONGO_DATABASE is required")
		}
		if c.MongoDB.Timeout <= 0 {
			validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
		}
	default:
		validationErrors = append(validationErrors,
			fmt.Sprintf("STORE_DRIVER must be one of memory, sqlite, postgres, mongo (got %q)", c.Store.Driver))
	}

	// Ledger
	if c.Ledger.DefaultEntitlement != leave.DefaultEntitlement {
		validationErrors = append(validationErrors,
			fmt.Sprintf("LEDGER_DEFAULT_ENTITLEMENT must be %d", leave.DefaultEntitlement))
	}
	if c.Ledger.MaxApplyAttempts <= 0 {
		validationErrors = append(validationErrors, "LEDGER_MAX_APPLY_ATTEMPTS must be greater than 0")
	}
	if c.Ledger.StoreTimeout < 0 {
		validationErrors = append(validationErrors, "LEDGER_STORE_TIMEOUT must not be negative")
	}
	if c.Ledger.RetentionPolicy != leave.RetainLedger && c.Ledger.RetentionPolicy != leave.PurgeLedger {
		validationErrors = append(validationErrors, "RETENTION_POLICY must be retain or purge")
	}

	// Migration
	if c.Migration.Concurrency <= 0 {
		validationErrors = append(validationErrors, "MIGRATION_CONCURRENCY must be greater than 0")
	}
	if c.Migration.Interval < 0 {
		validationErrors = append(validationErrors, "MIGRATION_INTERVAL must not be negative")
	}

	// Kafka, only when the consumer runs
	if c.Kafka.Enabled {
		if len(c.Kafka.BrokerList()) == 0 {
			validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
		}
		if c.Kafka.LifecycleTopic == "" {
			validationErrors = append(validationErrors, "KAFKA_LIFECYCLE_TOPIC is required")
		}
		if c.Kafka.ConsumerGroup == "" {
			validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
		}
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}
	return nil
}
