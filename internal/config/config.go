package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Engine   EngineConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// RedisConfig holds Redis configuration for the dedup ledger and the
// dashboard cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers         []string
	ExecutionsTopic string
	RebuildsTopic   string
	GroupID         string
}

// EngineConfig holds position engine tuning
type EngineConfig struct {
	// RebuildLockWait bounds how long a caller waits for the per-pair
	// rebuild lock before giving up.
	RebuildLockWait time.Duration
	// Multipliers holds instrument multiplier overrides parsed from
	// MULTIPLIERS ("MNQ:2,ES:50").
	Multipliers map[string]decimal.Decimal
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "futuresjournal"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "db/migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:         []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			ExecutionsTopic: getEnv("KAFKA_EXECUTIONS_TOPIC", "execution-events"),
			RebuildsTopic:   getEnv("KAFKA_REBUILDS_TOPIC", "position-rebuilds"),
			GroupID:         getEnv("KAFKA_GROUP_ID", "position-engine"),
		},
		Engine: EngineConfig{
			RebuildLockWait: getEnvDuration("REBUILD_LOCK_WAIT", 30*time.Second),
			Multipliers:     parseMultipliers(getEnv("MULTIPLIERS", "")),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// parseMultipliers parses "SYMBOL:VALUE,SYMBOL:VALUE" pairs, ignoring
// malformed entries.
func parseMultipliers(raw string) map[string]decimal.Decimal {
	multipliers := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		multipliers[strings.ToUpper(strings.TrimSpace(parts[0]))] = value
	}
	return multipliers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
