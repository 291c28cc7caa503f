package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dvloznov/account-ledger/internal/domain"
)

// Config holds the runtime settings shared by every command.
type Config struct {
	Port string
	Env  string

	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string
	// RedisAddr selects the distributed account lock; empty means in-process.
	RedisAddr string

	// KafkaBrokers selects the Kafka event stream; empty means the in-process queue.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	BigQueryProject string
	BigQueryDataset string
	StatementBucket string

	LogLevel  string
	LogFormat string

	// SeedOwners registers owners in the in-memory store ("1:Pobi,2:Harry").
	SeedOwners []domain.Owner
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	owners, err := parseOwners(getEnv("SEED_OWNERS", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "ledger.transactions"),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "ledger-exporter"),
		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", "ledger"),
		StatementBucket: getEnv("STATEMENT_BUCKET", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),
		SeedOwners:      owners,
	}, nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv returns the variable or fallback when it is unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOwners(s string) ([]domain.Owner, error) {
	var owners []domain.Owner
	for _, entry := range splitList(s) {
		idStr, name, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("config: SEED_OWNERS entry %q: want id:name", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: SEED_OWNERS entry %q: %w", entry, err)
		}
		owners = append(owners, domain.Owner{ID: id, Name: strings.TrimSpace(name)})
	}
	return owners, nil
}
