package testsupport

import (
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"

	"chainintel/internal/adapters/config"
)

// Each backend is gated on its own variables so a Postgres-only test does not
// need ClickHouse or Redis to be configured.
var (
	postgresEnv   = []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB"}
	clickhouseEnv = []string{"CLICKHOUSE_HOST", "CLICKHOUSE_DB"}
	redisEnv      = []string{"REDIS_HOST"}
)

// PostgresFromEnv reads the postgres section, skipping the test when it is not configured
func PostgresFromEnv(t *testing.T) config.PostgresConfig {
	t.Helper()
	var cfg config.PostgresConfig
	loadSection(t, &cfg, postgresEnv)
	// Each test holds a single transaction
	if cfg.MaxConns > 5 {
		cfg.MaxConns = 5
	}
	return cfg
}

// ClickHouseFromEnv reads the clickhouse section, skipping the test when it is not configured
func ClickHouseFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	var cfg config.ClickHouseConfig
	loadSection(t, &cfg, clickhouseEnv)
	return cfg
}

// RedisFromEnv reads the redis section, skipping the test when it is not configured
func RedisFromEnv(t *testing.T) config.RedisConfig {
	t.Helper()
	var cfg config.RedisConfig
	loadSection(t, &cfg, redisEnv)
	return cfg
}

func loadSection(t *testing.T, spec any, required []string) {
	t.Helper()

	if missing := missingEnv(required...); len(missing) > 0 {
		t.Skipf("integration environment missing, set %v to run", missing)
	}
	if err := envconfig.Process("", spec); err != nil {
		t.Fatalf("invalid integration environment: %v", err)
	}
}

func missingEnv(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
