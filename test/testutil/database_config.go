package testutil

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig holds configuration for connecting to an external Postgres
// server instead of a container.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// External reports whether the config points at an existing server.
func (c DatabaseConfig) External() bool { return c.URL != "" }

// GetDatabaseConfig reads database configuration from environment variables.
// STRATA_TEST_DATABASE_URL takes precedence over the STRATA_TEST_DB_* parts.
// An empty config means a testcontainers Postgres is started instead.
func GetDatabaseConfig() DatabaseConfig {
	maxConns := getEnvInt("STRATA_TEST_DB_MAX_CONNS", 20)
	if url := os.Getenv("STRATA_TEST_DATABASE_URL"); url != "" {
		return DatabaseConfig{URL: url, MaxOpenConns: maxConns}
	}
	if host := os.Getenv("STRATA_TEST_DB_HOST"); host != "" {
		return DatabaseConfig{
			URL: buildDatabaseURL(
				getEnv("STRATA_TEST_DB_USER", "postgres"),
				getEnv("STRATA_TEST_DB_PASSWORD", ""),
				host,
				getEnv("STRATA_TEST_DB_PORT", "5432"),
				getEnv("STRATA_TEST_DB_NAME", "postgres"),
				getEnv("STRATA_TEST_DB_SSLMODE", "disable"),
			),
			MaxOpenConns: maxConns,
		}
	}
	return DatabaseConfig{}
}

func buildDatabaseURL(user, password, host, port, dbname, sslmode string) string {
	if password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, password, host, port, dbname, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s",
		user, host, port, dbname, sslmode)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}
