package config

import (
	"fmt"

	"github.com/rezkam/docrepo/internal/env"
)

// TestConfig holds configuration for integration tests against real engines.
// Empty values skip the corresponding tests.
type TestConfig struct {
	PostgresDSN string `env:"DOCREPO_TEST_POSTGRES_DSN"`
	GCSBucket   string `env:"DOCREPO_TEST_GCS_BUCKET"`
	GCSEndpoint string `env:"DOCREPO_TEST_GCS_ENDPOINT"`
	RedisAddr   string `env:"DOCREPO_TEST_REDIS_ADDR"`
}

// LoadTestConfig loads test configuration from environment.
func LoadTestConfig() (*TestConfig, error) {
	cfg := &TestConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load test config: %w", err)
	}

	return cfg, nil
}
