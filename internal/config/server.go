package config

import (
	"fmt"
	"time"

	"github.com/rezkam/docrepo/internal/env"
)

// Environment names accepted by DOCREPO_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ServerConfig holds all configuration for the document service binary.
type ServerConfig struct {
	Store           StoreConfig
	GRPC            GRPCConfig
	Cache           CacheConfig
	Catalog         CatalogConfig
	Observability   ObservabilityConfig
	Environment     string        `env:"DOCREPO_ENV" default:"production"`
	ShutdownTimeout time.Duration `env:"DOCREPO_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DevMode reports whether raw store messages may be rendered to callers.
func (c *ServerConfig) DevMode() bool {
	return c.Environment == EnvDevelopment
}

// LoadServerConfig loads and validates server configuration from environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	return cfg, nil
}

// GatewayServerConfig holds all configuration for the gateway binary.
type GatewayServerConfig struct {
	Gateway         GatewayConfig
	Observability   ObservabilityConfig
	Environment     string        `env:"DOCREPO_ENV" default:"production"`
	ShutdownTimeout time.Duration `env:"DOCREPO_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DevMode reports whether error bodies may carry debug detail.
func (c *GatewayServerConfig) DevMode() bool {
	return c.Environment == EnvDevelopment
}

// LoadGatewayServerConfig loads and validates gateway configuration from environment.
func LoadGatewayServerConfig() (*GatewayServerConfig, error) {
	cfg := &GatewayServerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load gateway config: %w", err)
	}

	return cfg, nil
}

// CLIConfig holds configuration for the docctl binary.
type CLIConfig struct {
	Store   StoreConfig
	Catalog CatalogConfig
}

// LoadCLIConfig loads and validates docctl configuration from environment.
func LoadCLIConfig() (*CLIConfig, error) {
	cfg := &CLIConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load cli config: %w", err)
	}

	return cfg, nil
}
