package config

import "time"

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Host string `env:"DOCREPO_GRPC_HOST"`
	Port string `env:"DOCREPO_GRPC_PORT" default:"9090"`

	// CallTimeout is the budget of every unary call.
	CallTimeout time.Duration `env:"DOCREPO_GRPC_CALL_TIMEOUT" default:"10s"`

	KeepaliveTime                           time.Duration `env:"DOCREPO_GRPC_KEEPALIVE_TIME" default:"5m"`
	KeepaliveTimeout                        time.Duration `env:"DOCREPO_GRPC_KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionIdle                       time.Duration `env:"DOCREPO_GRPC_MAX_CONNECTION_IDLE" default:"15m"`
	MaxConnectionAge                        time.Duration `env:"DOCREPO_GRPC_MAX_CONNECTION_AGE" default:"30m"`
	MaxConnectionAgeGrace                   time.Duration `env:"DOCREPO_GRPC_MAX_CONNECTION_AGE_GRACE" default:"5s"`
	KeepaliveEnforcementMinTime             time.Duration `env:"DOCREPO_GRPC_KEEPALIVE_ENFORCEMENT_MIN_TIME" default:"5s"`
	KeepaliveEnforcementPermitWithoutStream bool          `env:"DOCREPO_GRPC_KEEPALIVE_ENFORCEMENT_PERMIT_WITHOUT_STREAM" default:"false"`
}

// Addr is the listen address.
func (c GRPCConfig) Addr() string {
	return c.Host + ":" + c.Port
}
