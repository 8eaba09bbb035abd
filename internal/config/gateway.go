package config

import (
	"errors"
	"time"
)

// GatewayConfig holds HTTP gateway configuration.
type GatewayConfig struct {
	// ServiceAddr is the document service the gateway forwards to.
	ServiceAddr string `env:"DOCREPO_GATEWAY_SERVICE_ADDR" default:"localhost:9090"`
	HTTP        HTTPConfig
}

// Validate validates the gateway configuration.
func (c *GatewayConfig) Validate() error {
	if c.ServiceAddr == "" {
		return errors.New("DOCREPO_GATEWAY_SERVICE_ADDR is required")
	}
	return nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host              string        `env:"DOCREPO_HTTP_HOST"`
	Port              string        `env:"DOCREPO_HTTP_PORT" default:"8080"`
	ReadTimeout       time.Duration `env:"DOCREPO_HTTP_READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `env:"DOCREPO_HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `env:"DOCREPO_HTTP_IDLE_TIMEOUT" default:"2m"`
	ReadHeaderTimeout time.Duration `env:"DOCREPO_HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	MaxHeaderBytes    int           `env:"DOCREPO_HTTP_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `env:"DOCREPO_HTTP_MAX_BODY_BYTES" default:"1048576"`

	// TLS configuration for HTTPS
	TLSEnabled  bool   `env:"DOCREPO_TLS_ENABLED"`
	TLSCertFile string `env:"DOCREPO_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"DOCREPO_TLS_KEY_FILE"`
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("DOCREPO_TLS_CERT_FILE and DOCREPO_TLS_KEY_FILE are required when TLS is enabled")
	}
	return nil
}

// Addr is the listen address.
func (c HTTPConfig) Addr() string {
	return c.Host + ":" + c.Port
}
