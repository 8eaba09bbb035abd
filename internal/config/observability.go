package config

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"DOCREPO_OTEL_ENABLED" default:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" default:"docrepo"`
	LogLevel    string `env:"DOCREPO_LOG_LEVEL" default:"info"`

	// MetricsAddr serves /metrics next to the gRPC listener. Empty disables it.
	MetricsAddr string `env:"DOCREPO_METRICS_ADDR" default:":9464"`
}
