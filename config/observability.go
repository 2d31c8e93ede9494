package config

// TracingConfig holds OTLP trace export configuration.
//
// Spans are shipped over OTLP/HTTP to a local collector or agent.
// See the observability package for the exporter setup.
type TracingConfig struct {
	// Enabled turns span export on. Off by default.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName identifies this client in traces (default: corpora-client)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// SampleRate is the fraction of requests traced, 0.0 to 1.0 (default: 1.0)
	SampleRate float64 `mapstructure:"sample_rate" json:"sample_rate"`
	// Insecure disables TLS towards the collector (default: true, for
	// the usual localhost agent)
	Insecure bool `mapstructure:"insecure" json:"insecure"`
}

func defaultTracing() TracingConfig {
	return TracingConfig{
		Endpoint:    "localhost:4318",
		Environment: "dev",
		ServiceName: "corpora-client",
		SampleRate:  1.0,
		Insecure:    true,
	}
}
