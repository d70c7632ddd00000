package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the telemetry section of the controller configuration.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`
	// Environment is reported as a trace resource attribute.
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	// Output is stdout, stderr or a file path.
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`

	// With sampling on, SamplingInitial messages per second are logged,
	// then every SamplingThereafter-th.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is otlp, stdout or none. It is only checked when tracing is
	// enabled.
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP collector, e.g. "otel-collector:4317".
	Endpoint           string            `yaml:"endpoint" validate:"required_if=Exporter otlp Enabled true"`
	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`
	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets"`
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size" validate:"required_if=Enabled true,gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	EnableAsync   bool          `yaml:"async"`
}

// DefaultConfig returns console logging at info, metrics on :9443, async
// events and tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "octane",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stdout",
			EnableCaller:       true,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9443",
			Path:          "/metrics",
			Namespace:     "octane",
			// amphora boots and failovers take minutes
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ProductionConfig logs JSON with sampling and exports 10% of traces over
// OTLP.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig logs at debug.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	return cfg
}

// Validate checks the struct tags, then the exporter name when tracing is
// enabled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	return nil
}
