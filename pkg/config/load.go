package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = b
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without reading the environment or validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry section.
func (c *Config) Validate() error {
	c.Amphora.SSH.Enabled = c.Amphora.Driver == "ssh"
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Amphora.SSH.Enabled && c.Amphora.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("invalid config: amphora.ssh.private_key_path is required by the ssh driver")
	}
	if c.Identity.RestrictZones && c.Identity.Token == "" && c.Identity.Username == "" {
		return fmt.Errorf("invalid config: identity.token or identity.username is required by restrict_zones")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// envOverrides lists the settings that can be set from the environment.
// Negative integers mean unset.
type envOverrides struct {
	LogLevel string `envconfig:"LOG_LEVEL,optional"`

	DatabaseDriver string `envconfig:"OCTANE_DATABASE_DRIVER,optional"`
	DatabaseDSN    string `envconfig:"OCTANE_DATABASE_DSN,optional"`

	SpareAmphoraPoolSize int `envconfig:"OCTANE_SPARE_AMPHORA_POOL_SIZE,default=-1"`
	Workers              int `envconfig:"OCTANE_WORKERS,default=-1"`

	QueueBrokers []string `envconfig:"OCTANE_QUEUE_BROKERS,optional"`
	QueueTopic   string   `envconfig:"OCTANE_QUEUE_TOPIC,optional"`
	QueueGroupID string   `envconfig:"OCTANE_QUEUE_GROUP_ID,optional"`

	AmphoraDriver string `envconfig:"OCTANE_AMPHORA_DRIVER,optional"`

	IdentityAuthURL string `envconfig:"OCTANE_IDENTITY_AUTH_URL,optional"`
	IdentityToken   string `envconfig:"OCTANE_IDENTITY_TOKEN,optional"`
	IdentityUser    string `envconfig:"OCTANE_IDENTITY_USERNAME,optional"`
	IdentityPass    string `envconfig:"OCTANE_IDENTITY_PASSWORD,optional"`

	TracingEndpoint string `envconfig:"OCTANE_TRACING_ENDPOINT,optional"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Init(&env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setString(&cfg.Telemetry.Logging.Level, env.LogLevel)
	setString(&cfg.Database.Driver, env.DatabaseDriver)
	setString(&cfg.Database.DSN, env.DatabaseDSN)
	setString(&cfg.Queue.Topic, env.QueueTopic)
	setString(&cfg.Queue.GroupID, env.QueueGroupID)
	setString(&cfg.Amphora.Driver, env.AmphoraDriver)
	setString(&cfg.Identity.AuthURL, env.IdentityAuthURL)
	setString(&cfg.Identity.Token, env.IdentityToken)
	setString(&cfg.Identity.Username, env.IdentityUser)
	setString(&cfg.Identity.Password, env.IdentityPass)
	setString(&cfg.Telemetry.Tracing.Endpoint, env.TracingEndpoint)

	if env.SpareAmphoraPoolSize >= 0 {
		cfg.Controller.SpareAmphoraPoolSize = env.SpareAmphoraPoolSize
	}
	if env.Workers >= 0 {
		cfg.Controller.Workers = env.Workers
	}
	if len(env.QueueBrokers) > 0 {
		cfg.Queue.Brokers = env.QueueBrokers
		cfg.Queue.Enabled = true
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
