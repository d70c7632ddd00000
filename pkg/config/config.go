package config

import (
	"time"

	"github.com/octane-lb/octane/pkg/amphora/agent"
	"github.com/octane-lb/octane/pkg/controller"
	"github.com/octane-lb/octane/pkg/stores"
	"github.com/octane-lb/octane/pkg/telemetry"
	"github.com/octane-lb/octane/pkg/zones"
)

// Config is the full controller configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Controller   ControllerConfig   `yaml:"controller"`
	Queue        QueueConfig        `yaml:"queue"`
	Amphora      AmphoraConfig      `yaml:"amphora"`
	Identity     IdentityConfig     `yaml:"identity"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
}

// DatabaseConfig selects and sizes the entity store.
type DatabaseConfig struct {
	// Driver is sqlite or pgx.
	Driver string `yaml:"driver" validate:"required,oneof=sqlite pgx"`

	// DSN is a file path or ":memory:" for sqlite, a connection URL for pgx.
	DSN string `yaml:"dsn" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// ControllerConfig configures the worker and its flow engine.
type ControllerConfig struct {
	// SpareAmphoraPoolSize is the number of READY spare amphorae kept per zone.
	// Hot reloaded.
	SpareAmphoraPoolSize int `yaml:"spare_amphora_pool_size" validate:"gte=0"`

	// EnableAntiAffinity places the amphorae of a load balancer in a server group.
	EnableAntiAffinity bool `yaml:"enable_anti_affinity"`

	// Workers is the number of jobs handled concurrently.
	Workers int `yaml:"workers" validate:"gte=1"`

	// MaxParallel bounds the tasks a single flow runs at once.
	MaxParallel int `yaml:"max_parallel" validate:"gte=1"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig is the policy used while waiting on committed entity state.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts" validate:"gte=1"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	Backoff      time.Duration `yaml:"backoff" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

// QueueConfig configures the Kafka job consumer and event producer.
type QueueConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
	GroupID string   `yaml:"group_id" validate:"required_if=Enabled true"`

	// EventsTopic receives controller events. Empty disables forwarding.
	EventsTopic string `yaml:"events_topic"`

	MinBytes       int           `yaml:"min_bytes" validate:"gte=0"`
	MaxBytes       int           `yaml:"max_bytes" validate:"gtefield=MinBytes"`
	MaxWait        time.Duration `yaml:"max_wait" validate:"gte=0"`
	CommitInterval time.Duration `yaml:"commit_interval" validate:"gte=0"`
}

// AmphoraConfig selects the amphora driver.
type AmphoraConfig struct {
	// Driver is noop or ssh.
	Driver string    `yaml:"driver" validate:"required,oneof=noop ssh"`
	SSH    SSHConfig `yaml:"ssh"`
}

// SSHConfig configures the SSH agent driver.
type SSHConfig struct {
	User                  string        `yaml:"user" validate:"required_if=Enabled true"`
	Port                  int           `yaml:"port" validate:"gte=1,lte=65535"`
	PrivateKeyPath        string        `yaml:"private_key_path"`
	PrivateKeyPassphrase  string        `yaml:"private_key_passphrase"`
	KnownHostsPath        string        `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" validate:"gt=0"`
	CommandTimeout        time.Duration `yaml:"command_timeout" validate:"gt=0"`
	ConnectRetries        uint          `yaml:"connect_retries" validate:"gte=1"`
	ConnectRetryDelay     time.Duration `yaml:"connect_retry_delay" validate:"gte=0"`
	ConfigDir             string        `yaml:"config_dir" validate:"required,startswith=/"`
	CertDir               string        `yaml:"cert_dir" validate:"required,startswith=/"`
	CertBundlePath        string        `yaml:"cert_bundle_path"`
	ReloadCommand         string        `yaml:"reload_command" validate:"required"`
	RestartAgentCommand   string        `yaml:"restart_agent_command" validate:"required"`

	// Enabled is set from AmphoraConfig.Driver and never read from YAML.
	Enabled bool `yaml:"-"`
}

// IdentityConfig configures the identity service lookups behind zone restriction.
type IdentityConfig struct {
	// RestrictZones enables the project zone restriction on load balancer create.
	RestrictZones bool          `yaml:"restrict_zones"`
	AuthURL       string        `yaml:"auth_url" validate:"required_if=RestrictZones true,omitempty,url"`
	// Token is used as is. Without one, Username and Password are exchanged
	// for a token scoped to ProjectID.
	Token        string        `yaml:"token"`
	Username     string        `yaml:"username" validate:"required_with=Password"`
	Password     string        `yaml:"password" validate:"required_with=Username"`
	DomainName   string        `yaml:"domain_name"`
	ProjectID    string        `yaml:"project_id"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	ZoneCacheTTL time.Duration `yaml:"zone_cache_ttl" validate:"gte=0"`
}

// KeystoneConfig converts the identity section into client settings.
func (c IdentityConfig) KeystoneConfig() zones.KeystoneConfig {
	return zones.KeystoneConfig{
		AuthURL:    c.AuthURL,
		Token:      c.Token,
		Username:   c.Username,
		Password:   c.Password,
		DomainName: c.DomainName,
		ProjectID:  c.ProjectID,
		Timeout:    c.Timeout,
	}
}

// HousekeepingConfig configures the spare pool maintenance loop.
type HousekeepingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval" validate:"required_if=Enabled true,gte=0"`

	// Zones lists the availability zones that get their own spare pool.
	// An empty list maintains a single pool outside any zone.
	Zones []string `yaml:"zones"`
}

// Default returns the configuration used when a setting is not given.
func Default() *Config {
	retry := controller.DefaultRetryPolicy()
	ssh := agent.DefaultConfig("octane")
	return &Config{
		Database: DatabaseConfig{
			Driver:          stores.DriverSQLite,
			DSN:             "octane.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Controller: ControllerConfig{
			SpareAmphoraPoolSize: 0,
			Workers:              4,
			MaxParallel:          8,
			Retry: RetryConfig{
				Attempts:     retry.Attempts,
				InitialDelay: retry.InitialDelay,
				Backoff:      retry.Step,
				MaxDelay:     retry.MaxDelay,
			},
		},
		Queue: QueueConfig{
			Topic:          "octane.jobs",
			GroupID:        "octane-controller",
			EventsTopic:    "octane.events",
			MinBytes:       1,
			MaxBytes:       10 << 20,
			MaxWait:        time.Second,
			CommitInterval: 0,
		},
		Amphora: AmphoraConfig{
			Driver: "noop",
			SSH: SSHConfig{
				User:                ssh.User,
				Port:                ssh.Port,
				ConnectionTimeout:   ssh.ConnectionTimeout,
				CommandTimeout:      ssh.CommandTimeout,
				ConnectRetries:      ssh.ConnectRetries,
				ConnectRetryDelay:   ssh.ConnectRetryDelay,
				ConfigDir:           ssh.ConfigDir,
				CertDir:             ssh.CertDir,
				ReloadCommand:       ssh.ReloadCommand,
				RestartAgentCommand: ssh.RestartAgentCommand,
			},
		},
		Identity: IdentityConfig{
			Timeout:      10 * time.Second,
			ZoneCacheTTL: time.Hour,
		},
		Housekeeping: HousekeepingConfig{
			Interval: 30 * time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// StoreConfig converts the database section into a store configuration.
func (d DatabaseConfig) StoreConfig() stores.Config {
	return stores.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// WorkerConfig converts the controller section into worker settings.
func (c ControllerConfig) WorkerConfig() controller.Config {
	policy := controller.DefaultRetryPolicy()
	policy.Attempts = c.Retry.Attempts
	policy.InitialDelay = c.Retry.InitialDelay
	policy.Step = c.Retry.Backoff
	policy.MaxDelay = c.Retry.MaxDelay
	return controller.Config{
		SpareAmphoraPoolSize: c.SpareAmphoraPoolSize,
		EnableAntiAffinity:   c.EnableAntiAffinity,
		Retry:                policy,
	}
}

// AgentConfig converts the SSH section into an agent driver configuration.
func (s SSHConfig) AgentConfig() *agent.Config {
	cfg := agent.DefaultConfig(s.User)
	cfg.Port = s.Port
	cfg.PrivateKeyPath = s.PrivateKeyPath
	cfg.PrivateKeyPassphrase = s.PrivateKeyPassphrase
	cfg.KnownHostsPath = s.KnownHostsPath
	cfg.StrictHostKeyChecking = s.StrictHostKeyChecking
	cfg.ConnectionTimeout = s.ConnectionTimeout
	cfg.CommandTimeout = s.CommandTimeout
	cfg.ConnectRetries = s.ConnectRetries
	cfg.ConnectRetryDelay = s.ConnectRetryDelay
	cfg.ConfigDir = s.ConfigDir
	cfg.CertDir = s.CertDir
	cfg.CertBundlePath = s.CertBundlePath
	cfg.ReloadCommand = s.ReloadCommand
	cfg.RestartAgentCommand = s.RestartAgentCommand
	return cfg
}
