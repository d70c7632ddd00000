package agent

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var validate = validator.New()

// AuthMethod selects how the controller authenticates to amphorae.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Config holds the settings used to reach amphora agents over SSH.
// The host is taken from each amphora's management network address.
type Config struct {
	Port       int        `validate:"min=1,max=65535"`
	User       string     `validate:"required"`
	AuthMethod AuthMethod `validate:"oneof=password key"`

	Password             string `validate:"required_if=AuthMethod password"`
	PrivateKeyPath       string `validate:"required_if=AuthMethod key,omitempty,file"`
	PrivateKeyPassphrase string

	// Host keys are only verified with StrictHostKeyChecking and a
	// KnownHostsPath. Amphorae are rebuilt on failover, so their keys change.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration `validate:"gt=0"`
	CommandTimeout    time.Duration `validate:"gt=0"`
	// ConnectRetries counts dial attempts, the first included.
	ConnectRetries    uint `validate:"min=1"`
	ConnectRetryDelay time.Duration

	// Remote directories for the haproxy and agent configuration and for
	// the server certificate.
	ConfigDir string `validate:"startswith=/"`
	CertDir   string `validate:"startswith=/"`

	// CertBundlePath is the local PEM bundle (certificate and key) installed
	// on rotation.
	CertBundlePath string

	ReloadCommand       string
	RestartAgentCommand string
}

// DefaultConfig returns key authentication on port 22 with five dial
// attempts.
func DefaultConfig(user string) *Config {
	return &Config{
		Port:                22,
		User:                user,
		AuthMethod:          AuthMethodKey,
		ConnectionTimeout:   30 * time.Second,
		CommandTimeout:      2 * time.Minute,
		ConnectRetries:      5,
		ConnectRetryDelay:   2 * time.Second,
		ConfigDir:           "/etc/octane",
		CertDir:             "/etc/octane/certs",
		ReloadCommand:       "sudo systemctl reload octane-lb",
		RestartAgentCommand: "sudo systemctl restart octane-agent",
	}
}

// Validate checks c. A key path must name an existing file.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid amphora agent config: %w", err)
	}
	return nil
}

// BuildSSHClientConfig reads the private key, if any, and the known hosts
// file and returns the client configuration.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	cc := &ssh.ClientConfig{
		User:            c.User,
		Timeout:         c.ConnectionTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		cc.Auth = []ssh.AuthMethod{ssh.Password(c.Password)}
	case AuthMethodKey:
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		cc.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		cc.HostKeyCallback = cb
	}
	return cc, nil
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var s ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		s, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	} else {
		s, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return s, nil
}

// Address joins an amphora management address with the SSH port. IPv6
// addresses are bracketed.
func (c *Config) Address(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}
