// Package agent drives the agent inside an amphora over SSH. Configuration
// files are written with SFTP and services are reloaded with remote commands.
package agent

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/provider"
)

const (
	lbConfigFile    = "loadbalancer.yaml"
	agentConfigFile = "agent.yaml"
	certFile        = "server.pem"
)

// Agent implements amphora.Agent over SSH.
type Agent struct {
	config *Config
	logger zerolog.Logger

	// dial is replaced in tests
	dial func(ctx context.Context, cfg *Config, host string, logger zerolog.Logger) (*Client, error)
}

var _ amphora.Agent = (*Agent)(nil)

// New creates an SSH agent driver.
func New(cfg *Config, logger zerolog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	return &Agent{
		config: cfg,
		logger: logger.With().Str("component", "amphora-agent").Logger(),
		dial:   Dial,
	}, nil
}

// agentConfig is the file read by the agent on start.
type agentConfig struct {
	AmphoraID      string         `yaml:"amphora_id"`
	LoadBalancerID string         `yaml:"loadbalancer_id,omitempty"`
	Role           string         `yaml:"role,omitempty"`
	VRRPPriority   int            `yaml:"vrrp_priority,omitempty"`
	Flavor         map[string]any `yaml:"flavor,omitempty"`
}

func (a *Agent) connect(ctx context.Context, amp provider.Amphora) (*Client, error) {
	if amp.LBNetworkIP == "" {
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("amphora %s has no management address", amp.ID)}
	}
	return a.dial(ctx, a.config, amp.LBNetworkIP, a.logger.With().Str("amphora_id", amp.ID).Logger())
}

// ApplyConfig writes the load balancer configuration and reloads the data plane.
func (a *Agent) ApplyConfig(ctx context.Context, amp provider.Amphora, cfg amphora.LoadBalancerConfig) error {
	return classify(amp, a.applyConfig(ctx, amp, cfg))
}

func (a *Agent) applyConfig(ctx context.Context, amp provider.Amphora, cfg amphora.LoadBalancerConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode load balancer config: %w", err)
	}

	client, err := a.connect(ctx, amp)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Upload(ctx, path.Join(a.config.ConfigDir, lbConfigFile), data, 0o640); err != nil {
		return err
	}
	if a.config.ReloadCommand != "" {
		if _, err := client.Run(ctx, a.config.ReloadCommand); err != nil {
			return err
		}
	}

	a.logger.Info().
		Str("amphora_id", amp.ID).
		Str("load_balancer_id", cfg.LoadBalancer.LoadBalancerID).
		Int("listeners", len(cfg.Listeners)).
		Msg("applied load balancer config")
	return nil
}

// UpdateAgentConfig rewrites the agent configuration and restarts the agent.
func (a *Agent) UpdateAgentConfig(ctx context.Context, amp provider.Amphora, flavor map[string]any) error {
	return classify(amp, a.updateAgentConfig(ctx, amp, flavor))
}

func (a *Agent) updateAgentConfig(ctx context.Context, amp provider.Amphora, flavor map[string]any) error {
	data, err := yaml.Marshal(agentConfig{
		AmphoraID:      amp.ID,
		LoadBalancerID: amp.LoadBalancerID,
		Role:           string(amp.Role),
		VRRPPriority:   amp.VRRPPriority,
		Flavor:         flavor,
	})
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}

	client, err := a.connect(ctx, amp)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Upload(ctx, path.Join(a.config.ConfigDir, agentConfigFile), data, 0o640); err != nil {
		return err
	}
	if a.config.RestartAgentCommand != "" {
		if _, err := client.Run(ctx, a.config.RestartAgentCommand); err != nil {
			return err
		}
	}
	return nil
}

// RotateCertificate installs the configured certificate bundle on the
// amphora and returns the certificate's expiry.
func (a *Agent) RotateCertificate(ctx context.Context, amp provider.Amphora) (time.Time, error) {
	expiry, err := a.rotateCertificate(ctx, amp)
	return expiry, classify(amp, err)
}

func (a *Agent) rotateCertificate(ctx context.Context, amp provider.Amphora) (time.Time, error) {
	bundle, err := os.ReadFile(a.config.CertBundlePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read certificate bundle: %w", err)
	}
	expiry, err := certificateExpiry(bundle)
	if err != nil {
		return time.Time{}, err
	}

	client, err := a.connect(ctx, amp)
	if err != nil {
		return time.Time{}, err
	}
	defer client.Close()

	if err := client.Upload(ctx, path.Join(a.config.CertDir, certFile), bundle, 0o600); err != nil {
		return time.Time{}, err
	}
	if a.config.RestartAgentCommand != "" {
		if _, err := client.Run(ctx, a.config.RestartAgentCommand); err != nil {
			return time.Time{}, err
		}
	}

	a.logger.Info().Str("amphora_id", amp.ID).Time("expires", expiry).Msg("rotated certificate")
	return expiry, nil
}

// certificateExpiry returns NotAfter of the first certificate in a PEM bundle.
func certificateExpiry(bundle []byte) (time.Time, error) {
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return time.Time{}, fmt.Errorf("no certificate found in bundle")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert.NotAfter.UTC(), nil
	}
}
