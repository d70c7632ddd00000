package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
)

// testAmphoraServer is a minimal SSH server with exec and sftp support.
type testAmphoraServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	port     int

	mu       sync.Mutex
	commands []string
}

func newTestAmphoraServer(t *testing.T) *testAmphoraServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "octane" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testAmphoraServer{
		listener: listener,
		config:   config,
		port:     listener.Addr().(*net.TCPAddr).Port,
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *testAmphoraServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *testAmphoraServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testAmphoraServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		var payload struct{ Value string }
		switch req.Type {
		case "exec":
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Value)
			s.mu.Unlock()

			status := []byte{0, 0, 0, 0}
			if payload.Value == "exit 1" {
				_, _ = channel.Stderr().Write([]byte("boom\n"))
				status = []byte{0, 0, 0, 1}
			} else {
				_, _ = channel.Write([]byte("ok\n"))
			}
			_, _ = channel.SendRequest("exit-status", false, status)
			return

		case "subsystem":
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Value != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testAmphoraServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func testConfig(t *testing.T, port int) *Config {
	t.Helper()
	root := t.TempDir()

	cfg := DefaultConfig("octane")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.CommandTimeout = 5 * time.Second
	cfg.ConnectRetries = 2
	cfg.ConnectRetryDelay = 10 * time.Millisecond
	cfg.ConfigDir = filepath.Join(root, "etc")
	cfg.CertDir = filepath.Join(root, "certs")
	cfg.ReloadCommand = "reload-lb"
	cfg.RestartAgentCommand = "restart-agent"
	return cfg
}

func writeTestCertificate(t *testing.T, notAfter time.Time) string {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "amphora"},
		NotBefore:    notAfter.Add(-24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	bundle := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)

	path := filepath.Join(t.TempDir(), "bundle.pem")
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}
	return path
}

func testAmphora() provider.Amphora {
	return provider.Amphora{
		ID:             "amp-1",
		LoadBalancerID: "lb-1",
		Role:           models.RoleMaster,
		LBNetworkIP:    "127.0.0.1",
		VRRPPriority:   100,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "missing user", mutate: func(c *Config) { c.User = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *Config) { c.Password = "" }, wantErr: true},
		{name: "missing key", mutate: func(c *Config) {
			c.AuthMethod = AuthMethodKey
			c.PrivateKeyPath = "/nonexistent/id_ed25519"
		}, wantErr: true},
		{name: "unknown auth", mutate: func(c *Config) { c.AuthMethod = "agent" }, wantErr: true},
		{name: "zero retries", mutate: func(c *Config) { c.ConnectRetries = 0 }, wantErr: true},
		{name: "relative dir", mutate: func(c *Config) { c.ConfigDir = "etc" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 22)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyConfig(t *testing.T) {
	server := newTestAmphoraServer(t)
	cfg := testConfig(t, server.port)

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lbCfg := amphora.LoadBalancerConfig{
		LoadBalancer: provider.LoadBalancer{LoadBalancerID: "lb-1", Topology: models.TopologySingle},
		Listeners:    []provider.Listener{{ListenerID: "l-1", Protocol: "HTTP", ProtocolPort: 80}},
	}
	if err := a.ApplyConfig(context.Background(), testAmphora(), lbCfg); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.ConfigDir, lbConfigFile))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var got amphora.LoadBalancerConfig
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to decode written config: %v", err)
	}
	if got.LoadBalancer.LoadBalancerID != "lb-1" || len(got.Listeners) != 1 {
		t.Errorf("written config = %+v", got)
	}

	if cmds := server.Commands(); len(cmds) != 1 || cmds[0] != "reload-lb" {
		t.Errorf("commands = %v, want [reload-lb]", cmds)
	}
}

func TestUpdateAgentConfig(t *testing.T) {
	server := newTestAmphoraServer(t)
	cfg := testConfig(t, server.port)

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	flavor := map[string]any{"compute_flavor": "m1.amphora"}
	if err := a.UpdateAgentConfig(context.Background(), testAmphora(), flavor); err != nil {
		t.Fatalf("UpdateAgentConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.ConfigDir, agentConfigFile))
	if err != nil {
		t.Fatalf("agent config not written: %v", err)
	}
	var got agentConfig
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to decode agent config: %v", err)
	}
	if got.AmphoraID != "amp-1" || got.Role != "MASTER" || got.Flavor["compute_flavor"] != "m1.amphora" {
		t.Errorf("agent config = %+v", got)
	}
	if cmds := server.Commands(); len(cmds) != 1 || cmds[0] != "restart-agent" {
		t.Errorf("commands = %v, want [restart-agent]", cmds)
	}
}

func TestRotateCertificate(t *testing.T) {
	server := newTestAmphoraServer(t)
	cfg := testConfig(t, server.port)

	notAfter := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg.CertBundlePath = writeTestCertificate(t, notAfter)

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	expiry, err := a.RotateCertificate(context.Background(), testAmphora())
	if err != nil {
		t.Fatalf("RotateCertificate() error = %v", err)
	}
	if !expiry.Equal(notAfter) {
		t.Errorf("expiry = %v, want %v", expiry, notAfter)
	}

	info, err := os.Stat(filepath.Join(cfg.CertDir, certFile))
	if err != nil {
		t.Fatalf("certificate not installed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("certificate mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRotateCertificateRejectsBundleWithoutCertificate(t *testing.T) {
	cfg := testConfig(t, 22)
	cfg.CertBundlePath = filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(cfg.CertBundlePath, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := a.RotateCertificate(context.Background(), testAmphora()); err == nil {
		t.Fatal("expected error for bundle without certificate")
	}
}

func TestClientRunExitError(t *testing.T) {
	server := newTestAmphoraServer(t)
	cfg := testConfig(t, server.port)

	client, err := Dial(context.Background(), cfg, "127.0.0.1", zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	out, err := client.Run(context.Background(), "echo hi")
	if err != nil || out != "ok" {
		t.Fatalf("Run() = %q, %v", out, err)
	}

	_, err = client.Run(context.Background(), "exit 1")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.IsTemporary {
		t.Error("non-zero exit should not be temporary")
	}
}

func TestDialAuthFailureNotRetried(t *testing.T) {
	server := newTestAmphoraServer(t)
	cfg := testConfig(t, server.port)
	cfg.Password = "wrong"
	cfg.ConnectRetries = 5
	cfg.ConnectRetryDelay = time.Second

	start := time.Now()
	_, err := Dial(context.Background(), cfg, "127.0.0.1", zerolog.Nop())
	var te *TransportError
	if !errors.As(err, &te) || !te.IsAuthError {
		t.Fatalf("expected auth TransportError, got %v", err)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("authentication failure was retried")
	}
}

func TestDialRetriesUnreachableHost(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cfg := testConfig(t, port)
	_, err = Dial(context.Background(), cfg, "127.0.0.1", zerolog.Nop())
	var te *TransportError
	if !errors.As(err, &te) || !te.IsTemporary {
		t.Fatalf("expected temporary TransportError, got %v", err)
	}
	if te.Host != "127.0.0.1:"+strconv.Itoa(port) {
		t.Errorf("Host = %q", te.Host)
	}
}

func TestApplyConfigWithoutManagementAddress(t *testing.T) {
	a, err := New(testConfig(t, 22), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	amp := testAmphora()
	amp.LBNetworkIP = ""
	err = a.ApplyConfig(context.Background(), amp, amphora.LoadBalancerConfig{})
	if err == nil {
		t.Fatal("expected error for amphora without management address")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("missing address should not be retried, got %v", err)
	}
}

func TestClassifyUnreachableAmphoraIsTransient(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cfg := testConfig(t, port)
	cfg.ConnectRetries = 1
	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = a.UpdateAgentConfig(context.Background(), testAmphora(), nil)
	if !engine.IsTransient(err) {
		t.Fatalf("expected transient engine error, got %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("transport error not kept in chain: %v", err)
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("octane")
	for host, want := range map[string]string{
		"192.0.2.10":  "192.0.2.10:22",
		"2001:db8::1": "[2001:db8::1]:22",
	} {
		if got := cfg.Address(host); got != want {
			t.Errorf("Address(%q) = %q, want %q", host, got, want)
		}
	}
}
