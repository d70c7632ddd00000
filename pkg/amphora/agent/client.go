package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH connection to one amphora.
type Client struct {
	config *Config
	host   string
	logger zerolog.Logger

	client *ssh.Client
}

// Dial connects to the amphora at host, retrying with exponential backoff.
// Authentication failures are not retried.
func Dial(ctx context.Context, cfg *Config, host string, logger zerolog.Logger) (*Client, error) {
	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Host: host, Err: err, IsAuthError: true}
	}

	address := cfg.Address(host)
	logger = logger.With().Str("address", address).Logger()

	var conn *ssh.Client
	err = retry.Do(
		func() error {
			c, err := dialContext(ctx, address, clientConfig)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectRetries),
		retry.Delay(cfg.ConnectRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var te *TransportError
			return !errors.As(err, &te) || te.IsTemporary
		}),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn().Err(err).Uint("attempt", attempt+1).Msg("amphora agent connection failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	logger.Debug().Msg("amphora agent connection established")
	return &Client{config: cfg, host: host, logger: logger, client: conn}, nil
}

// dialContext runs ssh.Dial in a goroutine so that ctx can abandon it.
func dialContext(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		if ctx.Err() != nil {
			_ = client.Close()
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Host: address, Err: ctx.Err()}
	case err := <-errChan:
		return nil, &TransportError{
			Op:          "connect",
			Host:        address,
			Err:         err,
			IsTemporary: !isAuthFailure(err),
			IsAuthError: isAuthFailure(err),
		}
	case client := <-connChan:
		return client, nil
	}
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Run executes cmd on the amphora and returns its trimmed stdout.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	session, err := c.client.NewSession()
	if err != nil {
		return "", &TransportError{
			Op:          "exec",
			Host:        c.host,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	startTime := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, &TransportError{
				Op:   "exec",
				Host: c.host,
				Err:  fmt.Errorf("command %q exited with code %d: %s", cmd, exitErr.ExitStatus(), stderr),
			}
		}
		return stdout, &TransportError{Op: "exec", Host: c.host, Err: execErr, IsTemporary: true}
	}

	return stdout, nil
}

// Upload writes data to remotePath, creating parent directories as needed.
// The file is written next to its destination and renamed into place.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: err}
	}

	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Host:        c.host,
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	tmpPath := remotePath + ".tmp"
	f, err := sftpClient.Create(tmpPath)
	if err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to create remote file: %w", err)}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to write remote file: %w", err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to close remote file: %w", err)}
	}

	if err := sftpClient.Chmod(tmpPath, mode); err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to set permissions: %w", err)}
	}
	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		return &TransportError{Op: "upload", Host: c.host, Err: fmt.Errorf("failed to rename remote file: %w", err)}
	}

	c.logger.Debug().Str("path", remotePath).Int("bytes", len(data)).Msg("uploaded file")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}
