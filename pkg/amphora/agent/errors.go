package agent

import (
	"errors"
	"fmt"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/provider"
)

// TransportError is a failed SSH or SFTP step against one amphora.
type TransportError struct {
	// Op is connect, exec or upload.
	Op   string
	Host string
	Err  error

	// IsTemporary is set for failures a later attempt may not hit, such as
	// a refused dial while the amphora boots.
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classify wraps transport failures in engine errors, transient when the
// failure is temporary and permanent otherwise, so the engine retries the
// calling task only when another attempt can help. Other errors pass through.
func classify(amp provider.Amphora, err error) error {
	var te *TransportError
	if err == nil || !errors.As(err, &te) {
		return err
	}
	msg := fmt.Sprintf("amphora agent %s failed", te.Op)
	if te.IsTemporary {
		return engine.NewTransientError(msg, err).WithResource(amp.ID)
	}
	return engine.NewPermanentError(msg, err).WithResource(amp.ID)
}
