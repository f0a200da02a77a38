package comm

import (
	"errors"
	"fmt"

	"github.com/lanl/halo-exchange/exec"
)

// ErrUnsupported matches every ConfigError.
var ErrUnsupported = errors.New("comm: unsupported configuration")

// A ConfigError reports a backend and execution-context pairing that cannot
// work.  It is returned when a Message is constructed.
type ConfigError struct {
	Backend Backend
	Kind    exec.Kind
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("comm: %s backend with %s context: %s", e.Backend, e.Kind, e.Reason)
}

// Is makes every ConfigError match ErrUnsupported.
func (e *ConfigError) Is(target error) bool {
	return target == ErrUnsupported
}

// A TransportError wraps a failure reported by the transport.  It is not
// retried.
type TransportError struct {
	Op      string
	Partner int
	Tag     int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("comm: %s with rank %d tag %d: %v", e.Op, e.Partner, e.Tag, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
