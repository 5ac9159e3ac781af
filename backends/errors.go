package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendNotFound is returned when attempting to create a backend with an unknown ID.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrInvalidConfig identifies an invalid backend configuration. No
	// function in this module returns it: the constructors report
	// configuration problems as Misconfigured BackendErrors and
	// config.Validate returns its own descriptive errors.
	ErrInvalidConfig = errors.New("invalid backend configuration")
)

// Kind classifies a BackendError: a bucket lacking tokens is never an
// error (it's a Denied decision), only genuine storage/transport/config
// failures are.
type Kind int

const (
	// StorageUnavailable is a network/transport failure talking to the
	// distributed store. Retryable by the caller.
	StorageUnavailable Kind = iota
	// Misconfigured is an invalid endpoint, script compile failure, or
	// unreachable cluster topology. Fatal at init; surfaced at check-time
	// if the backend initializes lazily.
	Misconfigured
	// TransientFailure is a timeout or store-reported retriable error.
	TransientFailure
)

func (k Kind) String() string {
	switch k {
	case StorageUnavailable:
		return "storage_unavailable"
	case Misconfigured:
		return "misconfigured"
	case TransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// BackendError wraps an underlying cause with its Kind and the logical
// operation that failed, e.g. "redis:EvalSha", "postgres:Take".
type BackendError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("backend error [%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("backend error [%s]: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError constructs a BackendError of the given kind. If err is
// nil, nil is returned.
func NewBackendError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Kind: kind, Op: op, Err: err}
}

// AsBackendError reports whether err is (or wraps) a *BackendError and
// returns it.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// connErrorPatterns are lowercase substrings that identify a connectivity
// failure as opposed to an operational one (e.g. a Lua compile error or a
// constraint violation).
var connErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"i/o timeout",
	"broken pipe",
	"dial tcp",
	"no such host",
	"network is unreachable",
}

// ClassifyTransportError turns a raw driver/client error into a
// BackendError, distinguishing connectivity failures (StorageUnavailable)
// from everything else (TransientFailure). Context deadline/cancellation is
// always treated as StorageUnavailable.
func ClassifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewBackendError(StorageUnavailable, op, err)
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range connErrorPatterns {
		if strings.Contains(lower, pattern) {
			return NewBackendError(StorageUnavailable, op, err)
		}
	}

	return NewBackendError(TransientFailure, op, err)
}
