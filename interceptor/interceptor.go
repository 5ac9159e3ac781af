// Package interceptor implements a check-mode request gate: it extracts a
// client identifier from an inbound request's metadata, calls the
// RateLimiter facade with cost 1, and produces an admit/reject outcome for
// the upstream caller.
//
// The transport envelope is a separate concern, so MetadataReader
// abstracts over it rather than binding to one RPC framework.
package interceptor

import (
	"context"

	"github.com/tokengate/ratelimit/ratelimiter"
)

// clientIDMetadataKey is the inbound envelope's metadata key carrying the
// client identifier.
const clientIDMetadataKey = "client-id"

// anonymousClientID is used when the inbound envelope carries no
// client-id metadata.
const anonymousClientID = "anonymous"

// MetadataReader abstracts the inbound request envelope's metadata lookup,
// so the interceptor doesn't depend on any one transport.
type MetadataReader interface {
	// Get returns the first value for key and whether it was present.
	Get(key string) (string, bool)
}

// Outcome is the interceptor's verdict for an inbound request.
type Outcome int

const (
	// Forward means the request should proceed to its handler.
	Forward Outcome = iota
	// RejectResourceExhausted means the request was denied by the bucket;
	// RetryHint carries the advisory wait.
	RejectResourceExhausted
	// RejectInternal means a backend error occurred under fail-closed
	// policy, or the client key failed validation.
	RejectInternal
)

// Result is the interceptor's decision plus enough context to build a
// transport-specific response.
type Result struct {
	Outcome   Outcome
	ClientKey string
	Decision  ratelimiter.Decision
	Err       error
}

// Interceptor wraps a RateLimiter facade for check-mode request gating.
type Interceptor struct {
	limiter *ratelimiter.RateLimiter
}

// New creates an Interceptor over limiter.
func New(limiter *ratelimiter.RateLimiter) *Interceptor {
	return &Interceptor{limiter: limiter}
}

// Check reads client-id (default "anonymous"), calls the facade with
// cost=1, and classifies the result.
func (i *Interceptor) Check(ctx context.Context, md MetadataReader) Result {
	clientKey := anonymousClientID
	if v, ok := md.Get(clientIDMetadataKey); ok && v != "" {
		clientKey = v
	}

	decision, err := i.limiter.Check(ctx, clientKey, 1)
	if err != nil {
		// An error at this point is either a BackendError under
		// fail-closed policy (fail-open is swallowed inside the facade) or
		// a client-key validation error — either way an internal-error
		// rejection, never resource-exhausted.
		return Result{Outcome: RejectInternal, ClientKey: clientKey, Err: err}
	}

	if decision.Admitted {
		return Result{Outcome: Forward, ClientKey: clientKey, Decision: decision}
	}
	return Result{Outcome: RejectResourceExhausted, ClientKey: clientKey, Decision: decision}
}
