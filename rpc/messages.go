// Package rpc exposes rate-limit admission checks, usage queries, resets,
// and a streaming status feed over google.golang.org/grpc. The wire
// messages are flat records with no nested or repeated domain types, so
// the service registers against a hand-built grpc.ServiceDesc using a
// JSON encoding.Codec instead of protoc-generated bindings (see
// codec.go) — a documented grpc-go extension point, used here to keep
// the RPC layer thin and optional while still exercising the real
// transport.
package rpc

// CheckLimitRequest is the CheckLimit request. Cost of 0 is floored to 1
// on the wire; an empty ClientID is treated as "anonymous".
type CheckLimitRequest struct {
	ClientID       string `json:"client_id"`
	Cost           uint32 `json:"cost"`
	OverrideConfig []byte `json:"override_config,omitempty"`
}

// ResponseMetadata carries the out-of-band fields attached to every
// CheckLimit response.
type ResponseMetadata struct {
	NodeID    string `json:"node_id"`
	FromCache bool   `json:"from_cache"`
	LatencyUs int64  `json:"latency_us"`
	IsGlobal  bool   `json:"is_global"`
}

// CheckLimitResponse is the CheckLimit response.
type CheckLimitResponse struct {
	Allowed           bool             `json:"allowed"`
	RetryAfterSeconds uint32           `json:"retry_after_seconds"`
	RemainingTokens   uint64           `json:"remaining_tokens"`
	Metadata          ResponseMetadata `json:"metadata"`
}

// GetUsageRequest is the GetUsage request.
type GetUsageRequest struct {
	ClientID string `json:"client_id"`
}

// GetUsageResponse is the GetUsage response.
type GetUsageResponse struct {
	UsedTokens          uint64 `json:"used_tokens"`
	TotalCapacity       uint64 `json:"total_capacity"`
	RefillRate          uint64 `json:"refill_rate"`
	LastRefillTimestamp int64  `json:"last_refill_timestamp"`
}

// ResetLimitRequest is the ResetLimit request. Authorization of AdminToken
// is the caller's responsibility; this layer does not validate it.
type ResetLimitRequest struct {
	ClientID   string `json:"client_id"`
	AdminToken string `json:"admin_token"`
}

// ResetLimitResponse is the ResetLimit response.
type ResetLimitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StreamLimitStatusRequest is the StreamLimitStatus request.
type StreamLimitStatusRequest struct {
	ClientID string `json:"client_id"`
}

// LimitStatus enumerates the health of a StreamLimitStatus snapshot.
type LimitStatus int32

const (
	StatusHealthy   LimitStatus = 0
	StatusThrottled LimitStatus = 1
	StatusError     LimitStatus = 2
)

// StreamLimitStatusSnapshot is one emission of the StreamLimitStatus
// stream, sent once per second until the backend errs or the stream is
// cancelled.
type StreamLimitStatusSnapshot struct {
	ClientID        string      `json:"client_id"`
	RemainingTokens uint64      `json:"remaining_tokens"`
	TimestampMs     int64       `json:"timestamp_ms"`
	Status          LimitStatus `json:"status"`
}
