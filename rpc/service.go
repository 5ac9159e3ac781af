package rpc

import (
	"context"
	"time"

	"github.com/tokengate/ratelimit/ratelimiter"
	"github.com/tokengate/ratelimit/utils"
)

// Service implements admission checks, usage queries, resets, and a
// streaming status feed over a single RateLimiter facade. It holds no
// transport-specific state; server.go adapts it onto grpc.ServiceDesc.
type Service struct {
	limiter *ratelimiter.RateLimiter
	nodeID  string
}

// NewService creates a Service over limiter. nodeID is echoed back in
// CheckLimit's response metadata.
func NewService(limiter *ratelimiter.RateLimiter, nodeID string) *Service {
	return &Service{limiter: limiter, nodeID: nodeID}
}

func normalizeClientID(clientID string) string {
	if clientID == "" {
		return "anonymous"
	}
	return clientID
}

// CheckLimit evaluates one admission request. Cost of 0 is floored to 1
// on the wire, an empty client_id is treated as "anonymous", and
// retry_after_seconds is 0 on an admitted decision.
func (s *Service) CheckLimit(ctx context.Context, req *CheckLimitRequest) (*CheckLimitResponse, error) {
	start := time.Now()
	clientID := normalizeClientID(req.ClientID)
	cost := req.Cost
	if cost == 0 {
		cost = 1
	}

	decision, err := s.limiter.Check(ctx, clientID, int64(cost))
	if err != nil {
		return nil, err
	}

	used, usageErr := s.limiter.Usage(ctx, clientID)
	var remainingTokens uint64
	if usageErr == nil {
		shape := s.limiter.Shape()
		if left := shape.Capacity - used; left > 0 {
			remainingTokens = uint64(left)
		}
	}

	resp := &CheckLimitResponse{
		Allowed:         decision.Admitted,
		RemainingTokens: remainingTokens,
		Metadata: ResponseMetadata{
			NodeID:    s.nodeID,
			FromCache: false,
			LatencyUs: time.Since(start).Microseconds(),
			IsGlobal:  true,
		},
	}
	if !decision.Admitted {
		resp.RetryAfterSeconds = uint32(decision.RetryHint.Round(time.Second) / time.Second)
		if resp.RetryAfterSeconds == 0 {
			resp.RetryAfterSeconds = 1
		}
	}
	return resp, nil
}

// GetUsage reports the current consumption and shape of a client's bucket.
func (s *Service) GetUsage(ctx context.Context, req *GetUsageRequest) (*GetUsageResponse, error) {
	clientID := normalizeClientID(req.ClientID)

	used, err := s.limiter.Usage(ctx, clientID)
	if err != nil {
		return nil, err
	}

	shape := s.limiter.Shape()
	return &GetUsageResponse{
		UsedTokens:    uint64(used),
		TotalCapacity: uint64(shape.Capacity),
		RefillRate:    uint64(shape.RefillRate),
		// LastRefillTimestamp reflects the instant this read performed its
		// own refill; the backend does not retain a separately queryable
		// refill clock beyond "now, as of this observation".
		LastRefillTimestamp: time.Now().Unix(),
	}, nil
}

// ResetLimit clears a client's bucket. Authorization of AdminToken is the
// caller's responsibility.
func (s *Service) ResetLimit(ctx context.Context, req *ResetLimitRequest) (*ResetLimitResponse, error) {
	clientID := normalizeClientID(req.ClientID)
	if err := utils.ValidateKey(clientID, "client_id"); err != nil {
		return &ResetLimitResponse{Success: false, Message: err.Error()}, nil
	}

	if err := s.limiter.Reset(ctx, clientID); err != nil {
		return nil, err
	}
	return &ResetLimitResponse{Success: true, Message: "reset"}, nil
}

// snapshot produces one StreamLimitStatus emission for clientID.
func (s *Service) snapshot(ctx context.Context, clientID string) *StreamLimitStatusSnapshot {
	used, err := s.limiter.Usage(ctx, clientID)
	now := time.Now()

	snap := &StreamLimitStatusSnapshot{
		ClientID:    clientID,
		TimestampMs: now.UnixMilli(),
	}
	if err != nil {
		snap.Status = StatusError
		return snap
	}

	shape := s.limiter.Shape()
	remaining := shape.Capacity - used
	if remaining < 0 {
		remaining = 0
	}
	snap.RemainingTokens = uint64(remaining)
	if remaining == 0 {
		snap.Status = StatusThrottled
	} else {
		snap.Status = StatusHealthy
	}
	return snap
}

// streamSender abstracts the send half of the StreamLimitStatus server
// stream, so the ticking loop is independent of grpc's ServerStream type.
type streamSender interface {
	Send(*StreamLimitStatusSnapshot) error
}

// StreamLimitStatus emits one snapshot per second until the backend errs
// (the snapshot carries StatusError, then the stream ends) or ctx is
// cancelled.
func (s *Service) StreamLimitStatus(ctx context.Context, req *StreamLimitStatusRequest, send streamSender) error {
	clientID := normalizeClientID(req.ClientID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	snap := s.snapshot(ctx, clientID)
	if err := send.Send(snap); err != nil {
		return err
	}
	if snap.Status == StatusError {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := s.snapshot(ctx, clientID)
			if err := send.Send(snap); err != nil {
				return err
			}
			if snap.Status == StatusError {
				return nil
			}
		}
	}
}
