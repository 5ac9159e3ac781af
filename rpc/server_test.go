package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tokengate/ratelimit/backends/memory"
	"github.com/tokengate/ratelimit/ratelimiter"
)

func startBufconnServer(t *testing.T) (*grpc.ClientConn, func()) {
	t.Helper()

	rl, err := ratelimiter.New(memory.New(),
		ratelimiter.WithCapacity(2), ratelimiter.WithRefillRate(1), ratelimiter.WithRefillInterval(time.Second))
	require.NoError(t, err)

	svc := NewService(rl, "node-bufconn")
	server := NewServer(svc, nil)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = server.server.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)

	return conn, func() { conn.Close(); server.Stop(); rl.Close() }
}

func TestServer_CheckLimitOverRealTransport(t *testing.T) {
	conn, cleanup := startBufconnServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &CheckLimitRequest{ClientID: "bufconn-client", Cost: 1}
	resp := new(CheckLimitResponse)
	err := conn.Invoke(ctx, "/ratelimit.RateLimitService/CheckLimit", req, resp)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "node-bufconn", resp.Metadata.NodeID)
}

func TestServer_ResetLimitOverRealTransport(t *testing.T) {
	conn, cleanup := startBufconnServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp := new(ResetLimitResponse)
	err := conn.Invoke(ctx, "/ratelimit.RateLimitService/ResetLimit", &ResetLimitRequest{ClientID: "r"}, resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}
