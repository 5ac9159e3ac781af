// Package redis implements the DistributedBackend over Redis: the
// refill-then-consume-then-refresh-TTL algorithm runs as a single atomic
// Lua script per key. Constructing the backend with a redis.NewRing client
// (see NewCluster) gives a cluster-sharded variant, sharding keys across
// nodes via go-redis's built-in rendezvous hashing instead of a
// hand-rolled hasher.
package redis

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tokengate/ratelimit/backends"
)

//go:embed tokenbucket.lua
var tokenBucketScript string

// shardSuffix is appended to every key after the client key, which is
// wrapped in a hash tag ({client_key}:ratelimit) so that Redis Cluster/Ring
// deployments hash only the client key portion.
const shardSuffix = ":ratelimit"

// Config configures the Redis-backed DistributedBackend.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// URL, if set, takes precedence over the individual fields above.
	URL string
}

// Backend is the Redis-backed distributed backend. It holds no mutable
// state beyond the connection handle.
type Backend struct {
	client goredis.UniversalClient
	script *goredis.Script
}

// New creates a Backend from a single Redis endpoint.
func New(cfg Config) (*Backend, error) {
	var opts *goredis.Options
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, backends.NewBackendError(backends.Misconfigured, "redis:ParseURL", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, PoolSize: cfg.PoolSize}
	}

	client := goredis.NewClient(opts)
	return newBackend(client)
}

// NewCluster creates a Backend sharded across nodes using a Redis Ring
// client. Each key hashes, via rendezvous hashing over the node set, to
// the shard that owns it; the Lua script's atomicity then holds per-shard.
func NewCluster(addrs map[string]string) (*Backend, error) {
	client := goredis.NewRing(&goredis.RingOptions{Addrs: addrs})
	return newBackend(client)
}

// NewWithClient wraps an already-configured client, e.g. one built by the
// caller for custom TLS or sentinel topologies.
func NewWithClient(client goredis.UniversalClient) *Backend {
	return &Backend{client: client, script: goredis.NewScript(tokenBucketScript)}
}

func newBackend(client goredis.UniversalClient) (*Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, backends.ClassifyTransportError("redis:Ping", err)
	}
	return &Backend{client: client, script: goredis.NewScript(tokenBucketScript)}, nil
}

func storageKey(key string) string {
	return "{" + key + "}" + shardSuffix
}

func (b *Backend) eval(ctx context.Context, key string, shape backends.BucketShape, cost int64, write bool) (admitted bool, tokens int64, err error) {
	now := float64(time.Now().UnixNano()) / 1e9
	w := 0
	if write {
		w = 1
	}

	res, err := b.script.Run(ctx, b.client, []string{storageKey(key)},
		shape.Capacity, shape.RefillRate, cost, now, w).Result()
	if err != nil {
		if isNoScript(err) {
			if loadErr := b.script.Load(ctx, b.client).Err(); loadErr != nil {
				return false, 0, backends.ClassifyTransportError("redis:ScriptLoad", loadErr)
			}
			res, err = b.script.Run(ctx, b.client, []string{storageKey(key)},
				shape.Capacity, shape.RefillRate, cost, now, w).Result()
		}
		if err != nil {
			return false, 0, backends.ClassifyTransportError("redis:EvalSha", err)
		}
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return false, 0, backends.NewBackendError(backends.Misconfigured, "redis:EvalSha",
			fmt.Errorf("unexpected script result shape: %#v", res))
	}

	admittedInt, _ := arr[0].(int64)
	tokensStr, _ := arr[1].(string)
	tokensF, perr := strconv.ParseFloat(tokensStr, 64)
	if perr != nil {
		return false, 0, backends.NewBackendError(backends.Misconfigured, "redis:EvalSha", perr)
	}

	return admittedInt == 1, int64(tokensF), nil
}

func isNoScript(err error) bool {
	return strings.Contains(err.Error(), "NOSCRIPT")
}

// Take implements backends.Backend.
func (b *Backend) Take(ctx context.Context, key string, shape backends.BucketShape, cost int64) (bool, error) {
	admitted, _, err := b.eval(ctx, key, shape, cost, true)
	return admitted, err
}

// Usage implements backends.Backend. It runs a read-only variant of the
// same script so a usage probe never mutates bucket state or refreshes its
// TTL.
func (b *Backend) Usage(ctx context.Context, key string, shape backends.BucketShape) (int64, error) {
	_, tokensAfter, err := b.eval(ctx, key, shape, 0, false)
	if err != nil {
		return 0, err
	}
	return shape.Capacity - tokensAfter, nil
}

// Reset implements backends.Backend. It deletes the key rather than
// zeroing it — a concurrent Take after Reset observes an absent key and
// recreates a full bucket.
func (b *Backend) Reset(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, storageKey(key)).Err(); err != nil {
		return backends.ClassifyTransportError("redis:Del", err)
	}
	return nil
}

// Close implements backends.Backend.
func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return backends.ClassifyTransportError("redis:Close", err)
	}
	return nil
}
