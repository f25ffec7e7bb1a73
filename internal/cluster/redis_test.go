package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedisNode(t *testing.T, srv *miniredis.Miniredis, id string) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := RedisConfig{Prefix: "test:", Heartbeat: 20 * time.Millisecond, LeaseTTL: time.Second}
	r, err := NewRedis(context.Background(), client, cfg, WithNodeID(id), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return r
}

type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) handle(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestRedisInvalidateReachesAllNodes(t *testing.T) {
	srv := miniredis.RunT(t)
	a := newRedisNode(t, srv, "a")
	defer a.Close()
	b := newRedisNode(t, srv, "b")
	defer b.Close()

	var ra, rb recorder
	a.Subscribe(ra.handle)
	b.Subscribe(rb.handle)

	require.NoError(t, a.PublishInvalidate(context.Background(), "obj:2:id:10"))

	assert.Eventually(t, func() bool { return len(rb.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(ra.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"obj:2:id:10"}, rb.snapshot())
}

func TestRedisLeadership(t *testing.T) {
	srv := miniredis.RunT(t)
	a := newRedisNode(t, srv, "a")
	b := newRedisNode(t, srv, "b")
	defer b.Close()

	assert.True(t, a.IsCoordinator(), "first node takes the lease")
	assert.False(t, b.IsCoordinator())
	assert.Eventually(t, func() bool { return a.IsClusterActive() && b.IsClusterActive() }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Close())
	assert.False(t, srv.Exists("test:node:a"))
	assert.Eventually(t, b.IsCoordinator, time.Second, 5*time.Millisecond, "lease released on close")
}

func TestRedisTokens(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	r := newRedisNode(t, srv, "a")
	defer r.Close()

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC()
	require.NoError(t, r.PutToken(ctx, &Token{ID: "s1", Principal: "alice", Data: map[string]string{"locale": "de"}, ExpiresAt: expires}))

	got, err := r.GetToken(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Principal)
	assert.Equal(t, map[string]string{"locale": "de"}, got.Data)
	assert.True(t, expires.Equal(got.ExpiresAt))

	require.NoError(t, r.RefreshToken(ctx, "s1", 2*time.Hour))
	assert.Greater(t, srv.TTL("test:session:s1"), time.Hour)

	_, err = r.GetToken(ctx, "missing")
	assert.True(t, IsTokenNotFoundErr(err))
	assert.True(t, IsTokenNotFoundErr(r.RefreshToken(ctx, "missing", time.Minute)))
}
