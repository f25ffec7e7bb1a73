package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalInvalidateLoopsBack(t *testing.T) {
	l := NewLocal()
	var got [][]string
	unsubscribe := l.Subscribe(func(keys []string) { got = append(got, keys) })

	require.NoError(t, l.PublishInvalidate(context.Background(), "obj:2:id:10", "acl:*"))
	require.NoError(t, l.PublishInvalidate(context.Background()))
	assert.Equal(t, [][]string{{"obj:2:id:10", "acl:*"}}, got)

	unsubscribe()
	unsubscribe()
	require.NoError(t, l.PublishInvalidate(context.Background(), "x"))
	assert.Len(t, got, 1)

	assert.True(t, l.IsCoordinator())
	assert.False(t, l.IsClusterActive())
}

func TestLocalTokens(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	tok := &Token{ID: "s1", Principal: "alice", Data: map[string]string{"k": "v"}, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, l.PutToken(ctx, tok))
	tok.Data["k"] = "changed"

	got, err := l.GetToken(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Data["k"], "stored token is isolated from the caller's copy")

	now = now.Add(50 * time.Second)
	require.NoError(t, l.RefreshToken(ctx, "s1", time.Minute))
	now = now.Add(50 * time.Second)
	_, err = l.GetToken(ctx, "s1")
	require.NoError(t, err, "refresh extended the lifetime")

	now = now.Add(time.Minute)
	_, err = l.GetToken(ctx, "s1")
	assert.True(t, IsTokenNotFoundErr(err))
	assert.True(t, IsTokenNotFoundErr(l.RefreshToken(ctx, "s1", time.Minute)))
}
