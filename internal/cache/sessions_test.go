package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/internal/cluster"
)

type countingCoordinator struct {
	*cluster.Local
	refreshes atomic.Int32
	gets      atomic.Int32
	gate      chan struct{}
}

func (c *countingCoordinator) RefreshToken(ctx context.Context, id string, ttl time.Duration) error {
	c.refreshes.Add(1)
	return c.Local.RefreshToken(ctx, id, ttl)
}

func (c *countingCoordinator) GetToken(ctx context.Context, id string) (*cluster.Token, error) {
	c.gets.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Local.GetToken(ctx, id)
}

func TestTouchDebounce(t *testing.T) {
	ctx := context.Background()
	coord := &countingCoordinator{Local: cluster.NewLocal()}
	s := NewSessions(coord, 100*time.Second)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, &cluster.Token{ID: "s1", Principal: "alice"}))

	sent, err := s.Touch(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sent, "within 1% of the TTL since Put")

	now = now.Add(500 * time.Millisecond)
	sent, _ = s.Touch(ctx, "s1")
	assert.False(t, sent)

	now = now.Add(time.Second)
	sent, err = s.Touch(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, int32(1), coord.refreshes.Load())

	_, err = s.Touch(ctx, "unknown")
	assert.True(t, cluster.IsTokenNotFoundErr(err))
}

func TestGetCoalesces(t *testing.T) {
	ctx := context.Background()
	coord := &countingCoordinator{Local: cluster.NewLocal(), gate: make(chan struct{})}
	s := NewSessions(coord, time.Minute)
	require.NoError(t, coord.PutToken(ctx, &cluster.Token{ID: "s1", Principal: "alice", ExpiresAt: time.Now().Add(time.Hour)}))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Get(ctx, "s1")
			if err != nil || tok.Principal != "alice" {
				t.Errorf("Get() = %v, %v", tok, err)
			}
		}()
	}
	require.Eventually(t, func() bool { return coord.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(coord.gate)
	wg.Wait()
	assert.Less(t, coord.gets.Load(), int32(5))
}

func TestPruneDropsExpiredRefreshState(t *testing.T) {
	ctx := context.Background()
	coord := &countingCoordinator{Local: cluster.NewLocal()}
	s := NewSessions(coord, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, &cluster.Token{ID: "old", Principal: "alice"}))
	now = now.Add(45 * time.Second)
	require.NoError(t, s.Put(ctx, &cluster.Token{ID: "new", Principal: "bob"}))

	tests := []struct {
		name    string
		advance time.Duration
		pruned  int
		left    []string
	}{
		{"nothing older than the TTL", 0, 0, []string{"new", "old"}},
		{"expired token dropped", 30 * time.Second, 1, []string{"new"}},
		{"everything expired", time.Minute, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(tt.advance)
			assert.Equal(t, tt.pruned, s.Prune())
			var left []string
			s.mu.Lock()
			for id := range s.last {
				left = append(left, id)
			}
			s.mu.Unlock()
			assert.ElementsMatch(t, tt.left, left)
		})
	}
}

func TestGetForgetsMissingToken(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(cluster.NewLocal(), time.Minute)
	s.last["gone"] = time.Now()

	_, err := s.Get(ctx, "gone")
	assert.True(t, cluster.IsTokenNotFoundErr(err), "err = %v", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.last["gone"]; ok {
		t.Errorf("debounce state kept for a missing token")
	}
}
