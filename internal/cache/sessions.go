package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pthm/strata/internal/cluster"
)

// Sessions fronts the coordinator's token store. Refreshes are debounced:
// Touch only extends a token on the cluster when more than 1% of the TTL has
// passed since this node last refreshed it. Concurrent lookups of the same
// token share one round-trip.
type Sessions struct {
	coord cluster.Coordinator
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu   sync.Mutex
	last map[string]time.Time
}

// NewSessions returns a session store with the given token lifetime.
func NewSessions(coord cluster.Coordinator, ttl time.Duration) *Sessions {
	return &Sessions{
		coord: coord,
		ttl:   ttl,
		now:   time.Now,
		last:  make(map[string]time.Time),
	}
}

// TTL returns the token lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Put stores t. A zero ExpiresAt is set to one TTL from now.
func (s *Sessions) Put(ctx context.Context, t *cluster.Token) error {
	now := s.now()
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.coord.PutToken(ctx, t); err != nil {
		return err
	}
	s.mu.Lock()
	s.last[t.ID] = now
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the token with the given id.
func (s *Sessions) Get(ctx context.Context, id string) (*cluster.Token, error) {
	v, err, shared := s.group.Do(id, func() (any, error) {
		return s.coord.GetToken(ctx, id)
	})
	if shared {
		mon.Event("session_get_coalesced")
	}
	if err != nil {
		if cluster.IsTokenNotFoundErr(err) {
			s.Forget(id)
		}
		return nil, err
	}
	return v.(*cluster.Token).Clone(), nil
}

// Touch extends the token's lifetime. It reports whether a refresh was sent.
func (s *Sessions) Touch(ctx context.Context, id string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	last, ok := s.last[id]
	if ok && now.Sub(last) <= s.ttl/100 {
		s.mu.Unlock()
		return false, nil
	}
	s.last[id] = now
	s.mu.Unlock()

	if err := s.coord.RefreshToken(ctx, id, s.ttl); err != nil {
		s.Forget(id)
		return false, err
	}
	return true, nil
}

// Forget drops the debounce state for id.
func (s *Sessions) Forget(id string) {
	s.mu.Lock()
	delete(s.last, id)
	s.mu.Unlock()
}

// Prune drops the debounce state of tokens this node has not refreshed for
// a whole TTL. Such tokens have expired unless another node kept them
// alive, and then the next Touch refreshes them anyway. It returns the
// number of entries dropped.
func (s *Sessions) Prune() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, last := range s.last {
		if last.Before(cutoff) {
			delete(s.last, id)
			n++
		}
	}
	return n
}
