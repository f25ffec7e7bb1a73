// Package cluster defines how strata nodes coordinate cache invalidation,
// leadership and shared session tokens.
//
// Local is the single-node coordinator: invalidations loop back to the local
// subscribers, the node is always the coordinator, and tokens live in memory.
// Redis coordinates any number of nodes through a Redis server.
package cluster

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// ErrTokenNotFound is returned when a session token does not exist or expired.
var ErrTokenNotFound = errors.New("cluster: token not found")

// IsTokenNotFoundErr reports whether err is ErrTokenNotFound.
func IsTokenNotFoundErr(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}

// Token is a session token shared between nodes.
type Token struct {
	ID        string
	Principal string
	Data      map[string]string
	ExpiresAt time.Time
}

// Clone returns a copy of t that shares no state with it.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Data = maps.Clone(t.Data)
	return &cp
}

// Handler receives invalidated cache keys. Handlers also receive the keys
// published by their own node.
type Handler func(keys []string)

// Coordinator is the cluster-facing side of the engine.
type Coordinator interface {
	// PublishInvalidate announces that keys are stale on every node.
	PublishInvalidate(ctx context.Context, keys ...string) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())
	// IsCoordinator reports whether this node currently holds leadership.
	IsCoordinator() bool
	// IsClusterActive reports whether other nodes are alive.
	IsClusterActive() bool
	// RefreshToken extends a token's lifetime to ttl from now.
	RefreshToken(ctx context.Context, id string, ttl time.Duration) error
	GetToken(ctx context.Context, id string) (*Token, error)
	// PutToken stores t until t.ExpiresAt.
	PutToken(ctx context.Context, t *Token) error
	Close() error
}

// subscribers is the handler registry shared by both coordinators.
type subscribers struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) dispatch(keys []string) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.RUnlock()
	for _, h := range hs {
		h(keys)
	}
}

// Local is a single-node Coordinator.
type Local struct {
	subs subscribers

	mu     sync.Mutex
	tokens map[string]*Token
	now    func() time.Time
}

// NewLocal returns a single-node coordinator.
func NewLocal() *Local {
	return &Local{tokens: make(map[string]*Token), now: time.Now}
}

func (l *Local) PublishInvalidate(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		l.subs.dispatch(keys)
	}
	return nil
}

func (l *Local) Subscribe(h Handler) func() { return l.subs.add(h) }

func (l *Local) IsCoordinator() bool { return true }

func (l *Local) IsClusterActive() bool { return false }

func (l *Local) RefreshToken(_ context.Context, id string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.live(id)
	if !ok {
		return ErrTokenNotFound
	}
	t.ExpiresAt = l.now().Add(ttl)
	return nil
}

func (l *Local) GetToken(_ context.Context, id string) (*Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.live(id)
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t.Clone(), nil
}

func (l *Local) PutToken(_ context.Context, t *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[t.ID] = t.Clone()
	return nil
}

func (l *Local) live(id string) (*Token, bool) {
	t, ok := l.tokens[id]
	if !ok {
		return nil, false
	}
	if !t.ExpiresAt.IsZero() && !l.now().Before(t.ExpiresAt) {
		delete(l.tokens, id)
		return nil, false
	}
	return t, true
}

func (l *Local) Close() error { return nil }

var (
	_ Coordinator = (*Local)(nil)
	_ Coordinator = (*Redis)(nil)
)
