// Package lock provides a table of named, re-entrant locks with bounded wait.
//
// Locks are keyed by a Key rather than a free-form string. A lock is held by an
// owner; the same owner may acquire it again without blocking and must release
// it as many times as it acquired it. Other owners wait up to the table's wait
// bound and then fail with a LockTimeout error.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"

	"github.com/pthm/strata/internal/apperr"
)

var mon = monkit.Package()

// DefaultWait is the wait bound used when none is configured.
const DefaultWait = 10 * time.Second

// ErrTimeout is wrapped by errors returned when a lock wait times out.
var ErrTimeout = errors.New("lock: wait timed out")

// IsTimeoutErr reports whether err is a lock wait timeout.
func IsTimeoutErr(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Key names a lock. Scope distinguishes what is being guarded, for example
// "permissions" or "session"; Principal is the principal it is guarded for.
type Key struct {
	Scope     string
	Principal string
}

func (k Key) String() string {
	return k.Scope + "/" + k.Principal
}

type entry struct {
	owner string
	depth int
	done  chan struct{}
}

// Table is a set of named locks. The zero value is not usable; use New.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*entry
	wait    time.Duration
}

// Option configures a Table.
type Option func(*Table)

// WithWait sets how long Acquire waits for a lock held by another owner.
func WithWait(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.wait = d
		}
	}
}

// New returns an empty lock table.
func New(opts ...Option) *Table {
	t := &Table{entries: make(map[Key]*entry), wait: DefaultWait}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire takes the lock for owner and returns its release function. The
// release function is safe to call more than once; only the first call counts.
func (t *Table) Acquire(ctx context.Context, key Key, owner string) (_ func(), err error) {
	defer mon.Task()(&ctx)(&err)

	timer := time.NewTimer(t.wait)
	defer timer.Stop()

	for {
		t.mu.Lock()
		e, ok := t.entries[key]
		if !ok {
			e = &entry{owner: owner, done: make(chan struct{})}
			t.entries[key] = e
		}
		if e.owner == owner {
			e.depth++
			t.mu.Unlock()
			return t.releaser(key, e), nil
		}
		done := e.done
		t.mu.Unlock()

		select {
		case <-done:
		case <-timer.C:
			mon.Event("lock_timeout")
			return nil, apperr.Wrap(apperr.CodeLockTimeout,
				fmt.Errorf("%w: %s after %s", ErrTimeout, key, t.wait))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Table) releaser(key Key, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			e.depth--
			if e.depth > 0 {
				return
			}
			if t.entries[key] == e {
				delete(t.entries, key)
			}
			close(e.done)
		})
	}
}

type ownerKey struct{}

// WithOwner attaches the lock owner identity used by callers that take locks
// on behalf of ctx, typically a connection tree id.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner attached to ctx.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// Holder returns the current owner of key, or "" when it is free.
func (t *Table) Holder(key Key) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.owner
	}
	return ""
}
