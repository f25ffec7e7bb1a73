package strata

import (
	"context"
	"slices"
	"sync"

	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

// Phase says when a save hook runs.
type Phase int

const (
	// BeforeSave runs before validation; hooks may change the object.
	BeforeSave Phase = iota
	// AfterSave runs after the new version was written, before commit.
	AfterSave
	// BeforeDelete runs before the current version is closed.
	BeforeDelete
	// AfterDelete runs after the current version was closed.
	AfterDelete
)

func (p Phase) String() string {
	switch p {
	case BeforeSave:
		return "before_save"
	case AfterSave:
		return "after_save"
	case BeforeDelete:
		return "before_delete"
	case AfterDelete:
		return "after_delete"
	}
	return "unknown"
}

// SaveEvent is passed to save hooks. Object is the version being written; in
// BeforeSave it is the caller's copy and may be modified.
type SaveEvent struct {
	Phase  Phase
	Core   *Core
	Type   *schema.TypeDescriptor
	Object *object.Object
}

// SaveHook observes or vetoes writes. A non-nil error aborts the operation
// and is returned to the caller; in the After phases the written row stays
// in the open transaction for the caller to roll back. Hooks run without the
// Core's connection held, so they may use the Core themselves.
type SaveHook func(ctx context.Context, ev *SaveEvent) error

// HookID identifies a registered hook.
type HookID uint64

type hookEntry struct {
	id   HookID
	typ  schema.TypeID
	hook SaveHook
}

type hookRegistry struct {
	mu    sync.RWMutex
	next  HookID
	hooks []hookEntry
}

// RegisterOnSave registers hook for objects of typ, or of every type with
// TypeAll. Hooks run in registration order.
func (e *Engine) RegisterOnSave(hook SaveHook, typ schema.TypeID) HookID {
	r := &e.hooks
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.hooks = append(r.hooks, hookEntry{id: r.next, typ: typ, hook: hook})
	return r.next
}

// Unregister removes a hook. It reports whether the hook was registered.
func (e *Engine) Unregister(id HookID) bool {
	r := &e.hooks
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.hooks, func(h hookEntry) bool { return h.id == id })
	if i < 0 {
		return false
	}
	r.hooks = slices.Delete(r.hooks, i, i+1)
	return true
}

func (r *hookRegistry) run(ctx context.Context, ev *SaveEvent) error {
	r.mu.RLock()
	hooks := slices.Clone(r.hooks)
	r.mu.RUnlock()
	for _, h := range hooks {
		if h.typ != TypeAll && h.typ != ev.Type.ID {
			continue
		}
		if err := h.hook(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
