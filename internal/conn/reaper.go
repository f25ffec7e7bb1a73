package conn

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start runs the reaper until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Reap()
			}
		}
	}()
}

// Reap hard-releases every tree unused for longer than the idle timeout and
// not currently acquired. It returns the number of trees closed.
func (m *Manager) Reap() int {
	cutoff := m.now().Add(-m.idle)
	var idle []*tree
	m.mu.Lock()
	for id, t := range m.trees {
		if !t.lastUsed.Before(cutoff) {
			continue
		}
		select {
		case t.sem <- struct{}{}:
			t.closed = true
			delete(m.trees, id)
			idle = append(idle, t)
		default:
			// In use right now; it is not idle.
		}
	}
	m.mu.Unlock()

	for _, t := range idle {
		m.log.Warn("reaping leaked connection tree",
			zap.String("tree", t.id),
			zap.String("principal", t.principal),
			zap.Duration("age", m.now().Sub(t.created)),
			zap.String("created_at", t.site))
		if err := m.rollback(t); err != nil {
			m.log.Error("closing reaped tree", zap.String("tree", t.id), zap.Error(err))
		}
		m.notifyClosed(t)
		unlockTree(t)
	}
	if len(idle) > 0 {
		mon.Counter("reaped_trees").Inc(int64(len(idle)))
	}
	return len(idle)
}

// Close stops the reaper and hard-releases every remaining tree.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop, done := m.stop, m.done
	trees := make([]*tree, 0, len(m.trees))
	for id, t := range m.trees {
		t.closed = true
		trees = append(trees, t)
		delete(m.trees, id)
	}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	var err error
	for _, t := range trees {
		if cerr := m.closeTree(t, true); cerr != nil {
			m.log.Error("closing tree", zap.String("tree", t.id), zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}
	return err
}
