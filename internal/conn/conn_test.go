package conn

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "conn.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec("CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM item").Scan(&n))
	return n
}

func use(t *testing.T, m *Manager, c *Core) {
	t.Helper()
	h, err := m.Acquire(context.Background(), c)
	require.NoError(t, err)
	defer h.Release()
	var one int
	require.NoError(t, h.QueryRowContext(context.Background(), "SELECT 1").Scan(&one))
}

func TestSharedTreeLifecycle(t *testing.T) {
	m := NewManager(openDB(t), WithLogger(zaptest.NewLogger(t)))

	a := m.NewCore("alice")
	use(t, m, a)
	b, err := m.Share(a)
	require.NoError(t, err)
	c, err := m.Share(b)
	require.NoError(t, err)
	assert.Equal(t, a.TreeID(), c.TreeID())

	require.NoError(t, m.Release(b, false))
	require.NoError(t, m.Release(c, false))
	assert.True(t, m.IsOpen(a), "releasing B and C leaves A's connection open")

	require.NoError(t, m.Release(a, false))
	assert.False(t, m.IsOpen(a))
	assert.Zero(t, m.Trees())
}

func TestReleaseParentFirst(t *testing.T) {
	m := NewManager(openDB(t))

	a := m.NewCore("alice")
	b, err := m.Share(a)
	require.NoError(t, err)
	use(t, m, b)

	require.NoError(t, m.Release(a, false))
	assert.True(t, m.IsOpen(b), "releasing A first does not close the tree")
	use(t, m, b)

	_, err = m.Acquire(context.Background(), a)
	assert.True(t, IsReleasedErr(err))
	_, err = m.Share(a)
	assert.True(t, IsReleasedErr(err))

	require.NoError(t, m.Release(b, false))
	assert.False(t, m.IsOpen(b))
}

func TestHardRelease(t *testing.T) {
	m := NewManager(openDB(t))
	a := m.NewCore("alice")
	b, err := m.Share(a)
	require.NoError(t, err)
	use(t, m, a)

	require.NoError(t, m.Release(b, true))
	assert.False(t, m.IsOpen(a))
	_, err = m.Acquire(context.Background(), a)
	assert.True(t, IsReleasedErr(err), "the whole tree is gone")
	require.NoError(t, m.Release(a, false))
	require.NoError(t, m.Release(a, false), "double release is a no-op")
}

func TestCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(db)

	a := m.NewCore("alice")
	b, err := m.Share(a)
	require.NoError(t, err)

	committed := 0
	h, err := m.Acquire(ctx, a)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, "INSERT INTO item (name) VALUES (?)", "one")
	require.NoError(t, err)
	h.OnCommit(func() { committed++ })
	h.Release()

	h, err = m.Acquire(ctx, b)
	require.NoError(t, err)
	var n int
	require.NoError(t, h.QueryRowContext(ctx, "SELECT COUNT(*) FROM item").Scan(&n))
	h.Release()
	assert.Equal(t, 1, n, "shared cores see each other's uncommitted writes")

	require.NoError(t, m.Commit(ctx, b))
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, count(t, db))

	h, err = m.Acquire(ctx, a)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, "INSERT INTO item (name) VALUES (?)", "two")
	require.NoError(t, err)
	h.OnCommit(func() { committed++ })
	h.Release()
	require.NoError(t, m.Rollback(ctx, a))
	require.NoError(t, m.Commit(ctx, a))
	assert.Equal(t, 1, committed, "callbacks are dropped on rollback")
	assert.Equal(t, 1, count(t, db))

	require.NoError(t, m.Release(a, false))
	require.NoError(t, m.Release(b, false))
}

func TestCommitSucceedsWhenCloseFails(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	core, logs := observer.New(zap.WarnLevel)
	m := NewManager(db, WithLogger(zap.New(core)))

	a := m.NewCore("alice")
	h, err := m.Acquire(ctx, a)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, "INSERT INTO item (name) VALUES (?)", "one")
	require.NoError(t, err)
	committed := false
	h.OnCommit(func() { committed = true })
	h.Release()

	// Swap in a connection that is already closed so Close reports
	// sql.ErrConnDone once the transaction has committed.
	stale, err := db.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, stale.Close())
	orig := a.t.conn
	a.t.conn = stale
	t.Cleanup(func() { _ = orig.Close() })

	if err := m.Commit(ctx, a); err != nil {
		t.Errorf("Commit() error = %v, want nil", err)
	}
	assert.True(t, committed, "commit callbacks run")
	assert.Equal(t, 1, count(t, db))
	assert.Equal(t, 1, logs.FilterMessage("closing connection after commit").Len())

	use(t, m, a)
	require.NoError(t, m.Release(a, false))
}

func TestReleaseRollsBackUncommitted(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	core, logs := observer.New(zap.WarnLevel)
	m := NewManager(db, WithLogger(zap.New(core)))

	a := m.NewCore("alice")
	h, err := m.Acquire(ctx, a)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, "INSERT INTO item (name) VALUES (?)", "lost")
	require.NoError(t, err)
	h.Release()

	require.NoError(t, m.Release(a, false))
	assert.Zero(t, count(t, db))
	assert.Equal(t, 1, logs.FilterMessage("rolling back uncommitted work on release").Len())
}

func TestAcquireSerializes(t *testing.T) {
	m := NewManager(openDB(t))
	a := m.NewCore("alice")
	b, err := m.Share(a)
	require.NoError(t, err)

	h, err := m.Acquire(context.Background(), a)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, b)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		h2, err := m.Acquire(context.Background(), b)
		if err == nil {
			h2.Release()
		}
		close(acquired)
	}()
	h.Release()
	h.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
	require.NoError(t, m.Close())
}

func TestReaper(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var closed []string
	m := NewManager(openDB(t), WithLogger(zap.New(core)), WithIdleTimeout(time.Minute),
		WithOnClose(func(id string) { closed = append(closed, id) }))
	now := time.Now()
	m.now = func() time.Time { return now }

	leaked := m.NewCore("alice")
	use(t, m, leaked)
	busy := m.NewCore("bob")

	now = now.Add(2 * time.Minute)
	fresh := m.NewCore("carol")

	h, err := m.Acquire(context.Background(), busy)
	require.NoError(t, err)
	now = now.Add(-30 * time.Second)
	assert.Equal(t, 1, m.Reap(), "only the idle, unacquired tree is reaped")
	h.Release()
	assert.Equal(t, []string{leaked.TreeID()}, closed)

	assert.False(t, m.IsOpen(leaked))
	_, err = m.Acquire(context.Background(), leaked)
	assert.True(t, IsReleasedErr(err))

	entries := logs.FilterMessage("reaping leaked connection tree").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["created_at"], "TestReaper")

	require.NoError(t, m.Release(fresh, false))
	require.NoError(t, m.Close())
	assert.Zero(t, m.Trees())
	assert.ElementsMatch(t, []string{leaked.TreeID(), fresh.TreeID(), busy.TreeID()}, closed)
}
