// Package conn manages physical database connections for logical contexts.
//
// # Trees
//
// A Core is one logical read/write context. NewCore starts a new tree; Share
// adds a Core to an existing tree. All Cores of a tree use one physical
// *sql.Conn and one *sql.Tx, opened on first Acquire, so work done through
// any of them is part of the same transaction.
//
// The tree counts its live Cores. Release of the last Core closes the tree;
// a hard Release closes it regardless of the count. Closing a tree with an
// open transaction rolls the transaction back.
//
// # Serialization
//
// Acquire grants exclusive use of the tree's connection until the returned
// Handle is released. Concurrent Cores of one tree therefore never interleave
// statements or result sets on the connection.
//
// # Reaper
//
// Start runs a reaper that hard-releases trees left idle longer than the idle
// timeout and logs where each leaked tree was created.
package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/pthm/strata/internal/apperr"
)

var mon = monkit.Package()

var (
	// ErrReleased is returned when a released Core is used.
	ErrReleased = errors.New("conn: core released")
	// ErrClosed is returned when the Manager was closed.
	ErrClosed = errors.New("conn: manager closed")
)

// IsReleasedErr reports whether err is ErrReleased.
func IsReleasedErr(err error) bool {
	return errors.Is(err, ErrReleased)
}

// Querier runs read statements. *sql.DB, *sql.Tx, *sql.Conn and *Handle
// satisfy it.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer extends Querier with ExecContext.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Defaults for the reaper.
const (
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultReapInterval = time.Minute
)

// Manager owns the connection trees of one *sql.DB.
type Manager struct {
	db     *sql.DB
	log    *zap.Logger
	txOpts *sql.TxOptions
	idle   time.Duration
	every  time.Duration
	now    func() time.Time
	// onClose is called with the id of every tree that closes.
	onClose func(treeID string)

	mu     sync.Mutex
	trees  map[string]*tree
	closed bool

	stop chan struct{}
	done chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithIdleTimeout sets how long a tree may stay unused before it is reaped.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithReapInterval sets how often the reaper runs.
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.every = d
		}
	}
}

// WithOnClose registers fn to run after a tree is closed by release, reaping
// or Close. fn must not call back into the Manager.
func WithOnClose(fn func(treeID string)) Option {
	return func(m *Manager) { m.onClose = fn }
}

// WithTxOptions sets the options used to begin tree transactions.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(m *Manager) { m.txOpts = opts }
}

// NewManager returns a Manager for db. The reaper is not running until Start.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:    db,
		log:   zap.NewNop(),
		idle:  DefaultIdleTimeout,
		every: DefaultReapInterval,
		now:   time.Now,
		trees: make(map[string]*tree),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying database handle.
func (m *Manager) DB() *sql.DB { return m.db }

// tree is the state shared by every Core of one tree.
type tree struct {
	id        string
	principal string
	site      string
	created   time.Time

	// refs, lastUsed and closed are guarded by Manager.mu.
	refs     int
	lastUsed time.Time
	closed   bool

	// sem grants exclusive use of conn and tx.
	sem      chan struct{}
	conn     *sql.Conn
	tx       *sql.Tx
	onCommit []func()
}

// Core is one logical context in a tree.
type Core struct {
	ID string
	t  *tree

	mu       sync.Mutex
	released bool
}

// TreeID returns the id of the core's tree, shared by every Core in it.
func (c *Core) TreeID() string { return c.t.id }

// Principal returns the principal the tree was created for.
func (c *Core) Principal() string { return c.t.principal }

// NewCore starts a new tree for principal and returns its first Core.
func (m *Manager) NewCore(principal string) *Core {
	return m.NewCoreCaller(principal, 1)
}

// NewCoreCaller is NewCore for wrappers: skip is the number of additional
// stack frames between the wrapper's caller and this call, used to record
// where the tree was created.
func (m *Manager) NewCoreCaller(principal string, skip int) *Core {
	now := m.now()
	t := &tree{
		id:        uuid.NewString(),
		principal: principal,
		site:      callSite(skip + 2),
		created:   now,
		lastUsed:  now,
		refs:      1,
		sem:       make(chan struct{}, 1),
	}
	m.mu.Lock()
	m.trees[t.id] = t
	n := len(m.trees)
	m.mu.Unlock()
	mon.IntVal("trees").Observe(int64(n))
	return &Core{ID: uuid.NewString(), t: t}
}

// Share returns a new Core in parent's tree.
func (m *Manager) Share(parent *Core) (*Core, error) {
	if parent.isReleased() {
		return nil, ErrReleased
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if parent.t.closed {
		return nil, ErrReleased
	}
	parent.t.refs++
	parent.t.lastUsed = m.now()
	return &Core{ID: uuid.NewString(), t: parent.t}, nil
}

func (c *Core) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Handle is exclusive use of a tree's transaction. It must be released.
type Handle struct {
	t    *tree
	once sync.Once
}

// Acquire waits for exclusive use of the tree's connection, opening the
// connection and transaction on first use.
func (m *Manager) Acquire(ctx context.Context, c *Core) (_ *Handle, err error) {
	defer mon.Task()(&ctx)(&err)
	if c.isReleased() {
		return nil, ErrReleased
	}
	t := c.t
	if err := lockTree(ctx, t); err != nil {
		return nil, err
	}
	if m.isClosed(t) {
		unlockTree(t)
		return nil, ErrReleased
	}
	if t.tx == nil {
		if err := m.open(ctx, t); err != nil {
			unlockTree(t)
			return nil, err
		}
	}
	m.touch(t)
	return &Handle{t: t}, nil
}

func lockTree(ctx context.Context, t *tree) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unlockTree(t *tree) { <-t.sem }

func (m *Manager) isClosed(t *tree) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.closed
}

func (m *Manager) touch(t *tree) {
	m.mu.Lock()
	t.lastUsed = m.now()
	m.mu.Unlock()
}

// open starts the tree's connection and transaction. The tree must be locked.
func (m *Manager) open(ctx context.Context, t *tree) error {
	sc, err := m.db.Conn(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeSQLExecution, fmt.Errorf("open connection: %w", err))
	}
	tx, err := sc.BeginTx(ctx, m.txOpts)
	if err != nil {
		_ = sc.Close()
		return apperr.Wrap(apperr.CodeSQLExecution, fmt.Errorf("begin transaction: %w", err))
	}
	t.conn, t.tx = sc, tx
	mon.Counter("open_connections").Inc(1)
	return nil
}

// Release ends the handle's exclusive use. Calling it again has no effect.
func (h *Handle) Release() {
	h.once.Do(func() { unlockTree(h.t) })
}

func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.t.tx.QueryContext(ctx, query, args...)
}

func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return h.t.tx.QueryRowContext(ctx, query, args...)
}

func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.t.tx.ExecContext(ctx, query, args...)
}

// OnCommit registers fn to run after the tree's transaction commits. The
// callbacks are dropped on rollback.
func (h *Handle) OnCommit(fn func()) {
	h.t.onCommit = append(h.t.onCommit, fn)
}

// Commit commits the tree's transaction, if one is open, and then runs the
// registered commit callbacks. The next Acquire starts a new transaction.
func (m *Manager) Commit(ctx context.Context, c *Core) (err error) {
	defer mon.Task()(&ctx)(&err)
	if c.isReleased() {
		return ErrReleased
	}
	t := c.t
	if err := lockTree(ctx, t); err != nil {
		return err
	}
	if t.tx == nil {
		unlockTree(t)
		return nil
	}
	err = t.tx.Commit()
	callbacks := t.onCommit
	t.onCommit = nil
	t.tx = nil
	closeErr := m.closeConn(t)
	unlockTree(t)

	if err != nil {
		if closeErr != nil {
			m.log.Warn("closing connection after failed commit", zap.String("tree", t.id), zap.Error(closeErr))
		}
		return apperr.Wrap(apperr.CodeSQLExecution, fmt.Errorf("commit: %w", err))
	}
	// The work is durable; a connection that fails to close is only logged.
	if closeErr != nil {
		m.log.Warn("closing connection after commit", zap.String("tree", t.id), zap.Error(closeErr))
	}
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Rollback rolls back the tree's transaction, if one is open, and drops its
// commit callbacks.
func (m *Manager) Rollback(ctx context.Context, c *Core) (err error) {
	defer mon.Task()(&ctx)(&err)
	if c.isReleased() {
		return ErrReleased
	}
	t := c.t
	if err := lockTree(ctx, t); err != nil {
		return err
	}
	defer unlockTree(t)
	return m.rollback(t)
}

// rollback ends the transaction and closes the connection. The tree must be
// locked.
func (m *Manager) rollback(t *tree) error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	t.tx = nil
	t.onCommit = nil
	err = errs.Combine(err, m.closeConn(t))
	if err != nil {
		return apperr.Wrap(apperr.CodeResourceRelease, err)
	}
	return nil
}

func (m *Manager) closeConn(t *tree) error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	mon.Counter("open_connections").Dec(1)
	return err
}

// Release releases c. The tree is closed when its last Core is released, or
// immediately when hard is set; closing rolls back uncommitted work.
// Releasing a Core twice has no effect.
func (m *Manager) Release(c *Core, hard bool) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.mu.Unlock()

	t := c.t
	m.mu.Lock()
	if t.closed {
		m.mu.Unlock()
		return nil
	}
	t.refs--
	last := t.refs <= 0 || hard
	if last {
		t.closed = true
		delete(m.trees, t.id)
	}
	m.mu.Unlock()
	if !last {
		return nil
	}
	return m.closeTree(t, hard)
}

// closeTree waits for the tree to be idle and closes it. The tree must
// already be marked closed.
func (m *Manager) closeTree(t *tree, hard bool) error {
	t.sem <- struct{}{}
	defer unlockTree(t)
	if t.tx != nil {
		m.log.Warn("rolling back uncommitted work on release",
			zap.String("tree", t.id),
			zap.String("principal", t.principal),
			zap.Bool("hard", hard),
			zap.String("created_at", t.site))
	}
	defer m.notifyClosed(t)
	return m.rollback(t)
}

func (m *Manager) notifyClosed(t *tree) {
	if m.onClose != nil {
		m.onClose(t.id)
	}
}

// IsOpen reports whether c's tree currently holds a physical connection.
func (m *Manager) IsOpen(c *Core) bool {
	select {
	case c.t.sem <- struct{}{}:
		defer unlockTree(c.t)
		return c.t.conn != nil
	default:
		return true
	}
}

// Trees returns the number of live trees.
func (m *Manager) Trees() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trees)
}

// callSite returns "function file:line" of the frame skip levels above its
// caller.
func callSite(skip int) string {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+1, pcs) == 0 {
		return "unknown"
	}
	f, _ := runtime.CallersFrames(pcs).Next()
	return fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line)
}
