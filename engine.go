package strata

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/cache"
	"github.com/pthm/strata/internal/cluster"
	"github.com/pthm/strata/internal/conn"
	"github.com/pthm/strata/internal/hydrate"
	"github.com/pthm/strata/internal/lock"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/schema"
)

var mon = monkit.Package()

// DefaultSessionTTL is the lifetime of session tokens stored through Sessions.
const DefaultSessionTTL = 30 * time.Minute

// Engine is the data-access service for one database and catalog. It is safe
// for concurrent use; create one per process and share it.
type Engine struct {
	db     *sql.DB
	ownsDB bool
	cat    *schema.Catalog
	d      dialect.Dialect
	log    *zap.Logger
	now    func() time.Time

	comp     *sqlgen.Compiler
	hyd      *hydrate.Hydrator
	conns    *conn.Manager
	locks    *lock.Table
	filter   *acl.Filter
	cache    *cache.Cache
	sessions *cache.Sessions
	coord    cluster.Coordinator
	hooks    hookRegistry

	// dirty records the types written in each tree's open transaction.
	// Reads of those types are not cached until the tree commits.
	dirtyMu sync.Mutex
	dirty   map[string]map[schema.TypeID]struct{}

	unsubscribe func()
	stopReaper  context.CancelFunc
	housekept   chan struct{}
	role        clusterRole
	roleSeen    bool

	// construction settings
	sep        string
	translator hydrate.Translator
	source     acl.Source
	ownsCoord  bool
	lockWait   time.Duration
	sessionTTL time.Duration
	reapEvery  time.Duration
	connOpts   []conn.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its components.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithCoordinator sets the cluster coordinator. Without one, the engine runs
// as a single node with a cluster.Local coordinator. The engine does not
// close a coordinator passed here.
func WithCoordinator(c cluster.Coordinator) Option {
	return func(e *Engine) { e.coord = c }
}

// WithACLSource sets where grants are loaded from. The default reads the
// strata_acl, strata_group and strata_group_member tables.
func WithACLSource(src acl.Source) Option {
	return func(e *Engine) { e.source = src }
}

// WithTranslator sets the translator used for label fields.
func WithTranslator(tr Translator) Option {
	return func(e *Engine) { e.translator = tr }
}

// WithSeparator sets the separator of stored multi-value text.
func WithSeparator(sep string) Option {
	return func(e *Engine) { e.sep = sep }
}

// WithLockWait bounds how long permission resolution waits for a principal's
// lock.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// WithIdleTimeout sets how long a Core tree may stay unused before the reaper
// closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.connOpts = append(e.connOpts, conn.WithIdleTimeout(d)) }
}

// WithReapInterval sets how often idle trees are looked for. Session
// refresh state is pruned and the cluster role checked on the same interval.
func WithReapInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reapEvery = d
		}
		e.connOpts = append(e.connOpts, conn.WithReapInterval(d))
	}
}

// WithTxOptions sets the options used to begin tree transactions.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(e *Engine) { e.connOpts = append(e.connOpts, conn.WithTxOptions(opts)) }
}

// WithSessionTTL sets the lifetime of session tokens.
func WithSessionTTL(d time.Duration) Option {
	return func(e *Engine) { e.sessionTTL = d }
}

// WithClock sets the time source used for version timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Open opens a database with the given driver and returns an Engine over it.
// The dialect is chosen from the driver name. The database is closed by
// Engine.Close.
func Open(driver, dsn string, cat *schema.Catalog, opts ...Option) (*Engine, error) {
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMetadataNotFound, err).WithOp("open")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeSQLExecution, err).WithOp("open")
	}
	e, err := New(db, cat, d, opts...)
	if err != nil {
		return nil, errs.Combine(err, db.Close())
	}
	e.ownsDB = true
	return e, nil
}

// New returns an Engine over db. Missing system tables are reported as a
// warning, not an error, so the engine can start before migrations ran.
func New(db *sql.DB, cat *schema.Catalog, d dialect.Dialect, opts ...Option) (*Engine, error) {
	e := &Engine{
		db:         db,
		cat:        cat,
		d:          d,
		log:        zap.NewNop(),
		now:        time.Now,
		dirty:      make(map[string]map[schema.TypeID]struct{}),
		sessionTTL: DefaultSessionTTL,
		reapEvery:  conn.DefaultReapInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.comp = sqlgen.New(cat, d, sqlgen.WithSeparator(e.sep))
	hopts := []hydrate.Option{hydrate.WithSeparator(e.sep)}
	if e.translator != nil {
		hopts = append(hopts, hydrate.WithTranslator(e.translator))
	}
	e.hyd = hydrate.New(d, hopts...)

	var lopts []lock.Option
	if e.lockWait > 0 {
		lopts = append(lopts, lock.WithWait(e.lockWait))
	}
	e.locks = lock.New(lopts...)
	if e.source == nil {
		e.source = acl.NewSQLSource(e.comp)
	}
	e.filter = acl.NewFilter(cat, acl.NewResolver(e.source, e.locks, acl.WithLogger(e.log.Named("acl"))))

	if e.coord == nil {
		e.coord = cluster.NewLocal()
		e.ownsCoord = true
	}
	e.cache = cache.New(cat)
	e.sessions = cache.NewSessions(e.coord, e.sessionTTL)
	e.unsubscribe = e.coord.Subscribe(e.handleInvalidation)

	e.conns = conn.NewManager(db, append([]conn.Option{
		conn.WithLogger(e.log.Named("conn")),
		conn.WithOnClose(e.clean),
	}, e.connOpts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	e.stopReaper = cancel
	e.conns.Start(ctx)
	e.observeRole()
	e.housekept = make(chan struct{})
	go e.housekeep(ctx)

	e.checkSystemTables(ctx)
	return e, nil
}

// checkSystemTables logs a warning when the sequence table is unreachable.
func (e *Engine) checkSystemTables(ctx context.Context) {
	stmt := e.comp.SequenceRead(sqlgen.SeqPhysical)
	var v int64
	err := e.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&v)
	switch {
	case err == nil:
	case dialect.IsUndefinedTable(err):
		e.log.Warn("strata system tables not found; run 'strata migrate' to create them")
	case err == sql.ErrNoRows:
		e.log.Warn("strata sequences not initialized; run 'strata migrate'")
	default:
		e.log.Warn("checking strata system tables", zap.Error(err))
	}
}

func (e *Engine) handleInvalidation(keys []string) {
	e.cache.HandleInvalidation(keys)
	e.filter.Resolver().HandleInvalidation(keys)
}

// Close stops the reaper, rolls back and closes every open Core tree, and
// releases the coordinator and database when the engine owns them.
func (e *Engine) Close() error {
	e.unsubscribe()
	e.stopReaper()
	<-e.housekept
	var group errs.Group
	group.Add(e.conns.Close())
	if e.ownsCoord {
		group.Add(e.coord.Close())
	}
	if e.ownsDB {
		group.Add(e.db.Close())
	}
	if err := group.Err(); err != nil {
		return apperr.Wrap(apperr.CodeResourceRelease, err).WithOp("close")
	}
	return nil
}

// DB returns the underlying database.
func (e *Engine) DB() *sql.DB { return e.db }

// Catalog returns the engine's schema catalog.
func (e *Engine) Catalog() *schema.Catalog { return e.cat }

// Dialect returns the engine's SQL dialect.
func (e *Engine) Dialect() dialect.Dialect { return e.d }

// Coordinator returns the cluster coordinator.
func (e *Engine) Coordinator() cluster.Coordinator { return e.coord }

// Sessions returns the session token store.
func (e *Engine) Sessions() *cache.Sessions { return e.sessions }

// Invalidate evicts cache entries and permission maps on every node. Keys use
// the cluster forms "obj:<type>:<key>", "obj:<type>:*", "acl:<principal>",
// "acl:*" and "*".
func (e *Engine) Invalidate(ctx context.Context, keys ...string) error {
	e.handleInvalidation(keys)
	if err := e.coord.PublishInvalidate(ctx, keys...); err != nil {
		return apperr.Wrap(apperr.CodeCluster, err).WithOp("invalidate")
	}
	return nil
}

// ResetPermissions drops resolved permission maps cluster-wide, for example
// after grants changed. An empty principal resets every map.
func (e *Engine) ResetPermissions(ctx context.Context, principalID string) error {
	key := acl.InvalidateAll
	if principalID != "" {
		key = acl.InvalidateKey(principalID)
	}
	return e.Invalidate(ctx, key)
}

func (e *Engine) markDirty(treeID string, typ schema.TypeID) {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	set, ok := e.dirty[treeID]
	if !ok {
		set = make(map[schema.TypeID]struct{})
		e.dirty[treeID] = set
	}
	set[typ] = struct{}{}
}

func (e *Engine) isDirty(treeID string, typ schema.TypeID) bool {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	_, ok := e.dirty[treeID][typ]
	return ok
}

func (e *Engine) clean(treeID string) {
	e.dirtyMu.Lock()
	delete(e.dirty, treeID)
	e.dirtyMu.Unlock()
}

type clusterRole struct {
	coordinator bool
	active      bool
}

// housekeep runs node-local maintenance until ctx is done.
func (e *Engine) housekeep(ctx context.Context) {
	defer close(e.housekept)
	ticker := time.NewTicker(e.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.sessions.Prune(); n > 0 {
				e.log.Debug("pruned session refresh state", zap.Int("tokens", n))
			}
			e.observeRole()
		}
	}
}

// observeRole logs the node's cluster role when it changes. Only New and
// the housekeeping goroutine call it.
func (e *Engine) observeRole() {
	r := clusterRole{coordinator: e.coord.IsCoordinator(), active: e.coord.IsClusterActive()}
	if e.roleSeen && r == e.role {
		return
	}
	e.role, e.roleSeen = r, true
	mon.Event("cluster_role_changed")
	e.log.Info("cluster role",
		zap.Bool("coordinator", r.coordinator),
		zap.Bool("cluster_active", r.active))
}

// IsCoordinator reports whether this node currently leads the cluster. A
// single node always does.
func (e *Engine) IsCoordinator() bool { return e.coord.IsCoordinator() }

// IsClusterActive reports whether other nodes are alive.
func (e *Engine) IsClusterActive() bool { return e.coord.IsClusterActive() }
