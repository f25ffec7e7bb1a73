package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pthm/strata/internal/apperr"
)

var mon = monkit.Package()

// RedisConfig configures the Redis coordinator.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key and the invalidation channel.
	Prefix string
	// Heartbeat is how often liveness and leadership are renewed.
	Heartbeat time.Duration
	// LeaseTTL is how long leadership survives without renewal.
	LeaseTTL time.Duration
}

// DefaultRedisConfig returns a configuration for a local Redis server.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Prefix:    "strata:",
		Heartbeat: 2 * time.Second,
		LeaseTTL:  10 * time.Second,
	}
}

func (c *RedisConfig) setDefaults() {
	def := DefaultRedisConfig()
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = def.Heartbeat
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = def.LeaseTTL
	}
}

// Leadership is a lease on a single key holding the leader's node id.
var (
	acquireLease = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

type invalidation struct {
	Node string   `json:"node"`
	Keys []string `json:"keys"`
}

// Redis is a Coordinator backed by Redis pub/sub, heartbeat keys, a leader
// lease and one hash per session token.
type Redis struct {
	client redis.UniversalClient
	owned  bool
	log    *zap.Logger
	cfg    RedisConfig
	nodeID string

	subs   subscribers
	leader atomic.Bool
	active atomic.Bool

	pubsub *redis.PubSub
	cancel context.CancelFunc
	group  *errgroup.Group
}

// RedisOption configures a Redis coordinator.
type RedisOption func(*Redis)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) RedisOption {
	return func(r *Redis) { r.log = log }
}

// WithNodeID overrides the generated node id.
func WithNodeID(id string) RedisOption {
	return func(r *Redis) { r.nodeID = id }
}

// DialRedis connects to cfg.Addr and starts a coordinator that owns the client.
func DialRedis(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, clusterErr("ping", err)
	}
	r, err := NewRedis(ctx, client, cfg, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// NewRedis starts a coordinator on an existing client. The client is not
// closed by Close.
func NewRedis(ctx context.Context, client redis.UniversalClient, cfg RedisConfig, opts ...RedisOption) (*Redis, error) {
	cfg.setDefaults()
	r := &Redis{
		client: client,
		log:    zap.NewNop(),
		cfg:    cfg,
		nodeID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("node", r.nodeID))

	r.pubsub = client.Subscribe(ctx, r.channel())
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, clusterErr("subscribe", err)
	}
	if err := r.beat(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.group, loopCtx = errgroup.WithContext(loopCtx)
	r.group.Go(func() error { return r.listen(loopCtx) })
	r.group.Go(func() error { return r.heartbeat(loopCtx) })
	return r, nil
}

// NodeID returns this node's id.
func (r *Redis) NodeID() string { return r.nodeID }

func (r *Redis) channel() string           { return r.cfg.Prefix + "invalidate" }
func (r *Redis) leaseKey() string          { return r.cfg.Prefix + "leader" }
func (r *Redis) nodeKey(id string) string  { return r.cfg.Prefix + "node:" + id }
func (r *Redis) tokenKey(id string) string { return r.cfg.Prefix + "session:" + id }

func (r *Redis) PublishInvalidate(ctx context.Context, keys ...string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(invalidation{Node: r.nodeID, Keys: keys})
	if err != nil {
		return clusterErr("publish", err)
	}
	if err := r.client.Publish(ctx, r.channel(), payload).Err(); err != nil {
		return clusterErr("publish", err)
	}
	mon.Counter("invalidations_published").Inc(int64(len(keys)))
	return nil
}

func (r *Redis) Subscribe(h Handler) func() { return r.subs.add(h) }

func (r *Redis) IsCoordinator() bool { return r.leader.Load() }

func (r *Redis) IsClusterActive() bool { return r.active.Load() }

func (r *Redis) listen(ctx context.Context) error {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				r.log.Warn("dropping malformed invalidation", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			mon.Counter("invalidations_received").Inc(int64(len(inv.Keys)))
			r.subs.dispatch(inv.Keys)
		}
	}
}

func (r *Redis) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.beat(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("cluster heartbeat failed", zap.Error(err))
			}
		}
	}
}

// beat renews this node's liveness key, counts live nodes and renews or
// contends for the leader lease.
func (r *Redis) beat(ctx context.Context) error {
	alive := 3 * r.cfg.Heartbeat
	if err := r.client.Set(ctx, r.nodeKey(r.nodeID), time.Now().UTC().Format(time.RFC3339), alive).Err(); err != nil {
		r.leader.Store(false)
		return clusterErr("heartbeat", err)
	}

	nodes := 0
	iter := r.client.Scan(ctx, 0, r.nodeKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		nodes++
	}
	if err := iter.Err(); err != nil {
		return clusterErr("heartbeat", err)
	}
	r.active.Store(nodes > 1)

	got, err := acquireLease.Run(ctx, r.client, []string{r.leaseKey()}, r.nodeID, r.cfg.LeaseTTL.Milliseconds()).Int()
	if err != nil {
		r.leader.Store(false)
		return clusterErr("lease", err)
	}
	was := r.leader.Swap(got == 1)
	if was != (got == 1) {
		r.log.Info("cluster leadership changed", zap.Bool("leader", got == 1), zap.Int("nodes", nodes))
	}
	return nil
}

func (r *Redis) PutToken(ctx context.Context, t *Token) (err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := json.Marshal(t.Data)
	if err != nil {
		return clusterErr("put token", err)
	}
	key := r.tokenKey(t.ID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"principal", t.Principal,
			"data", string(data),
			"expires", strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10))
		if !t.ExpiresAt.IsZero() {
			p.PExpireAt(ctx, key, t.ExpiresAt)
		}
		return nil
	})
	return clusterErr("put token", err)
}

func (r *Redis) GetToken(ctx context.Context, id string) (_ *Token, err error) {
	defer mon.Task()(&ctx)(&err)
	fields, err := r.client.HGetAll(ctx, r.tokenKey(id)).Result()
	if err != nil {
		return nil, clusterErr("get token", err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}
	t := &Token{ID: id, Principal: fields["principal"]}
	if raw := fields["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Data); err != nil {
			return nil, clusterErr("get token", err)
		}
	}
	if ms, err := strconv.ParseInt(fields["expires"], 10, 64); err == nil && ms > 0 {
		t.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	return t, nil
}

func (r *Redis) RefreshToken(ctx context.Context, id string, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	key := r.tokenKey(id)
	ok, err := r.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return clusterErr("refresh token", err)
	}
	if !ok {
		return ErrTokenNotFound
	}
	expires := time.Now().Add(ttl).UnixMilli()
	return clusterErr("refresh token", r.client.HSet(ctx, key, "expires", strconv.FormatInt(expires, 10)).Err())
}

// Close stops the background loops, drops this node's liveness key and
// releases leadership if held.
func (r *Redis) Close() error {
	r.cancel()
	err := r.group.Wait()
	err = errs.Combine(err, r.pubsub.Close())

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Heartbeat)
	defer cancel()
	err = errs.Combine(err,
		r.client.Del(ctx, r.nodeKey(r.nodeID)).Err(),
		releaseLease.Run(ctx, r.client, []string{r.leaseKey()}, r.nodeID).Err(),
	)
	r.leader.Store(false)
	if r.owned {
		err = errs.Combine(err, r.client.Close())
	}
	return clusterErr("close", err)
}

func clusterErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.CodeCluster, fmt.Errorf("%s: %w", op, err)).WithOp("cluster")
}
