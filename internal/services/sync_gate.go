package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

// SyncGate admits at most one full sync per integration. Acquire returns
// ErrSyncInProgress when the integration is already held; nothing is queued.
// The returned context is derived from ctx and is cancelled with cause
// ErrSyncLeaseLost if the holder loses the gate, so the sync must run under it.
type SyncGate interface {
	Acquire(ctx context.Context, integrationID uuid.UUID) (held context.Context, release func(), err error)
}

type localSyncGate struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

// NewLocalSyncGate guards syncs within this process only.
func NewLocalSyncGate() SyncGate {
	return &localSyncGate{held: map[uuid.UUID]struct{}{}}
}

func (g *localSyncGate) Acquire(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return nil, nil, fmt.Errorf("integration %s: %w", id, apperrors.ErrSyncInProgress)
	}
	g.held[id] = struct{}{}
	held, cancel := context.WithCancelCause(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel(nil)
			g.mu.Lock()
			delete(g.held, id)
			g.mu.Unlock()
		})
	}, nil
}

const (
	DefaultSyncLockTTL = 15 * time.Minute
	syncLockKeyPrefix  = "catalog:sync:"
)

var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type redisSyncGate struct {
	log *logger.Logger
	rdb goredis.UniversalClient
	ttl time.Duration
}

// NewRedisSyncGate holds a lease per integration in Redis so that replicas
// share the gate. The lease is extended while held and expires after ttl if
// the holder dies.
func NewRedisSyncGate(log *logger.Logger, rdb goredis.UniversalClient, ttl time.Duration) SyncGate {
	if ttl <= 0 {
		ttl = DefaultSyncLockTTL
	}
	return &redisSyncGate{
		log: log.With("service", "RedisSyncGate"),
		rdb: rdb,
		ttl: ttl,
	}
}

func (g *redisSyncGate) Acquire(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
	key := syncLockKeyPrefix + id.String()
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("integration %s: %w", id, apperrors.ErrSyncInProgress)
	}

	held, cancelHeld := context.WithCancelCause(ctx)
	hbCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.heartbeat(hbCtx, id, key, token, cancelHeld)
	}()

	var once sync.Once
	return held, func() {
		once.Do(func() {
			stop()
			<-done
			cancelHeld(nil)
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.rdb, []string{key}, token).Err(); err != nil {
				g.log.Warn("Sync lease release failed", "integration_id", id, "error", err)
			}
		})
	}, nil
}

// heartbeat extends the lease every ttl/3. When the key no longer carries our
// token, or extensions keep failing until the lease would have expired, the
// holder's context is cancelled.
func (g *redisSyncGate) heartbeat(ctx context.Context, id uuid.UUID, key, token string, lost context.CancelCauseFunc) {
	t := time.NewTicker(g.ttl / 3)
	defer t.Stop()
	extendedAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := extendScript.Run(ctx, g.rdb, []string{key}, token, g.ttl.Milliseconds()).Int()
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil && n == 1:
				extendedAt = time.Now()
			case err == nil:
				g.log.Warn("Sync lease lost", "integration_id", id)
				lost(apperrors.ErrSyncLeaseLost)
				return
			case time.Since(extendedAt) >= g.ttl:
				g.log.Warn("Sync lease expired while extension failed", "integration_id", id, "error", err)
				lost(apperrors.ErrSyncLeaseLost)
				return
			default:
				g.log.Warn("Sync lease extension failed", "integration_id", id, "error", err)
			}
		}
	}
}

type pgAdvisorySyncGate struct {
	log  *logger.Logger
	pool *pgxpool.Pool
}

// NewPostgresSyncGate uses session advisory locks. The pooled connection is
// pinned for the duration of the sync.
func NewPostgresSyncGate(log *logger.Logger, pool *pgxpool.Pool) SyncGate {
	return &pgAdvisorySyncGate{
		log:  log.With("service", "PostgresSyncGate"),
		pool: pool,
	}
}

func (g *pgAdvisorySyncGate) Acquire(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire sync lock connection: %w", err)
	}
	key := advisoryKey64("catalog_sync", id)
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, nil, fmt.Errorf("integration %s: %w", id, apperrors.ErrSyncInProgress)
	}
	// The session lock lives as long as the pinned connection.
	held, cancelHeld := context.WithCancelCause(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancelHeld(nil)
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(rctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
				g.log.Warn("Advisory unlock failed; dropping connection", "integration_id", id, "error", err)
				_ = conn.Conn().Close(rctx)
			}
			conn.Release()
		})
	}, nil
}

func advisoryKey64(namespace string, id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}
