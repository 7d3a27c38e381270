// Package lease keeps a single indexer instance applying events at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yield-ledger/internal/observability"
)

var (
	// ErrHeld is returned by Acquire when another owner holds the lease.
	ErrHeld = errors.New("lease held by another owner")

	// ErrLost is returned by Renew when the lease expired or changed hands.
	ErrLost = errors.New("lease lost")
)

// Lease is an exclusive, expiring claim on the right to write.
type Lease interface {
	Acquire(ctx context.Context) error
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Noop is the lease used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) error { return nil }
func (Noop) Renew(context.Context) error   { return nil }
func (Noop) Release(context.Context) error { return nil }

// Only the owner may extend or delete the key.
var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// Redis implements Lease with SET NX PX.
type Redis struct {
	rdb    goredis.Cmdable
	key    string
	owner  string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Lease = (*Redis)(nil)

// NewRedis creates a lease on key held as owner for ttl after each renewal.
func NewRedis(rdb goredis.Cmdable, key, owner string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required for the lease")
	}
	if key == "" || owner == "" {
		return nil, fmt.Errorf("lease key and owner are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb:    rdb,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		logger: logger.With(zap.String("lease", key), zap.String("owner", owner)),
	}, nil
}

// Acquire claims the lease. Returns ErrHeld if another owner has it.
// Acquiring a lease this owner already holds extends it.
func (l *Redis) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		l.logger.Info("lease acquired", zap.Duration("ttl", l.ttl))
		return nil
	}

	if err := l.Renew(ctx); err != nil {
		if errors.Is(err, ErrLost) {
			holder, _ := l.rdb.Get(ctx, l.key).Result()
			return fmt.Errorf("%w: %s", ErrHeld, holder)
		}
		return err
	}
	return nil
}

// Renew extends the lease. Returns ErrLost if it is no longer held by this owner.
func (l *Redis) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		observability.RecordLeaseRenewal(false)
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		observability.RecordLeaseRenewal(false)
		l.logger.Warn("lease lost")
		return ErrLost
	}
	observability.RecordLeaseRenewal(true)
	return nil
}

// Release gives the lease up if this owner still holds it.
func (l *Redis) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	l.logger.Info("lease released")
	return nil
}
