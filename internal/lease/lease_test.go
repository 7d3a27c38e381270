package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "yield-ledger:lease"

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func newLease(t *testing.T, rdb *goredis.Client, owner string) *Redis {
	t.Helper()
	l, err := NewRedis(rdb, testKey, owner, 10*time.Second, nil)
	require.NoError(t, err)
	return l
}

func TestRedis_AcquireExclusive(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	a := newLease(t, rdb, "indexer-a")
	b := newLease(t, rdb, "indexer-b")

	require.NoError(t, a.Acquire(ctx))
	got, err := mr.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, "indexer-a", got)

	err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "indexer-a")

	// Reacquiring an owned lease is allowed
	assert.NoError(t, a.Acquire(ctx))
}

func TestRedis_RenewExtendsTTL(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	a := newLease(t, rdb, "indexer-a")
	require.NoError(t, a.Acquire(ctx))

	mr.FastForward(8 * time.Second)
	require.NoError(t, a.Renew(ctx))
	assert.Equal(t, 10*time.Second, mr.TTL(testKey))

	mr.FastForward(8 * time.Second)
	assert.True(t, mr.Exists(testKey))
}

func TestRedis_RenewAfterExpiry(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	a := newLease(t, rdb, "indexer-a")
	require.NoError(t, a.Acquire(ctx))

	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, a.Renew(ctx), ErrLost)

	// Once expired, another owner can take over
	b := newLease(t, rdb, "indexer-b")
	require.NoError(t, b.Acquire(ctx))
	assert.ErrorIs(t, a.Renew(ctx), ErrLost)
}

func TestRedis_ReleaseOnlyByOwner(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	a := newLease(t, rdb, "indexer-a")
	b := newLease(t, rdb, "indexer-b")
	require.NoError(t, a.Acquire(ctx))

	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists(testKey))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists(testKey))

	assert.NoError(t, b.Acquire(ctx))
}

func TestNewRedis_Validation(t *testing.T) {
	_, rdb := setupTestRedis(t)

	_, err := NewRedis(nil, testKey, "a", time.Second, nil)
	assert.Error(t, err)
	_, err = NewRedis(rdb, "", "a", time.Second, nil)
	assert.Error(t, err)
	_, err = NewRedis(rdb, testKey, "a", 0, nil)
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var l Lease = Noop{}
	ctx := context.Background()
	assert.NoError(t, l.Acquire(ctx))
	assert.NoError(t, l.Renew(ctx))
	assert.NoError(t, l.Release(ctx))
}
