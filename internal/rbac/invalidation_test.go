package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

func newInvalidator(t *testing.T) (*rbac.Invalidator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rbac.NewInvalidator(client, "", nil), mr
}

func warmCache(t *testing.T, ids ...int64) (*rbac.AuthorityCache, *rbac.CachedResolver) {
	t.Helper()
	cache, err := rbac.NewAuthorityCache(16)
	require.NoError(t, err)
	resolver := rbac.NewCachedResolver(nil, cache)
	for _, id := range ids {
		resolver.Resolve(newPrincipal(id, "warm"))
	}
	require.Equal(t, len(ids), cache.Len())
	return cache, resolver
}

func TestInvalidatorPublishAndListenPrincipal(t *testing.T) {
	inv, _ := newInvalidator(t)
	cache, _ := warmCache(t, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, inv.Listen(ctx, cache))
	require.NoError(t, inv.Publish(ctx, rbac.Invalidation{PrincipalID: 1}))

	assert.Eventually(t, func() bool { return cache.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidatorPublishAndListenAll(t *testing.T) {
	inv, _ := newInvalidator(t)
	cache, _ := warmCache(t, 1, 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, inv.Listen(ctx, cache))
	require.NoError(t, inv.Publish(ctx, rbac.Invalidation{All: true}))

	assert.Eventually(t, func() bool { return cache.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidatorGarbagePayloadPurges(t *testing.T) {
	inv, mr := newInvalidator(t)
	cache, _ := warmCache(t, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, inv.Listen(ctx, cache))
	mr.Publish(rbac.DefaultInvalidationChannel, "not-json")

	assert.Eventually(t, func() bool { return cache.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidatorRejectsEmptyInvalidation(t *testing.T) {
	inv, _ := newInvalidator(t)
	assert.Error(t, inv.Publish(context.Background(), rbac.Invalidation{}))
}

func TestInvalidatorNotConfigured(t *testing.T) {
	var inv *rbac.Invalidator
	assert.Error(t, inv.Publish(context.Background(), rbac.Invalidation{All: true}))
	assert.NoError(t, inv.Listen(context.Background(), nil))
}
