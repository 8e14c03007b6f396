package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	"github.com/jwalitptl/medaccess-api/pkg/cache"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

func newCached(t *testing.T) (*repository.CachedStore, *memory.Store, *cache.Local) {
	t.Helper()
	inner := memory.New()
	c := cache.NewLocal(time.Minute, time.Minute)
	s := repository.NewCachedStore(inner, c, repository.CacheOptions{}, nil, metrics.NewMetrics("test", nil))
	return s, inner, c
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	s, inner, c := newCached(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "doctors", "D1", map[string]interface{}{"fullName": "House"}))
	_, ok, _ := c.Get(ctx, repository.DocumentKey("doctors", "D1"))
	assert.False(t, ok, "writes do not populate")

	doc, err := s.Get(ctx, "doctors", "D1")
	require.NoError(t, err)
	assert.Equal(t, "House", doc.Data["fullName"])
	_, ok, _ = c.Get(ctx, repository.DocumentKey("doctors", "D1"))
	assert.True(t, ok, "reads populate")

	// A write behind the wrapper's back is invisible until the entry expires.
	require.NoError(t, inner.Update(ctx, "doctors", "D1", map[string]interface{}{"fullName": "Wilson"}))
	doc, _ = s.Get(ctx, "doctors", "D1")
	assert.Equal(t, "House", doc.Data["fullName"])

	// A write through the wrapper invalidates.
	require.NoError(t, s.Update(ctx, "doctors", "D1", map[string]interface{}{"fullName": "Cuddy"}))
	doc, _ = s.Get(ctx, "doctors", "D1")
	assert.Equal(t, "Cuddy", doc.Data["fullName"])

	require.NoError(t, s.Delete(ctx, "doctors", "D1"))
	_, err = s.Get(ctx, "doctors", "D1")
	assert.Error(t, err)
}

func TestCachedStore_TransactionInvalidatesTouchedKeys(t *testing.T) {
	s, _, c := newCached(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "doctors", "D1", map[string]interface{}{"activePatientCount": 0}))
	_, err := s.Get(ctx, "doctors", "D1")
	require.NoError(t, err)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Update(ctx, "doctors", "D1", map[string]interface{}{"activePatientCount": 1})
	}))
	_, ok, _ := c.Get(ctx, repository.DocumentKey("doctors", "D1"))
	assert.False(t, ok)

	doc, err := s.Get(ctx, "doctors", "D1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), doc.Data["activePatientCount"])
}

func TestCachedStore_QueryCached(t *testing.T) {
	s, inner, _ := newCached(t)
	ctx := context.Background()

	require.NoError(t, inner.Set(ctx, "patients", "P1", map[string]interface{}{"age": 30}))
	docs, err := s.Query(ctx, "patients")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, inner.Set(ctx, "patients", "P2", map[string]interface{}{"age": 40}))
	docs, err = s.Query(ctx, "patients")
	require.NoError(t, err)
	assert.Len(t, docs, 1, "query results lag until their TTL")

	docs, err = s.Query(ctx, "patients", repository.Where("age", repository.OpGreaterEqual, 35))
	require.NoError(t, err)
	assert.Len(t, docs, 1, "different conditions use a different key")
}

func TestCachedStore_WritesRetireCollectionQueries(t *testing.T) {
	s, _, _ := newCached(t)
	ctx := context.Background()
	perms := "patients/P1/permissions"

	docs, err := s.Query(ctx, perms)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, s.Set(ctx, perms, "D1", map[string]interface{}{"status": "active"}))
	docs, err = s.Query(ctx, perms)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "D1", docs[0].ID)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Delete(ctx, perms, "D1")
	}))
	docs, err = s.Query(ctx, perms)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, s.Set(ctx, perms, "D2", map[string]interface{}{"status": "active"}))
	require.NoError(t, s.Update(ctx, perms, "D2", map[string]interface{}{"status": "revoked"}))
	docs, err = s.Query(ctx, perms, repository.Where("status", repository.OpEqual, "revoked"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestCachedStore_OtherCollectionsKeepTheirQueries(t *testing.T) {
	s, inner, _ := newCached(t)
	ctx := context.Background()

	require.NoError(t, inner.Set(ctx, "patients", "P1", map[string]interface{}{}))
	_, err := s.Query(ctx, "patients")
	require.NoError(t, err)

	require.NoError(t, inner.Set(ctx, "patients", "P2", map[string]interface{}{}))
	require.NoError(t, s.Set(ctx, "doctors", "D1", map[string]interface{}{}))

	docs, err := s.Query(ctx, "patients")
	require.NoError(t, err)
	assert.Len(t, docs, 1, "a doctors write leaves patients queries cached")
}

func TestCachedStore_Unwrap(t *testing.T) {
	s, inner, _ := newCached(t)
	ctx := context.Background()

	_, err := s.Query(ctx, "patients")
	require.NoError(t, err)
	require.NoError(t, inner.Set(ctx, "patients", "P1", map[string]interface{}{}))

	docs, err := s.Unwrap().Query(ctx, "patients")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
