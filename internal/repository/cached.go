package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/pkg/cache"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

// Default cache lifetimes
const (
	DefaultDocumentTTL = 5 * time.Minute
	DefaultQueryTTL    = 30 * time.Second
)

// CachedStore is a cache-aside wrapper. Reads populate the cache; every
// write made through the wrapper invalidates the written document's key and
// moves its collection to a new query generation, so cached query results
// for that collection are no longer reachable. Writes made behind the
// wrapper's back are only seen once entries expire.
type CachedStore struct {
	inner    Store
	cache    cache.Cache
	docTTL   time.Duration
	queryTTL time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

type CacheOptions struct {
	DocumentTTL time.Duration
	QueryTTL    time.Duration
}

func NewCachedStore(inner Store, c cache.Cache, opts CacheOptions, log *logger.Logger, m *metrics.Metrics) *CachedStore {
	if opts.DocumentTTL <= 0 {
		opts.DocumentTTL = DefaultDocumentTTL
	}
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = DefaultQueryTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedStore{
		inner:    inner,
		cache:    c,
		docTTL:   opts.DocumentTTL,
		queryTTL: opts.QueryTTL,
		logger:   log,
		metrics:  m,
	}
}

// DocumentKey is the cache key of a single document.
func DocumentKey(collection, id string) string {
	return collection + ":" + id
}

func generationKey(collection string) string {
	return "gen:" + collection
}

func queryKey(collection, generation string, conds []Condition) string {
	b, _ := json.Marshal(conds)
	return "query:" + collection + "@" + generation + ":" + string(b)
}

// generation returns the current query generation of collection, minting
// one when none is cached.
func (s *CachedStore) generation(ctx context.Context, collection string) (string, error) {
	key := generationKey(collection)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return string(raw), nil
	}
	gen := uuid.NewString()
	if err := s.cache.Set(ctx, key, []byte(gen), s.generationTTL()); err != nil {
		return "", err
	}
	return gen, nil
}

// bump retires every cached query over the given collections.
func (s *CachedStore) bump(ctx context.Context, collections ...string) {
	seen := make(map[string]bool, len(collections))
	for _, c := range collections {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := s.cache.Set(ctx, generationKey(c), []byte(uuid.NewString()), s.generationTTL()); err != nil {
			// A failed bump must not leave the old generation readable.
			if derr := s.cache.Delete(ctx, generationKey(c)); derr != nil {
				s.logger.Warn("query generation bump failed", "collection", c, "error", derr.Error())
			}
		}
	}
}

func (s *CachedStore) generationTTL() time.Duration {
	return s.docTTL + s.queryTTL
}

func (s *CachedStore) observe(result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (s *CachedStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	key := DocumentKey(collection, id)
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("document cache read failed", "key", key, "error", err.Error())
	} else if ok {
		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err == nil {
			s.observe("hit")
			return &Document{ID: id, Collection: collection, Data: data}, nil
		}
	}
	s.observe("miss")

	doc, err := s.inner.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, doc.Data, s.docTTL)
	return doc, nil
}

func (s *CachedStore) Query(ctx context.Context, collection string, conds ...Condition) ([]*Document, error) {
	gen, err := s.generation(ctx, collection)
	if err != nil {
		s.logger.Warn("query generation read failed", "collection", collection, "error", err.Error())
		s.observe("miss")
		return s.inner.Query(ctx, collection, conds...)
	}

	key := queryKey(collection, gen, conds)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var docs []*Document
		if err := json.Unmarshal(raw, &docs); err == nil {
			s.observe("hit")
			return docs, nil
		}
	}
	s.observe("miss")

	docs, err := s.inner.Query(ctx, collection, conds...)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, docs, s.queryTTL)
	return docs, nil
}

func (s *CachedStore) store(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("document cache write failed", "key", key, "error", err.Error())
	}
}

// Invalidate drops the cached copies of the given documents.
func (s *CachedStore) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("document cache invalidation failed", "keys", keys, "error", err.Error())
	}
}

// Unwrap returns the uncached store, for reads that must not see cached
// results.
func (s *CachedStore) Unwrap() Store {
	return s.inner
}

func (s *CachedStore) written(ctx context.Context, collection, id string) {
	s.Invalidate(ctx, DocumentKey(collection, id))
	s.bump(ctx, collection)
}

func (s *CachedStore) Set(ctx context.Context, collection, id string, data interface{}) error {
	defer s.written(ctx, collection, id)
	return s.inner.Set(ctx, collection, id, data)
}

func (s *CachedStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	defer s.written(ctx, collection, id)
	return s.inner.Update(ctx, collection, id, fields)
}

func (s *CachedStore) Delete(ctx context.Context, collection, id string) error {
	defer s.written(ctx, collection, id)
	return s.inner.Delete(ctx, collection, id)
}

// RunTransaction reads through to the store inside fn and invalidates every
// document fn wrote, and the queries over their collections, once the
// transaction finishes.
func (s *CachedStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var touched trackingTx
	err := s.inner.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		touched = trackingTx{Tx: tx}
		return fn(ctx, &touched)
	})
	s.Invalidate(ctx, touched.keys...)
	s.bump(ctx, touched.collections...)
	return err
}

type trackingTx struct {
	Tx
	keys        []string
	collections []string
}

func (t *trackingTx) touch(collection, id string) {
	t.keys = append(t.keys, DocumentKey(collection, id))
	t.collections = append(t.collections, collection)
}

func (t *trackingTx) Set(ctx context.Context, collection, id string, data interface{}) error {
	t.touch(collection, id)
	return t.Tx.Set(ctx, collection, id, data)
}

func (t *trackingTx) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	t.touch(collection, id)
	return t.Tx.Update(ctx, collection, id, fields)
}

func (t *trackingTx) Delete(ctx context.Context, collection, id string) error {
	t.touch(collection, id)
	return t.Tx.Delete(ctx, collection, id)
}
