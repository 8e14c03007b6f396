// Package memory is an in-process document store used by tests and by the
// single-binary development mode.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
)

// Listener observes committed changes. Listeners run after the store lock is
// released, in commit order.
type Listener func(change model.DocumentChange)

type Store struct {
	mu        sync.Mutex
	docs      map[string]map[string]interface{}
	listeners []Listener
	now       func() time.Time
}

func New() *Store {
	return &Store{
		docs: make(map[string]map[string]interface{}),
		now:  time.Now,
	}
}

// OnChange registers l for every subsequent committed write.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func key(collection, id string) string {
	return collection + "/" + id
}

func (s *Store) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	var doc *repository.Document
	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		doc, err = tx.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

func (s *Store) Set(ctx context.Context, collection, id string, data interface{}) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Set(ctx, collection, id, data)
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Update(ctx, collection, id, fields)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}

// Query scans the direct children of collection.
func (s *Store) Query(ctx context.Context, collection string, conds ...repository.Condition) ([]*repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := collection + "/"
	s.mu.Lock()
	var out []*repository.Document
	for k, data := range s.docs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		id := k[len(prefix):]
		if strings.Contains(id, "/") {
			continue
		}
		if !repository.Matches(data, conds) {
			continue
		}
		out = append(out, &repository.Document{ID: id, Collection: collection, Data: clone(data)})
	}
	s.mu.Unlock()

	repository.SortByID(out)
	return out, nil
}

// RunTransaction serialises fn against every other operation. Writes are
// staged and applied only when fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := &memTx{store: s, staged: make(map[string]*stagedDoc)}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}

	changes := make([]model.DocumentChange, 0, len(tx.order))
	now := s.now()
	for _, k := range tx.order {
		st := tx.staged[k]
		before, existed := s.docs[k]
		change := model.DocumentChange{ID: uuid.New(), Path: k, At: now}
		switch {
		case st.deleted && !existed:
			continue
		case st.deleted:
			delete(s.docs, k)
			change.Kind = model.ChangeDelete
			change.Before = before
		case existed:
			s.docs[k] = st.data
			change.Kind = model.ChangeUpdate
			change.Before = before
			change.After = clone(st.data)
		default:
			s.docs[k] = st.data
			change.Kind = model.ChangeCreate
			change.After = clone(st.data)
		}
		changes = append(changes, change)
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(c)
		}
	}
	return nil
}

type stagedDoc struct {
	data    map[string]interface{}
	deleted bool
}

type memTx struct {
	store  *Store
	staged map[string]*stagedDoc
	order  []string
}

func (t *memTx) current(k string) (map[string]interface{}, bool) {
	if st, ok := t.staged[k]; ok {
		if st.deleted {
			return nil, false
		}
		return st.data, true
	}
	data, ok := t.store.docs[k]
	return data, ok
}

func (t *memTx) stage(k string, st *stagedDoc) {
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = st
}

func (t *memTx) Get(_ context.Context, collection, id string) (*repository.Document, error) {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return nil, err
	}
	data, ok := t.current(key(collection, id))
	if !ok {
		return nil, repository.NotFoundAt(collection, id)
	}
	return &repository.Document{ID: id, Collection: collection, Data: clone(data)}, nil
}

func (t *memTx) Set(_ context.Context, collection, id string, data interface{}) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}
	m, err := repository.Normalize(data)
	if err != nil {
		return err
	}
	t.stage(key(collection, id), &stagedDoc{data: m})
	return nil
}

func (t *memTx) Update(_ context.Context, collection, id string, fields map[string]interface{}) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}
	k := key(collection, id)
	existing, ok := t.current(k)
	if !ok {
		return repository.NotFoundAt(collection, id)
	}
	m, err := repository.Normalize(fields)
	if err != nil {
		return err
	}
	t.stage(k, &stagedDoc{data: repository.Merge(existing, m)})
	return nil
}

func (t *memTx) Delete(_ context.Context, collection, id string) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}
	k := key(collection, id)
	if _, ok := t.current(k); !ok {
		return repository.NotFoundAt(collection, id)
	}
	t.stage(k, &stagedDoc{deleted: true})
	return nil
}

func clone(data map[string]interface{}) map[string]interface{} {
	out, err := repository.Normalize(data)
	if err != nil {
		// Stored data is already normalised JSON, so re-encoding cannot fail.
		panic(err)
	}
	return out
}
