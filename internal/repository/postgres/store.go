package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
)

// DocumentStore keeps documents as JSONB rows keyed by (collection, id).
// Every write also inserts its change into document_changes within the
// same transaction.
type DocumentStore struct {
	BaseRepository
	now func() time.Time
}

func NewDocumentStore(db *sqlx.DB) *DocumentStore {
	return &DocumentStore{BaseRepository: NewBaseRepository(db), now: time.Now}
}

type docRow struct {
	ID   string         `db:"id"`
	Data types.JSONText `db:"data"`
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return nil, err
	}
	return getDoc(ctx, s.db, collection, id, false)
}

func (s *DocumentStore) Set(ctx context.Context, collection, id string, data interface{}) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Set(ctx, collection, id, data)
	})
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Update(ctx, collection, id, fields)
	})
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}

func (s *DocumentStore) Query(ctx context.Context, collection string, conds ...repository.Condition) ([]*repository.Document, error) {
	query, args, err := BuildQuery(collection, conds)
	if err != nil {
		return nil, err
	}

	var rows []docRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	docs := make([]*repository.Document, 0, len(rows))
	for _, row := range rows {
		data := map[string]interface{}{}
		if err := row.Data.Unmarshal(&data); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, row.ID, err)
		}
		docs = append(docs, &repository.Document{ID: row.ID, Collection: collection, Data: data})
	}
	return docs, nil
}

// BuildQuery renders conds as JSONB predicates. Field names are bound as
// parameters; numeric and boolean values are compared after a cast.
func BuildQuery(collection string, conds []repository.Condition) (string, []interface{}, error) {
	var b strings.Builder
	b.WriteString("SELECT id, data FROM documents WHERE collection = $1")
	args := []interface{}{collection}

	for _, c := range conds {
		var op string
		switch c.Op {
		case repository.OpEqual:
			op = "="
		case repository.OpGreaterEqual:
			op = ">="
		case repository.OpLessEqual:
			op = "<="
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
		}

		args = append(args, c.Field)
		field := fmt.Sprintf("(data->>$%d)", len(args))

		switch v := c.Value.(type) {
		case string:
			args = append(args, v)
			fmt.Fprintf(&b, " AND %s %s $%d", field, op, len(args))
		case bool:
			args = append(args, v)
			fmt.Fprintf(&b, " AND %s::boolean %s $%d", field, op, len(args))
		case int, int32, int64, float32, float64:
			args = append(args, v)
			fmt.Fprintf(&b, " AND %s::numeric %s $%d", field, op, len(args))
		default:
			return "", nil, fmt.Errorf("unsupported value type %T for field %s", c.Value, c.Field)
		}
	}

	b.WriteString(" ORDER BY id")
	return b.String(), args, nil
}

func (s *DocumentStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, now: s.now})
	})
}

type pgTx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return nil, err
	}
	return getDoc(ctx, t.tx, collection, id, true)
}

func (t *pgTx) Set(ctx context.Context, collection, id string, data interface{}) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}
	m, err := repository.Normalize(data)
	if err != nil {
		return err
	}

	before, err := getDoc(ctx, t.tx, collection, id, true)
	if err != nil && !errors.Is(err, repository.ErrNoDocument) {
		return err
	}

	if err := t.upsert(ctx, collection, id, m); err != nil {
		return err
	}

	kind := model.ChangeCreate
	var beforeData map[string]interface{}
	if before != nil {
		kind = model.ChangeUpdate
		beforeData = before.Data
	}
	return t.recordChange(ctx, kind, collection, id, beforeData, m)
}

func (t *pgTx) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}
	before, err := getDoc(ctx, t.tx, collection, id, true)
	if err != nil {
		return err
	}
	m, err := repository.Normalize(fields)
	if err != nil {
		return err
	}

	merged := repository.Merge(before.Data, m)
	if err := t.upsert(ctx, collection, id, merged); err != nil {
		return err
	}
	return t.recordChange(ctx, model.ChangeUpdate, collection, id, before.Data, merged)
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	if err := repository.ValidateAddress(collection, id); err != nil {
		return err
	}

	var raw types.JSONText
	err := t.tx.GetContext(ctx, &raw,
		`DELETE FROM documents WHERE collection = $1 AND id = $2 RETURNING data`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.NotFoundAt(collection, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	before := map[string]interface{}{}
	if err := raw.Unmarshal(&before); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return t.recordChange(ctx, model.ChangeDelete, collection, id, before, nil)
}

func (t *pgTx) upsert(ctx context.Context, collection, id string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, types.JSONText(payload))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t *pgTx) recordChange(ctx context.Context, kind model.ChangeKind, collection, id string, before, after map[string]interface{}) error {
	change := model.DocumentChange{
		ID:     uuid.New(),
		Kind:   kind,
		Path:   collection + "/" + id,
		Before: before,
		After:  after,
		At:     t.now().UTC(),
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO document_changes (id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		change.ID, string(kind), types.JSONText(payload), string(model.OutboxStatusPending))
	if err != nil {
		return fmt.Errorf("failed to record change for %s: %w", change.Path, err)
	}
	return nil
}

func getDoc(ctx context.Context, q sqlx.QueryerContext, collection, id string, forUpdate bool) (*repository.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row docRow
	err := sqlx.GetContext(ctx, q, &row, query, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.NotFoundAt(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}

	data := map[string]interface{}{}
	if err := row.Data.Unmarshal(&data); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return &repository.Document{ID: row.ID, Collection: collection, Data: data}, nil
}
