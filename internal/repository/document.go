package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

// ErrNoDocument is wrapped by the NotFound errors stores return.
var ErrNoDocument = errors.New("no such document")

// Query operators
const (
	OpEqual        = "=="
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
)

// Document is a stored document together with its address.
type Document struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Data       map[string]interface{} `json:"data"`
}

// Path returns the slash-joined address of the document.
func (d *Document) Path() string {
	return d.Collection + "/" + d.ID
}

// Decode unmarshals the document data into v.
func (d *Document) Decode(v interface{}) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.Path(), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	return nil
}

// Condition is a single field filter for Query.
type Condition struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

func Where(field, op string, value interface{}) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// NotFoundAt builds the error stores return for a missing document.
func NotFoundAt(collection, id string) error {
	return apperrors.NotFound("document "+collection+"/"+id, ErrNoDocument)
}

// GetAs loads collection/id and decodes it into a new T.
func GetAs[T any](ctx context.Context, r Reader, collection, id string) (*T, error) {
	doc, err := r.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := doc.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Normalize converts any JSON-encodable value into the generic map form
// documents are stored in.
func Normalize(data interface{}) (map[string]interface{}, error) {
	if m, ok := data.(map[string]interface{}); ok && m == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return out, nil
}

// Merge returns base with fields overlaid at the top level.
func Merge(base, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// ValidateAddress rejects collection paths with an even number of segments
// and ids containing separators.
func ValidateAddress(collection, id string) error {
	if collection == "" || id == "" {
		return apperrors.Validation("collection and id are required", nil)
	}
	if strings.Contains(id, "/") {
		return apperrors.Validation("document id must not contain '/'", nil)
	}
	segments := strings.Split(collection, "/")
	if len(segments)%2 == 0 {
		return apperrors.Validation("collection path must have an odd number of segments: "+collection, nil)
	}
	for _, s := range segments {
		if s == "" {
			return apperrors.Validation("empty segment in collection path: "+collection, nil)
		}
	}
	return nil
}

// Matches reports whether data satisfies every condition.
func Matches(data map[string]interface{}, conds []Condition) bool {
	for _, c := range conds {
		v, ok := data[c.Field]
		if !ok {
			return false
		}
		cmp, ok := compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEqual:
			if cmp != 0 {
				return false
			}
		case OpGreaterEqual:
			if cmp < 0 {
				return false
			}
		case OpLessEqual:
			if cmp > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compare(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// SortByID orders documents by id for stable query output.
func SortByID(docs []*Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
