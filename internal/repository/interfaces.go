package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medaccess-api/internal/model"
)

// All repository interfaces in one file
type (
	// Reader fetches single documents. Get returns a NotFound AppError when
	// the document does not exist.
	Reader interface {
		Get(ctx context.Context, collection, id string) (*Document, error)
	}

	// Writer mutates single documents. Set replaces the whole document;
	// Update merges top-level fields and fails with NotFound when the
	// document is absent; Delete fails with NotFound when absent.
	Writer interface {
		Set(ctx context.Context, collection, id string, data interface{}) error
		Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
		Delete(ctx context.Context, collection, id string) error
	}

	// Tx is a read-write view whose writes commit together.
	Tx interface {
		Reader
		Writer
	}

	// Store is the document store adapter. Collections address
	// sub-collections with slash-joined paths such as patients/{id}/permissions.
	Store interface {
		Reader
		Writer
		Query(ctx context.Context, collection string, conds ...Condition) ([]*Document, error)
		RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	}

	// OutboxRepository hands committed document changes to the publisher.
	OutboxRepository interface {
		// ClaimPending leases up to limit pending changes. Changes claimed
		// longer than lease ago are handed out again.
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		// MarkFailed records the error. With retry the change returns to
		// pending, otherwise it is parked as failed.
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
