package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE document_changes
		SET status = 'processing', claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM document_changes
			WHERE status = 'pending'
			   OR (status = 'processing' AND claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, event_type, payload, status, error_message, retry_count, created_at, processed_at, updated_at
	`
	var events []*model.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query, limit, lease.Seconds()); err != nil {
		return nil, fmt.Errorf("failed to claim document changes: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE document_changes
		SET status = $1, processed_at = NOW(), updated_at = NOW(), error_message = NULL
		WHERE id = $2`,
		string(model.OutboxStatusProcessed), id)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	status := model.OutboxStatusFailed
	if retry {
		status = model.OutboxStatusPending
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE document_changes
		SET status = $1, error_message = $2, retry_count = retry_count + 1,
			claimed_at = NULL, updated_at = NOW()
		WHERE id = $3`,
		string(status), errMsg, id)
	return err
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM document_changes
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed changes: %w", err)
	}

	return result.RowsAffected()
}
