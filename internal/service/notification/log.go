package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/messaging"
)

// DeliveryLog records the terminal outcome of a notification.
type DeliveryLog interface {
	Delivered(ctx context.Context, n *model.Notification, messageID string) error
	Failed(ctx context.Context, n *model.Notification, cause error) error
}

// StoreLog writes outcomes to the notifications and failedNotifications
// collections, keyed {unixNano}_{userId}, and publishes them when a
// publisher is set.
type StoreLog struct {
	store     repository.Writer
	publisher messaging.Publisher
	now       func() time.Time
}

func NewStoreLog(store repository.Writer, publisher messaging.Publisher) *StoreLog {
	return &StoreLog{store: store, publisher: publisher, now: time.Now}
}

func recordID(at time.Time, userID string) string {
	return fmt.Sprintf("%d_%s", at.UnixNano(), userID)
}

func (l *StoreLog) Delivered(ctx context.Context, n *model.Notification, messageID string) error {
	at := l.now()
	rec := model.NotificationRecord{
		Notification: *n,
		Status:       model.NotificationStatusDelivered,
		MessageID:    messageID,
		DeliveredAt:  &at,
	}
	return l.write(ctx, model.CollectionNotifications, recordID(at, n.UserID), rec)
}

func (l *StoreLog) Failed(ctx context.Context, n *model.Notification, cause error) error {
	at := l.now()
	rec := model.NotificationRecord{
		Notification: *n,
		Status:       model.NotificationStatusFailed,
		FailedAt:     &at,
		Error: &model.DeliveryError{
			Message: cause.Error(),
			Code:    apperrors.ReasonOf(cause),
		},
	}
	return l.write(ctx, model.CollectionFailedNotifications, recordID(at, n.UserID), rec)
}

func (l *StoreLog) write(ctx context.Context, collection, id string, rec model.NotificationRecord) error {
	if err := l.store.Set(ctx, collection, id, rec); err != nil {
		return fmt.Errorf("failed to log %s notification %s: %w", rec.Status, rec.ID, err)
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, messaging.ChannelNotificationResult, rec); err != nil {
			return fmt.Errorf("failed to publish %s notification %s: %w", rec.Status, rec.ID, err)
		}
	}
	return nil
}
