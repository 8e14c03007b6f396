package notification

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwalitptl/medaccess-api/internal/model"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
	"github.com/jwalitptl/medaccess-api/pkg/validator"
)

// DirectDispatcher delivers in the caller's goroutine with bounded
// exponential backoff. It keeps no state between calls, so it suits
// short-lived trigger invocations.
type DirectDispatcher struct {
	deliverer   Deliverer
	log         DeliveryLog
	validator   validator.Validator
	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

type DirectConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func NewDirectDispatcher(deliverer Deliverer, log DeliveryLog, config DirectConfig, l *logger.Logger, m *metrics.Metrics) *DirectDispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxRetries
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultRetryDelay
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 10 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics("medaccess", nil)
	}
	return &DirectDispatcher{
		deliverer:   deliverer,
		log:         log,
		validator:   validator.New(),
		maxAttempts: config.MaxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = config.InitialInterval
			b.MaxInterval = config.MaxInterval
			return b
		},
		now:     time.Now,
		logger:  l,
		metrics: m,
	}
}

// Send attempts delivery until it succeeds, fails permanently or runs out of
// attempts. The outcome is logged either way; the final delivery error is
// returned so the caller can skip follow-up writes.
func (d *DirectDispatcher) Send(ctx context.Context, n *model.Notification) error {
	entry, err := prepare(d.validator, n, d.now())
	if err != nil {
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxAttempts-1)), ctx)

	attempts := 0
	messageID, err := backoff.RetryWithData(func() (string, error) {
		attempts++
		id, err := d.deliverer.Deliver(ctx, entry)
		if err != nil && !apperrors.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}, policy)

	if err == nil {
		d.metrics.NotificationsDelivered.WithLabelValues(string(entry.Type)).Inc()
		if logErr := d.log.Delivered(ctx, entry, messageID); logErr != nil {
			d.logger.Error(logErr, "Failed to log delivered notification", "notification_id", entry.ID.String())
		}
		return nil
	}

	if apperrors.IsRetryable(err) {
		entry.Retries = attempts
	}
	d.metrics.NotificationsFailed.WithLabelValues(string(entry.Type), apperrors.ReasonOf(err)).Inc()
	if logErr := d.log.Failed(ctx, entry, err); logErr != nil {
		d.logger.Error(logErr, "Failed to log failed notification", "notification_id", entry.ID.String())
	}
	return err
}
