package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/medaccess-api/internal/model"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
	"github.com/jwalitptl/medaccess-api/pkg/validator"
)

// Queue defaults
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultPollInterval = 2 * time.Second
)

type QueueConfig struct {
	// MaxRetries is the total number of delivery attempts per notification.
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

func (c *QueueConfig) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

type QueueOption func(*Queue)

func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func WithLogger(log *logger.Logger) QueueOption {
	return func(q *Queue) { q.logger = log }
}

func WithMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// Queue is the in-process dispatcher. Send only appends; a single drain at a
// time pops entries in FIFO order and attempts delivery. Failed entries move
// to the back and are not attempted again before their NextRetry.
type Queue struct {
	mu      sync.Mutex
	entries []*model.Notification

	processing atomic.Bool
	wake       chan struct{}

	deliverer Deliverer
	log       DeliveryLog
	validator validator.Validator
	config    QueueConfig
	now       func() time.Time
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewQueue(deliverer Deliverer, log DeliveryLog, config QueueConfig, opts ...QueueOption) *Queue {
	config.setDefaults()
	q := &Queue{
		wake:      make(chan struct{}, 1),
		deliverer: deliverer,
		log:       log,
		validator: validator.New(),
		config:    config,
		now:       time.Now,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = metrics.NewMetrics("medaccess", nil)
	}
	return q
}

// Send validates n and appends a copy to the queue. It never waits on delivery.
func (q *Queue) Send(_ context.Context, n *model.Notification) error {
	entry, err := prepare(q.validator, n, q.now())
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	size := len(q.entries)
	q.mu.Unlock()

	q.metrics.NotificationQueueSize.Set(float64(size))
	q.logger.Debug("notification queued",
		"notification_id", entry.ID.String(),
		"user_id", entry.UserID,
		"type", string(entry.Type))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of notifications still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a snapshot of the queued notifications in queue order.
func (q *Queue) Pending() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Notification, 0, len(q.entries))
	for _, n := range q.entries {
		out = append(out, *n)
	}
	return out
}

// Run drains whenever something is queued and every PollInterval until ctx
// is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	q.logger.Info("Starting notification dispatcher")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Shutting down notification dispatcher", "pending", q.Len())
			return
		case <-q.wake:
			q.Drain(ctx)
		case <-ticker.C:
			q.Drain(ctx)
		}
	}
}

// Drain attempts every entry that is due. It returns immediately when another
// drain is already running, and returns once no due entry is left.
func (q *Queue) Drain(ctx context.Context) {
	if !q.processing.CompareAndSwap(false, true) {
		return
	}
	defer q.processing.Store(false)

	for ctx.Err() == nil {
		n := q.next()
		if n == nil {
			return
		}
		q.attempt(ctx, n)
	}
}

// next pops the first entry whose backoff has elapsed.
func (q *Queue) next() *model.Notification {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, n := range q.entries {
		if n.NextRetry.After(now) {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		q.metrics.NotificationQueueSize.Set(float64(len(q.entries)))
		return n
	}
	return nil
}

func (q *Queue) attempt(ctx context.Context, n *model.Notification) {
	timer := prometheus.NewTimer(q.metrics.DeliveryLatency)
	messageID, err := q.deliverer.Deliver(ctx, n)
	timer.ObserveDuration()

	if err == nil {
		q.metrics.NotificationsDelivered.WithLabelValues(string(n.Type)).Inc()
		if logErr := q.log.Delivered(ctx, n, messageID); logErr != nil {
			q.logger.Error(logErr, "Failed to log delivered notification", "notification_id", n.ID.String())
		}
		return
	}

	if apperrors.IsRetryable(err) {
		n.Retries++
		if n.Retries < q.config.MaxRetries {
			n.NextRetry = q.now().Add(q.config.RetryDelay * time.Duration(n.Retries))
			q.metrics.NotificationRetries.WithLabelValues(string(n.Type)).Inc()
			q.logger.Warn("notification delivery failed, will retry",
				"notification_id", n.ID.String(),
				"retries", n.Retries,
				"next_retry", n.NextRetry,
				"error", err.Error())

			q.mu.Lock()
			q.entries = append(q.entries, n)
			q.metrics.NotificationQueueSize.Set(float64(len(q.entries)))
			q.mu.Unlock()
			return
		}
	}

	q.deadLetter(ctx, n, err)
}

func (q *Queue) deadLetter(ctx context.Context, n *model.Notification, cause error) {
	q.metrics.NotificationsFailed.WithLabelValues(string(n.Type), apperrors.ReasonOf(cause)).Inc()
	q.logger.Error(cause, "notification dead-lettered",
		"notification_id", n.ID.String(),
		"user_id", n.UserID,
		"retries", n.Retries)
	if err := q.log.Failed(ctx, n, cause); err != nil {
		q.logger.Error(err, "Failed to log failed notification", "notification_id", n.ID.String())
	}
}
