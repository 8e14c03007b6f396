package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/messaging"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts bounds publish attempts within one claim.
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxDeliveries bounds claims per change before it is parked as failed.
	MaxDeliveries int
	// Lease is how long a claimed change stays invisible to other processors.
	Lease time.Duration
}

// OutboxProcessor publishes committed document changes to the broker so the
// trigger worker sees them.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Publisher
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	sleep   func(time.Duration)
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Publisher,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxDeliveries <= 0 {
		panic("MaxDeliveries must be greater than 0")
	}
	if config.Lease <= 0 {
		panic("Lease must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		sleep:   time.Sleep,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process document changes")
			}
		}
	}
}

// ProcessBatch claims one batch of changes and publishes each of them.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.Lease)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_changes", "error").Inc()
		return fmt.Errorf("failed to claim document changes: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_changes", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to publish document change",
				"change_id", event.ID.String(),
				"kind", event.EventType)
		}
	}

	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := p.retry(func() error {
		return p.broker.Publish(ctx, messaging.ChannelDocumentChanges, event.Payload)
	})

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		requeue := event.RetryCount+1 < p.config.MaxDeliveries
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), requeue); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update change status", "change_id", event.ID.String())
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error(err, "Failed to update change status", "change_id", event.ID.String())
		return err
	}

	return nil
}

func (p *OutboxProcessor) retry(fn func() error) error {
	var err error
	for i := 0; i < p.config.RetryAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < p.config.RetryAttempts-1 {
			p.sleep(p.config.RetryDelay)
		}
	}
	return err
}
