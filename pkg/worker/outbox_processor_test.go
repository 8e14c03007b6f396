package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
	"github.com/jwalitptl/medaccess-api/pkg/messaging"
	"github.com/jwalitptl/medaccess-api/pkg/metrics"
)

type failure struct {
	msg   string
	retry bool
}

type fakeOutbox struct {
	pending   []*model.OutboxEvent
	processed []uuid.UUID
	failed    map[uuid.UUID]failure
	cutoff    time.Time
}

func (f *fakeOutbox) ClaimPending(_ context.Context, limit int, _ time.Duration) ([]*model.OutboxEvent, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	out := f.pending[:limit]
	f.pending = f.pending[limit:]
	return out, nil
}

func (f *fakeOutbox) MarkProcessed(_ context.Context, id uuid.UUID) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, msg string, retry bool) error {
	if f.failed == nil {
		f.failed = make(map[uuid.UUID]failure)
	}
	f.failed[id] = failure{msg: msg, retry: retry}
	return nil
}

func (f *fakeOutbox) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	return 2, nil
}

type fakePublisher struct {
	failures int
	calls    int
	channels []string
	payloads []json.RawMessage
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, message.(json.RawMessage))
	return nil
}

func change(t *testing.T, path string, retries int) *model.OutboxEvent {
	t.Helper()
	c := model.DocumentChange{ID: uuid.New(), Kind: model.ChangeCreate, Path: path}
	payload, err := json.Marshal(c)
	require.NoError(t, err)
	return &model.OutboxEvent{ID: c.ID, EventType: string(c.Kind), Payload: payload, RetryCount: retries}
}

func newProcessor(repo *fakeOutbox, pub *fakePublisher) *OutboxProcessor {
	p := NewOutboxProcessor(repo, pub, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		MaxDeliveries: 2,
		Lease:         time.Minute,
	}, logger.Nop(), metrics.NewMetrics("test", nil))
	p.sleep = func(time.Duration) {}
	return p
}

func TestOutboxProcessor_PublishesChanges(t *testing.T) {
	a, b := change(t, "patients/P1/permissions/D1", 0), change(t, "patients/P1/accessRequests/D2", 0)
	repo := &fakeOutbox{pending: []*model.OutboxEvent{a, b}}
	pub := &fakePublisher{}

	require.NoError(t, newProcessor(repo, pub).ProcessBatch(context.Background()))

	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, repo.processed)
	assert.Equal(t, []string{messaging.ChannelDocumentChanges, messaging.ChannelDocumentChanges}, pub.channels)

	var got model.DocumentChange
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "patients/P1/permissions/D1", got.Path)
}

func TestOutboxProcessor_RetriesPublish(t *testing.T) {
	ev := change(t, "patients/P1/permissions/D1", 0)
	repo := &fakeOutbox{pending: []*model.OutboxEvent{ev}}
	pub := &fakePublisher{failures: 2}

	require.NoError(t, newProcessor(repo, pub).ProcessBatch(context.Background()))
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, []uuid.UUID{ev.ID}, repo.processed)
}

func TestOutboxProcessor_RequeuesThenParks(t *testing.T) {
	fresh := change(t, "patients/P1/permissions/D1", 0)
	worn := change(t, "patients/P1/permissions/D2", 1)
	repo := &fakeOutbox{pending: []*model.OutboxEvent{fresh, worn}}
	pub := &fakePublisher{failures: 100}

	require.NoError(t, newProcessor(repo, pub).ProcessBatch(context.Background()))
	assert.Empty(t, repo.processed)
	assert.True(t, repo.failed[fresh.ID].retry)
	assert.False(t, repo.failed[worn.ID].retry)
	assert.Equal(t, "broker unavailable", repo.failed[worn.ID].msg)
}

func TestChangeCleanupWorker(t *testing.T) {
	repo := &fakeOutbox{}
	w := NewChangeCleanupWorker(repo, 24*time.Hour, time.Hour, logger.Nop())
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.Cleanup(context.Background())
	assert.Equal(t, now.Add(-24*time.Hour), repo.cutoff)
}
