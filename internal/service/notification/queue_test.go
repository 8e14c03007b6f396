package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*push.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg *push.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.err != nil {
		return "", s.err
	}
	return "msg-" + msg.Token, nil
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingLog struct {
	mu        sync.Mutex
	delivered []model.Notification
	failed    []model.Notification
	causes    []error
}

func (l *recordingLog) Delivered(_ context.Context, n *model.Notification, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivered = append(l.delivered, *n)
	return nil
}

func (l *recordingLog) Failed(_ context.Context, n *model.Notification, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, *n)
	l.causes = append(l.causes, cause)
	return nil
}

func seedUser(t *testing.T, store *memory.Store, uid, token string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), model.CollectionUsers, uid, model.User{
		UID:      uid,
		FullName: "User " + uid,
		FCMToken: token,
	}))
}

func newTestQueue(t *testing.T, sender push.Sender) (*Queue, *recordingLog, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.New()
	clock := newFakeClock()
	log := &recordingLog{}
	deliverer := NewPushDeliverer(NewStoreTokenResolver(store), sender)
	q := NewQueue(deliverer, log, QueueConfig{}, WithClock(clock.Now))
	return q, log, store, clock
}

func TestQueue_DeliversInFIFOOrder(t *testing.T) {
	sender := &fakeSender{}
	q, log, store, _ := newTestQueue(t, sender)
	ctx := context.Background()

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, uid := range users {
		seedUser(t, store, uid, "tok-"+uid)
		require.NoError(t, q.Send(ctx, PermissionRevoked(uid, "d1", "House")))
	}
	assert.Equal(t, 5, q.Len())

	q.Drain(ctx)

	assert.Equal(t, 0, q.Len())
	require.Len(t, log.delivered, 5)
	assert.Empty(t, log.failed)
	for i, uid := range users {
		assert.Equal(t, uid, log.delivered[i].UserID)
		assert.Equal(t, 0, log.delivered[i].Retries)
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{err: apperrors.Delivery("unavailable", errors.New("endpoint down"))}
	q, log, store, clock := newTestQueue(t, sender)
	ctx := context.Background()
	seedUser(t, store, "p1", "tok-p1")

	require.NoError(t, q.Send(ctx, DiagnosisUpdated("p1", "r1", "flu")))

	q.Drain(ctx)
	assert.Equal(t, 1, sender.calls())
	assert.Equal(t, 1, q.Len())

	// not due yet
	q.Drain(ctx)
	assert.Equal(t, 1, sender.calls())

	clock.Advance(DefaultRetryDelay)
	q.Drain(ctx)
	assert.Equal(t, 2, sender.calls())

	clock.Advance(2 * DefaultRetryDelay)
	q.Drain(ctx)
	assert.Equal(t, 3, sender.calls())
	assert.Equal(t, 0, q.Len())

	clock.Advance(time.Minute)
	q.Drain(ctx)
	assert.Equal(t, 3, sender.calls(), "never attempted a 4th time")

	require.Len(t, log.failed, 1)
	assert.Equal(t, 3, log.failed[0].Retries)
	assert.Empty(t, log.delivered)
}

func TestQueue_SetsLinearBackoff(t *testing.T) {
	sender := &fakeSender{err: errors.New("timeout")}
	q, _, store, clock := newTestQueue(t, sender)
	ctx := context.Background()
	seedUser(t, store, "p1", "tok-p1")

	require.NoError(t, q.Send(ctx, DiagnosisUpdated("p1", "r1", "flu")))
	q.Drain(ctx)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Equal(t, clock.Now().Add(DefaultRetryDelay), pending[0].NextRetry)

	clock.Advance(DefaultRetryDelay)
	q.Drain(ctx)

	pending = q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Retries)
	assert.Equal(t, clock.Now().Add(2*DefaultRetryDelay), pending[0].NextRetry)
}

func TestQueue_MissingTokenFailsImmediately(t *testing.T) {
	sender := &fakeSender{}
	q, log, store, _ := newTestQueue(t, sender)
	ctx := context.Background()
	seedUser(t, store, "p1", "")

	require.NoError(t, q.Send(ctx, PermissionGranted("p1", "d1", "House")))
	q.Drain(ctx)

	assert.Equal(t, 0, sender.calls())
	assert.Equal(t, 0, q.Len())
	require.Len(t, log.failed, 1)
	assert.Equal(t, 0, log.failed[0].Retries)
	assert.True(t, apperrors.IsMissingToken(log.causes[0]))
}

func TestQueue_NonRetryableProviderCodeFailsImmediately(t *testing.T) {
	sender := &fakeSender{err: apperrors.Delivery("unregistered", errors.New("token gone"))}
	q, log, store, _ := newTestQueue(t, sender)
	ctx := context.Background()
	seedUser(t, store, "p1", "stale")

	require.NoError(t, q.Send(ctx, PermissionGranted("p1", "d1", "House")))
	q.Drain(ctx)

	assert.Equal(t, 1, sender.calls())
	require.Len(t, log.failed, 1)
	assert.Equal(t, 0, log.failed[0].Retries)
}

func TestQueue_FailedEntryDoesNotBlockOthers(t *testing.T) {
	sender := &fakeSender{}
	q, log, store, _ := newTestQueue(t, sender)
	ctx := context.Background()
	seedUser(t, store, "ok", "tok-ok")

	failing := &model.Notification{
		UserID: "ghost", Type: model.NotificationDiagnosisUpdate, Title: "t", Body: "b",
	}
	require.NoError(t, q.Send(ctx, failing))
	require.NoError(t, q.Send(ctx, PermissionGranted("ok", "d1", "House")))

	q.Drain(ctx)

	require.Len(t, log.delivered, 1)
	assert.Equal(t, "ok", log.delivered[0].UserID)
	require.Len(t, log.failed, 1)
	assert.Equal(t, "ghost", log.failed[0].UserID)
}

func TestQueue_SendRejectsInvalidNotification(t *testing.T) {
	q, _, _, _ := newTestQueue(t, &fakeSender{})

	err := q.Send(context.Background(), &model.Notification{UserID: "p1", Type: "BOGUS"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 0, q.Len())

	err = q.Send(context.Background(), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestQueue_SendStampsFreshEntry(t *testing.T) {
	q, _, _, clock := newTestQueue(t, &fakeSender{})

	n := DiagnosisUpdated("p1", "r1", "flu")
	n.Retries = 7
	require.NoError(t, q.Send(context.Background(), n))

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Retries)
	assert.Equal(t, clock.Now(), pending[0].Timestamp)
	assert.NotEmpty(t, pending[0].ID.String())
	assert.Equal(t, 7, n.Retries, "caller's value is not modified")
}

func TestQueue_RunDrainsOnSend(t *testing.T) {
	sender := &fakeSender{}
	store := memory.New()
	seedUser(t, store, "p1", "tok")
	log := &recordingLog{}
	q := NewQueue(NewPushDeliverer(NewStoreTokenResolver(store), sender), log, QueueConfig{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Send(ctx, DiagnosisUpdated("p1", "r1", "flu")))
	assert.Eventually(t, func() bool { return sender.calls() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
