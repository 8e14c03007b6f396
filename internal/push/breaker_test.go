package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

type stubSender struct {
	calls    int
	err      error
	deadline bool
}

func (s *stubSender) Send(ctx context.Context, _ *Message) (string, error) {
	s.calls++
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

func TestBreakerSender_OpensOnRetryableFailures(t *testing.T) {
	stub := &stubSender{err: apperrors.Delivery("unavailable", errors.New("503"))}
	s := NewBreakerSender(stub, time.Second, logger.Nop())
	msg := NewMessage("tok", "t", "b", nil, "", time.Now())

	for i := 0; i < 5; i++ {
		_, err := s.Send(context.Background(), msg)
		require.Error(t, err)
	}
	assert.Equal(t, 5, stub.calls)
	assert.True(t, stub.deadline, "send carries a timeout")

	_, err := s.Send(context.Background(), msg)
	assert.Equal(t, "unavailable", apperrors.ReasonOf(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 5, stub.calls, "open breaker does not call through")
}

func TestBreakerSender_TokenErrorsDoNotTrip(t *testing.T) {
	stub := &stubSender{err: apperrors.Delivery("unregistered", errors.New("gone"))}
	s := NewBreakerSender(stub, 0, logger.Nop())
	msg := NewMessage("tok", "t", "b", nil, "", time.Now())

	for i := 0; i < 10; i++ {
		_, err := s.Send(context.Background(), msg)
		assert.Equal(t, "unregistered", apperrors.ReasonOf(err))
	}
	assert.Equal(t, 10, stub.calls)

	stub.err = nil
	id, err := s.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestNewMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]string{"type": "DIAGNOSIS_UPDATE"}
	msg := NewMessage("tok", "Title", "Body", data, "", at)

	assert.Equal(t, "high", msg.Priority)
	assert.Equal(t, "2024-05-01T12:00:00Z", msg.Data["timestamp"])
	assert.Equal(t, "DIAGNOSIS_UPDATE", msg.Data["type"])
	assert.NotContains(t, data, "timestamp", "caller map is not mutated")
	assert.Equal(t, DefaultAndroid, msg.Android)
	assert.Equal(t, DefaultAPNS, msg.APNS)

	fcm := toFCM(msg)
	assert.Equal(t, "high", fcm.Android.Priority)
	assert.Equal(t, "#4CAF50", fcm.Android.Notification.Color)
	assert.Equal(t, 1, *fcm.APNS.Payload.Aps.Badge)
}

func TestErrorCode_Unknown(t *testing.T) {
	assert.Equal(t, "unknown", ErrorCode(errors.New("something else")))
}
