package push

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/medaccess-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

// BreakerSender stops calling the endpoint after repeated failures. Failures
// caused by the message itself, such as an unregistered token, do not count.
type BreakerSender struct {
	next    Sender
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreakerSender(next Sender, timeout time.Duration, log *logger.Logger) *BreakerSender {
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "push-endpoint",
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
		OnStateChange: func(name, from, to string) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
	return &BreakerSender{next: next, breaker: cb, timeout: timeout}
}

func (s *BreakerSender) Send(ctx context.Context, msg *Message) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var id string
	err := s.breaker.Execute(func() error {
		var err error
		id, err = s.next.Send(ctx, msg)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "", apperrors.Delivery("unavailable", err)
	}
	return id, err
}
