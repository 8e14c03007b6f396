package trigger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_PushNeverBlocksAndKeepsOrder(t *testing.T) {
	feed := NewFeed()
	const n = 1000

	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			feed.Push([]byte(fmt.Sprintf("%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	assert.Equal(t, n, feed.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := feed.Messages(ctx)
	for i := 0; i < n; i++ {
		select {
		case msg := <-msgs:
			require.Equal(t, fmt.Sprintf("%d", i), string(msg))
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not forwarded", i)
		}
	}

	feed.Push([]byte("late"))
	select {
	case msg := <-msgs:
		assert.Equal(t, "late", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message pushed after drain not forwarded")
	}
}

func TestFeed_ClosesOnCancel(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	msgs := feed.Messages(ctx)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
