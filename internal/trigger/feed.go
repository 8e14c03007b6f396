package trigger

import (
	"context"
	"sync"
)

// Feed is an unbounded FIFO between a change listener and Router.Consume.
// Push never blocks, so triggers that write back to the store from the
// consumer goroutine cannot stall the writer that produced the change.
type Feed struct {
	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
}

func NewFeed() *Feed {
	return &Feed{wake: make(chan struct{}, 1)}
}

// Push appends msg in arrival order.
func (f *Feed) Push(msg []byte) {
	f.mu.Lock()
	f.pending = append(f.pending, msg)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Len reports the messages not yet forwarded.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Messages starts a single forwarding goroutine and returns its channel.
// The channel is closed when ctx is done.
func (f *Feed) Messages(ctx context.Context) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, ok := f.pop()
			if !ok {
				select {
				case <-f.wake:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *Feed) pop() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, false
	}
	msg := f.pending[0]
	f.pending[0] = nil
	f.pending = f.pending[1:]
	return msg, true
}
