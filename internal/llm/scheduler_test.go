package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingClient counts concurrent calls and blocks until released.
type blockingClient struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (b *blockingClient) call() (string, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-b.release
	return "ok", nil
}

func (b *blockingClient) Complete(context.Context, string) (string, error) {
	return b.call()
}

func (b *blockingClient) CompleteWithSystem(context.Context, string, string) (string, error) {
	return b.call()
}

func (b *blockingClient) CompleteWithSchema(context.Context, string, string, string) (string, error) {
	return b.call()
}

func TestScheduledClient_BoundsConcurrency(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	c := NewScheduledClient(inner, 3, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Complete(context.Background(), "q")
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.LessOrEqual(t, inner.peak.Load(), int32(3),
		"no more than maxInFlight calls may run concurrently")
}

func TestScheduledClient_CancelledWhileWaiting(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	defer close(inner.release)
	c := NewScheduledClient(inner, 1, nil)

	// Occupy the only slot.
	go func() { _, _ = c.Complete(context.Background(), "hold") }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, "waits")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable),
		"a caller cancelled while queued surfaces ErrUnavailable")
}
