package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ScheduledClient bounds the number of in-flight calls into the reasoning
// capability so request bursts cannot pile onto the external service. It
// implements Client and can be injected transparently.
type ScheduledClient struct {
	inner  Client
	slots  *semaphore.Weighted
	logger *zap.Logger
}

var _ Client = (*ScheduledClient)(nil)

// NewScheduledClient wraps inner with a maxInFlight concurrency bound.
func NewScheduledClient(inner Client, maxInFlight int, logger *zap.Logger) *ScheduledClient {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduledClient{
		inner:  inner,
		slots:  semaphore.NewWeighted(int64(maxInFlight)),
		logger: logger,
	}
}

func (c *ScheduledClient) acquire(ctx context.Context) error {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		c.logger.Debug("llm slot acquisition aborted", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Complete acquires a slot, forwards the call, and releases the slot.
func (c *ScheduledClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.slots.Release(1)
	return c.inner.Complete(ctx, prompt)
}

// CompleteWithSystem acquires a slot, forwards the call, and releases it.
func (c *ScheduledClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.slots.Release(1)
	return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

// CompleteWithSchema acquires a slot, forwards the call, and releases it.
func (c *ScheduledClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.slots.Release(1)
	return c.inner.CompleteWithSchema(ctx, systemPrompt, userPrompt, jsonSchema)
}
