// Package llm defines the reasoning capability contract and its Gemini
// implementation. Callers depend only on the Client interface; failures are
// classified so "service broke" is distinguishable from "no answer produced".
package llm

import (
	"context"
	"errors"
)

// Client is the minimal interface components use to call the reasoning
// capability.
type Client interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithSchema enforces a JSON schema on the response. The schema
	// is a JSON-schema document (object type, properties, enum, required).
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error)
}

// ErrUnavailable signals the capability was unreachable or timed out after
// bounded retries. Distinct from ErrNoAnswer.
var ErrUnavailable = errors.New("reasoning capability unavailable")

// ErrNoAnswer signals the capability responded but produced no usable output.
var ErrNoAnswer = errors.New("no answer produced")

// ErrSchemaNotSupported signals the backing model rejected response schema
// enforcement.
var ErrSchemaNotSupported = errors.New("response schema not supported by model")
