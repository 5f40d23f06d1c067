package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements Client on the Google GenAI API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// GeminiConfig holds client settings.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// NewGeminiClient creates a Gemini-backed reasoning client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	return c.generate(ctx, userPrompt, cfg)
}

// CompleteWithSchema enforces a JSON schema on the response.
func (c *GeminiClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	schema, err := parseSchema(jsonSchema)
	if err != nil {
		return "", fmt.Errorf("invalid json schema: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	out, err := c.generate(ctx, userPrompt, cfg)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "response_schema") {
		return "", ErrSchemaNotSupported
	}
	return out, err
}

// generate runs the request with a bounded timeout and bounded retries.
// Retries use exponential backoff; context cancellation aborts immediately.
func (c *GeminiClient) generate(ctx context.Context, userPrompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", ErrNoAnswer
		}

		c.logger.Debug("gemini completion",
			zap.String("model", c.model),
			zap.Int("response_len", len(text)),
			zap.Duration("elapsed", time.Since(start)))
		return text, nil
	}

	c.logger.Warn("gemini completion failed",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(lastErr))
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// parseSchema converts a JSON-schema document into the genai schema type.
// Only the subset the classifier emits is supported: objects, strings,
// numbers, booleans, enums, and required lists.
func parseSchema(jsonSchema string) (*genai.Schema, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonSchema), &raw); err != nil {
		return nil, err
	}
	return convertSchema(raw)
}

func convertSchema(raw map[string]interface{}) (*genai.Schema, error) {
	s := &genai.Schema{}

	switch t, _ := raw["type"].(string); t {
	case "object":
		s.Type = genai.TypeObject
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		return nil, fmt.Errorf("unsupported schema type %q", t)
	}

	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}

	if enum, ok := raw["enum"].([]interface{}); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}

	if props, ok := raw["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			child, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", name)
			}
			converted, err := convertSchema(child)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = converted
		}
	}

	if items, ok := raw["items"].(map[string]interface{}); ok {
		converted, err := convertSchema(items)
		if err != nil {
			return nil, err
		}
		s.Items = converted
	}

	if required, ok := raw["required"].([]interface{}); ok {
		for _, v := range required {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}

	return s, nil
}
