// Package intent classifies user queries into structured retrieval intents
// using a schema-constrained LLM call. Classification is strict: output that
// does not match the declared schema is a service failure, never silently
// downgraded to an unknown intent.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"invoicechat/internal/llm"
	"invoicechat/internal/types"
)

// Classifier turns free-form queries into QueryIntents.
type Classifier struct {
	llm    llm.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewClassifier creates a classifier backed by the given LLM client.
func NewClassifier(client llm.Client, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: client, logger: logger, now: time.Now}
}

// Classify determines the intent of query. prior is the most recent intent
// from the same conversation, used to resolve follow-up references; nil when
// the conversation has no earlier classified turn.
func (c *Classifier) Classify(ctx context.Context, query string, prior *types.QueryIntent) (*types.QueryIntent, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.NewError(types.KindValidation, "message must not be empty", nil)
	}

	raw, err := c.llm.CompleteWithSchema(ctx, systemPrompt(), userPrompt(query, prior, c.now()), intentSchema)
	if err != nil {
		return nil, types.NewError(types.KindServiceUnavailable, "intent classification failed", err)
	}

	intent, err := parseIntent(raw)
	if err != nil {
		c.logger.Warn("classifier produced malformed output",
			zap.String("query", query),
			zap.Error(err))
		return nil, types.NewError(types.KindServiceUnavailable, "intent classification produced malformed output", err)
	}
	intent.RawQuery = query

	if prior != nil && intent.Kind != types.IntentUnknown &&
		intent.Filters.Unconstrained() && HasReferentialLanguage(query) {
		intent.Filters = intent.Filters.Merge(prior.Filters)
		c.logger.Debug("resolved follow-up from prior intent",
			zap.String("query", query),
			zap.String("prior_kind", string(prior.Kind)))
	}

	return intent, nil
}

// =============================================================================
// OUTPUT PARSING
// =============================================================================

// intentWire is the exact shape the model must emit.
type intentWire struct {
	Kind    string `json:"kind"`
	Filters struct {
		Vendor        string  `json:"vendor,omitempty"`
		InvoiceNumber string  `json:"invoice_number,omitempty"`
		DateFrom      string  `json:"date_from,omitempty"`
		DateTo        string  `json:"date_to,omitempty"`
		AmountMin     float64 `json:"amount_min,omitempty"`
		AmountMax     float64 `json:"amount_max,omitempty"`
		Status        string  `json:"status,omitempty"`
		Aggregate     string  `json:"aggregate,omitempty"`
		GroupByVendor bool    `json:"group_by_vendor,omitempty"`
	} `json:"filters"`
}

var validKinds = map[types.IntentKind]bool{
	types.IntentFindInvoice:    true,
	types.IntentAggregateQuery: true,
	types.IntentListInvoices:   true,
	types.IntentGetDetails:     true,
	types.IntentUnknown:        true,
}

var validAggregates = map[types.AggregateFunc]bool{
	types.AggSum:   true,
	types.AggCount: true,
	types.AggAvg:   true,
	types.AggMin:   true,
	types.AggMax:   true,
}

var validStatuses = map[string]bool{
	types.StatusPending: true,
	types.StatusPaid:    true,
	types.StatusOverdue: true,
}

func parseIntent(raw string) (*types.QueryIntent, error) {
	var wire intentWire
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("invalid intent JSON: %w", err)
	}

	kind := types.IntentKind(wire.Kind)
	if !validKinds[kind] {
		return nil, fmt.Errorf("unrecognized intent kind %q", wire.Kind)
	}

	intent := &types.QueryIntent{Kind: kind}
	if kind == types.IntentUnknown {
		// Unknown intents carry no filters regardless of what the model emitted.
		return intent, nil
	}

	f := &intent.Filters
	f.Vendor = strings.TrimSpace(wire.Filters.Vendor)
	f.InvoiceNumber = strings.TrimSpace(wire.Filters.InvoiceNumber)
	f.GroupByVendor = wire.Filters.GroupByVendor

	var err error
	if f.DateFrom, err = parseDate(wire.Filters.DateFrom); err != nil {
		return nil, err
	}
	if f.DateTo, err = parseDate(wire.Filters.DateTo); err != nil {
		return nil, err
	}
	if wire.Filters.AmountMin < 0 || wire.Filters.AmountMax < 0 {
		return nil, fmt.Errorf("negative amount bound")
	}
	f.AmountMin = wire.Filters.AmountMin
	f.AmountMax = wire.Filters.AmountMax

	if wire.Filters.Status != "" {
		if !validStatuses[wire.Filters.Status] {
			return nil, fmt.Errorf("unrecognized status %q", wire.Filters.Status)
		}
		f.Status = wire.Filters.Status
	}

	if wire.Filters.Aggregate != "" {
		fn := types.AggregateFunc(wire.Filters.Aggregate)
		if !validAggregates[fn] {
			return nil, fmt.Errorf("unrecognized aggregate function %q", wire.Filters.Aggregate)
		}
		f.Aggregate = fn
	}
	if kind == types.IntentAggregateQuery && f.Aggregate == "" {
		return nil, fmt.Errorf("aggregate query without aggregate function")
	}

	return intent, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// =============================================================================
// FOLLOW-UP DETECTION
// =============================================================================

var referentialMarkers = []string{
	"it", "them", "they", "those", "these", "that", "this",
	"same", "previous", "earlier", "again", "ones",
}

var referentialPhrases = []string{
	"what about", "how about", "and the", "of those", "of them",
}

// HasReferentialLanguage reports whether the query points back at earlier
// conversation turns rather than naming its own criteria.
func HasReferentialLanguage(query string) bool {
	lower := strings.ToLower(query)
	for _, p := range referentialPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	for _, w := range words {
		for _, m := range referentialMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}
