// Package compose turns a retrieval result into the assistant's reply.
// Deterministic outcomes (no match, unknown intent, ambiguous candidates)
// are answered from fixed templates without touching the language model;
// everything else is delegated to the model grounded strictly on the
// retrieved fields.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"invoicechat/internal/llm"
	"invoicechat/internal/types"
)

// Composer renders replies.
type Composer struct {
	llm    llm.Client
	logger *zap.Logger
}

// NewComposer creates a composer backed by the given LLM client.
func NewComposer(client llm.Client, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{llm: client, logger: logger}
}

// Compose produces the reply text for one answered query. Every path
// returns a complete message; the only error condition is a language model
// failure on the delegated path.
func (c *Composer) Compose(ctx context.Context, intent *types.QueryIntent, res *types.RetrievalResult) (string, error) {
	if intent.Kind == types.IntentUnknown {
		return clarificationMessage, nil
	}
	if res.Empty() || aggregateNoMatch(intent.Filters, res.Aggregate) {
		return noMatchMessage(intent.Filters), nil
	}
	if IsAmbiguous(intent, res) {
		return candidateListMessage(res.Invoices), nil
	}

	grounding, err := groundingJSON(res)
	if err != nil {
		return "", types.NewError(types.KindServiceUnavailable, "failed to prepare answer grounding", err)
	}
	reply, err := c.llm.CompleteWithSystem(ctx, composerSystemPrompt, composerUserPrompt(intent.RawQuery, grounding))
	if err != nil {
		return "", types.NewError(types.KindServiceUnavailable, "answer generation failed", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", types.NewError(types.KindServiceUnavailable, "answer generation returned nothing", nil)
	}
	return reply, nil
}

// aggregateNoMatch reports whether an aggregate was computed over zero
// rows. A plain count of zero is itself the answer; any other function has
// no value without matching rows, and a grouped aggregate has no winning
// vendor.
func aggregateNoMatch(f types.Filters, agg *types.AggregateResult) bool {
	if agg == nil || agg.Count > 0 {
		return false
	}
	return agg.Func != types.AggCount || f.GroupByVendor
}

// IsAmbiguous reports whether the result needs user disambiguation: a
// details request that matched several invoices with nothing in the filters
// to single one out.
func IsAmbiguous(intent *types.QueryIntent, res *types.RetrievalResult) bool {
	return intent.Kind == types.IntentGetDetails &&
		len(res.Invoices) > 1 &&
		intent.Filters.InvoiceNumber == ""
}

// =============================================================================
// FIXED TEMPLATES
// =============================================================================

const clarificationMessage = `I can only answer questions about your invoices. Try one of these:
- "Show me invoices from <vendor>"
- "What did we spend last month?"
- "List all overdue invoices"
- "Show me the details of invoice <number>"`

func noMatchMessage(f types.Filters) string {
	return fmt.Sprintf("I couldn't find any invoices matching %s. Try adjusting the criteria or check the spelling of the vendor name.", f.Describe())
}

const maxCandidatesShown = 5

func candidateListMessage(invoices []types.Invoice) string {
	var b strings.Builder
	b.WriteString("I found several invoices that could match. Which one do you mean?\n")
	shown := invoices
	if len(shown) > maxCandidatesShown {
		shown = shown[:maxCandidatesShown]
	}
	for _, inv := range shown {
		fmt.Fprintf(&b, "- %s from %s, issued %s, %s %.2f\n",
			inv.InvoiceNumber, inv.Vendor, inv.IssueDate.Format("2006-01-02"), inv.Currency, inv.TotalAmount)
	}
	if len(invoices) > len(shown) {
		fmt.Fprintf(&b, "...and %d more. ", len(invoices)-len(shown))
	}
	b.WriteString("Reply with the invoice number.")
	return b.String()
}

// =============================================================================
// DELEGATED PATH
// =============================================================================

const composerSystemPrompt = `You answer questions about invoices. You are given the user's question and a JSON grounding block containing the only invoice data you may use.

Rules:
- Base every figure, date, and name strictly on the grounding block. Never invent or estimate values.
- If the grounding has an "aggregate" object, state its value plainly with the right unit.
- If "has_more" is true, mention that only the first results are shown.
- Answer in plain prose, concise and direct. Use the invoice numbers when referring to specific invoices.`

func composerUserPrompt(query, grounding string) string {
	return fmt.Sprintf("Question: %s\n\nGrounding:\n%s", query, grounding)
}

// grounding is the exact shape handed to the model.
type grounding struct {
	Invoices  []types.Invoice        `json:"invoices,omitempty"`
	Aggregate *types.AggregateResult `json:"aggregate,omitempty"`
	HasMore   bool                   `json:"has_more,omitempty"`
}

func groundingJSON(res *types.RetrievalResult) (string, error) {
	g := grounding{Invoices: res.Invoices, Aggregate: res.Aggregate, HasMore: res.HasMore}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
