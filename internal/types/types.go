// Package types defines the shared data model for the conversational
// retrieval engine: invoices, chat messages, query intents, and retrieval
// results. All components exchange these types; none of them owns behavior.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// INVOICE RECORDS
// =============================================================================

// Invoice is a structured record produced by the external ingestion pipeline.
// The engine treats invoices as read-only.
type Invoice struct {
	ID             string    `json:"id"`
	InvoiceNumber  string    `json:"invoice_number"`
	Vendor         string    `json:"vendor"`
	IssueDate      time.Time `json:"issue_date"`
	DueDate        time.Time `json:"due_date,omitempty"`
	TotalAmount    float64   `json:"total_amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	SourceFilename string    `json:"source_filename,omitempty"`
}

// InvoiceStatus values the pipeline emits.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusOverdue = "overdue"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in a conversation. Immutable once appended.
// User turns carry the resolved intent so follow-up resolution can read the
// most recent prior filters from the context window alone.
type ChatMessage struct {
	Role      Role         `json:"role"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Intent    *QueryIntent `json:"intent,omitempty"`
}

// =============================================================================
// QUERY INTENT
// =============================================================================

// IntentKind tags the classified purpose of a query.
type IntentKind string

const (
	IntentFindInvoice    IntentKind = "find_invoice"
	IntentAggregateQuery IntentKind = "aggregate_query"
	IntentListInvoices   IntentKind = "list_invoices"
	IntentGetDetails     IntentKind = "get_details"
	IntentUnknown        IntentKind = "unknown"
)

// AggregateFunc names an exact aggregate computation.
type AggregateFunc string

const (
	AggSum   AggregateFunc = "sum"
	AggCount AggregateFunc = "count"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// Filters holds the structured constraints extracted from a query.
// Zero values mean "not specified".
type Filters struct {
	Vendor        string        `json:"vendor,omitempty"`
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	DateFrom      time.Time     `json:"date_from,omitempty"`
	DateTo        time.Time     `json:"date_to,omitempty"`
	AmountMin     float64       `json:"amount_min,omitempty"`
	AmountMax     float64       `json:"amount_max,omitempty"`
	Status        string        `json:"status,omitempty"`
	Aggregate     AggregateFunc `json:"aggregate,omitempty"`
	GroupByVendor bool          `json:"group_by_vendor,omitempty"`
}

// Empty reports whether no filter field is set.
func (f Filters) Empty() bool {
	return f.Unconstrained() && f.Aggregate == "" && !f.GroupByVendor
}

// Unconstrained reports whether no record-constraining field is set.
// Aggregate and GroupByVendor describe the computation, not the matched
// set, so an aggregate query over the whole corpus is unconstrained but
// not empty.
func (f Filters) Unconstrained() bool {
	return f.Vendor == "" && f.InvoiceNumber == "" &&
		f.DateFrom.IsZero() && f.DateTo.IsZero() &&
		f.AmountMin == 0 && f.AmountMax == 0 &&
		f.Status == ""
}

// Identifying reports whether the filters pin down records precisely enough
// for a structured query: an exact invoice number, an exact vendor, or a
// date range.
func (f Filters) Identifying() bool {
	return f.InvoiceNumber != "" || f.Vendor != "" ||
		!f.DateFrom.IsZero() || !f.DateTo.IsZero()
}

// Merge fills unset fields of f from prior. Explicit fields in f win.
func (f Filters) Merge(prior Filters) Filters {
	out := f
	if out.Vendor == "" {
		out.Vendor = prior.Vendor
	}
	if out.InvoiceNumber == "" {
		out.InvoiceNumber = prior.InvoiceNumber
	}
	if out.DateFrom.IsZero() {
		out.DateFrom = prior.DateFrom
	}
	if out.DateTo.IsZero() {
		out.DateTo = prior.DateTo
	}
	if out.AmountMin == 0 {
		out.AmountMin = prior.AmountMin
	}
	if out.AmountMax == 0 {
		out.AmountMax = prior.AmountMax
	}
	if out.Status == "" {
		out.Status = prior.Status
	}
	return out
}

// Describe renders the filters as a short human-readable criteria list,
// used by no-match messages.
func (f Filters) Describe() string {
	var parts []string
	if f.Vendor != "" {
		parts = append(parts, "vendor "+f.Vendor)
	}
	if f.InvoiceNumber != "" {
		parts = append(parts, "invoice number "+f.InvoiceNumber)
	}
	if !f.DateFrom.IsZero() {
		parts = append(parts, "from "+f.DateFrom.Format("2006-01-02"))
	}
	if !f.DateTo.IsZero() {
		parts = append(parts, "until "+f.DateTo.Format("2006-01-02"))
	}
	if f.Status != "" {
		parts = append(parts, "status "+f.Status)
	}
	if len(parts) == 0 {
		return "your query"
	}
	return strings.Join(parts, ", ")
}

// QueryIntent is the classified purpose of a query plus its extracted
// structured filters. Unknown intents carry no filters.
type QueryIntent struct {
	Kind     IntentKind `json:"kind"`
	Filters  Filters    `json:"filters"`
	RawQuery string     `json:"raw_query,omitempty"`
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// MaxResults caps every retrieval result.
const MaxResults = 50

// Strategy names the retrieval method that produced a result, for
// diagnostics and tests.
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategySemantic   Strategy = "semantic"
	StrategyTextSearch Strategy = "text_search"
	StrategyAggregate  Strategy = "aggregate"
	StrategyNone       Strategy = "none"
)

// AggregateResult is the exact outcome of an aggregate computation.
type AggregateResult struct {
	Func  AggregateFunc `json:"func"`
	Value float64       `json:"value"`
	Count int64         `json:"count"`
	// GroupLabel is set for grouped aggregates (e.g. "which vendor has the
	// most invoices") and names the winning group.
	GroupLabel string `json:"group_label,omitempty"`
}

// RetrievalResult is an ordered, capped set of invoice references plus the
// strategy that produced it. Aggregate queries populate Aggregate instead of
// (or in addition to) Invoices.
type RetrievalResult struct {
	Invoices  []Invoice        `json:"invoices"`
	HasMore   bool             `json:"has_more"`
	Strategy  Strategy         `json:"strategy"`
	Aggregate *AggregateResult `json:"aggregate,omitempty"`
}

// Truncate caps the invoice list at MaxResults in its current order and sets
// HasMore when anything was dropped.
func (r *RetrievalResult) Truncate() {
	if len(r.Invoices) > MaxResults {
		r.Invoices = r.Invoices[:MaxResults]
		r.HasMore = true
	}
}

// Empty reports whether the result carries neither invoices nor an aggregate.
func (r *RetrievalResult) Empty() bool {
	return r == nil || (len(r.Invoices) == 0 && r.Aggregate == nil)
}

// =============================================================================
// EXTERNAL INTERFACE
// =============================================================================

// Request is one inbound chat message.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Identity  string `json:"identity"`
}

// Response is the reply to one chat message.
type Response struct {
	SessionID   string     `json:"session_id"`
	Reply       string     `json:"reply"`
	Intent      IntentKind `json:"intent"`
	ResultCount int        `json:"result_count"`
	HasMore     bool       `json:"has_more"`
}
