// Package store implements the invoice record store on SQLite.
//
// The conversational engine consumes it through the read-only RecordStore
// contract: exact/range filter queries, nearest-neighbor similarity given a
// vector, and exact aggregates over a filtered set. Write paths exist only
// for fixture seeding; the real corpus is produced by the external ingestion
// pipeline.
//
// Nearest-neighbor search prefers a sqlite-vec vec0 virtual table and falls
// back to a brute-force cosine scan over stored embedding blobs when the
// extension is unavailable.
package store

import (
	"context"

	"invoicechat/internal/types"
)

// ScoredInvoice pairs an invoice with its similarity distance for semantic
// results. Smaller distance is closer.
type ScoredInvoice struct {
	Invoice  types.Invoice
	Distance float64
}

// RecordStore is the read-only contract the retrieval cascade depends on.
type RecordStore interface {
	// FilterQuery returns invoices matching the structured filters, ordered
	// by issue date descending with invoice number as tie-break, capped at
	// limit.
	FilterQuery(ctx context.Context, f types.Filters, limit int) ([]types.Invoice, error)

	// TextSearch returns invoices whose invoice number, vendor, or source
	// filename contains term (case-insensitive), same ordering as
	// FilterQuery, capped at limit.
	TextSearch(ctx context.Context, term string, limit int) ([]types.Invoice, error)

	// NearestNeighbors returns the k invoices closest to the query vector,
	// ordered by ascending distance with invoice number as tie-break.
	NearestNeighbors(ctx context.Context, vector []float32, k int) ([]ScoredInvoice, error)

	// Aggregate computes an exact aggregate over the filtered set. With
	// f.GroupByVendor it groups by vendor and returns the top group.
	Aggregate(ctx context.Context, fn types.AggregateFunc, f types.Filters) (types.AggregateResult, error)
}
