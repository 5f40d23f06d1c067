package retrieval

import (
	"context"
	"fmt"
	"strings"

	"invoicechat/internal/embedding"
	"invoicechat/internal/store"
	"invoicechat/internal/types"
)

// =============================================================================
// AGGREGATE
// =============================================================================

// aggregateStrategy computes exact aggregates in SQL. It is the only
// strategy for aggregate intents; approximate methods never answer them.
type aggregateStrategy struct {
	store store.RecordStore
}

func (s *aggregateStrategy) Name() types.Strategy { return types.StrategyAggregate }

func (s *aggregateStrategy) Attempt(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error) {
	fn := intent.Filters.Aggregate
	if fn == "" {
		return nil, fmt.Errorf("aggregate intent without aggregate function")
	}
	res, err := s.store.Aggregate(ctx, fn, intent.Filters)
	if err != nil {
		return nil, err
	}
	return &types.RetrievalResult{Aggregate: &res}, nil
}

// =============================================================================
// STRUCTURED
// =============================================================================

// structuredStrategy answers intents whose filters identify records
// precisely. Results come back newest first, invoice number breaking ties.
type structuredStrategy struct {
	store store.RecordStore
}

func (s *structuredStrategy) Name() types.Strategy { return types.StrategyStructured }

func (s *structuredStrategy) Attempt(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error) {
	// Fetch one past the cap so Truncate can tell truncation from an exact fit.
	invoices, err := s.store.FilterQuery(ctx, intent.Filters, types.MaxResults+1)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &types.RetrievalResult{Invoices: invoices}, nil
}

// =============================================================================
// SEMANTIC
// =============================================================================

// semanticStrategy embeds the raw query and runs nearest-neighbor search,
// ascending cosine distance.
type semanticStrategy struct {
	store store.RecordStore
	embed embedding.Engine
}

func (s *semanticStrategy) Name() types.Strategy { return types.StrategySemantic }

func (s *semanticStrategy) Attempt(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error) {
	if s.embed == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}
	vector, err := s.embed.Embed(ctx, intent.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	scored, err := s.store.NearestNeighbors(ctx, vector, types.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return nil, nil
	}
	invoices := make([]types.Invoice, len(scored))
	for i, sc := range scored {
		invoices[i] = sc.Invoice
	}
	return &types.RetrievalResult{Invoices: invoices}, nil
}

// =============================================================================
// TEXT SEARCH
// =============================================================================

// textSearchStrategy is the last resort: substring match over invoice
// number, vendor, and source filename.
type textSearchStrategy struct {
	store store.RecordStore
}

func (s *textSearchStrategy) Name() types.Strategy { return types.StrategyTextSearch }

func (s *textSearchStrategy) Attempt(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error) {
	term := searchTerm(intent)
	if term == "" {
		return nil, nil
	}
	invoices, err := s.store.TextSearch(ctx, term, types.MaxResults+1)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &types.RetrievalResult{Invoices: invoices}, nil
}

// searchTerm picks the most identifying text available: an invoice number or
// vendor filter when present, otherwise the raw query itself.
func searchTerm(intent *types.QueryIntent) string {
	if intent.Filters.InvoiceNumber != "" {
		return intent.Filters.InvoiceNumber
	}
	if intent.Filters.Vendor != "" {
		return intent.Filters.Vendor
	}
	return strings.TrimSpace(intent.RawQuery)
}
