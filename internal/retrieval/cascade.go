// Package retrieval fetches invoice records for a classified intent. It runs
// an ordered cascade of strategies and returns the first non-empty result:
// aggregates compute exactly in SQL, identifying filters hit a structured
// query, and everything else goes through semantic similarity with a text
// search fallback. A strategy failure moves the cascade forward; retrieval
// never fabricates a result.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"invoicechat/internal/embedding"
	"invoicechat/internal/store"
	"invoicechat/internal/types"
)

// Strategy is one retrieval method. Attempt returns nil when the strategy
// yields nothing for this intent; an error means the method itself failed
// and the cascade should continue.
type Strategy interface {
	Name() types.Strategy
	Attempt(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error)
}

// Retriever runs the cascade.
type Retriever struct {
	store  store.RecordStore
	embed  embedding.Engine
	logger *zap.Logger
}

// New creates a retriever over the given record store and embedding engine.
func New(recordStore store.RecordStore, engine embedding.Engine, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: recordStore, embed: engine, logger: logger}
}

// Retrieve resolves the intent to an ordered, capped result set. An empty
// result with StrategyNone means every applicable strategy came up empty;
// a ServiceUnavailable error means every applicable strategy failed.
func (r *Retriever) Retrieve(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error) {
	strategies := r.plan(intent)

	var failures int
	for _, s := range strategies {
		res, err := s.Attempt(ctx, intent)
		if err != nil {
			failures++
			r.logger.Warn("retrieval strategy failed, trying next",
				zap.String("strategy", string(s.Name())),
				zap.Error(err))
			continue
		}
		if res != nil && !res.Empty() {
			res.Strategy = s.Name()
			res.Truncate()
			r.logger.Debug("retrieval complete",
				zap.String("strategy", string(s.Name())),
				zap.Int("results", len(res.Invoices)),
				zap.Bool("has_more", res.HasMore))
			return res, nil
		}
	}

	if failures == len(strategies) {
		return nil, types.NewError(types.KindServiceUnavailable, "all retrieval strategies failed", nil)
	}
	return &types.RetrievalResult{Strategy: types.StrategyNone}, nil
}

// plan orders the strategies for one intent. Aggregates never fall through
// to approximate methods.
func (r *Retriever) plan(intent *types.QueryIntent) []Strategy {
	if intent.Kind == types.IntentAggregateQuery {
		return []Strategy{&aggregateStrategy{store: r.store}}
	}
	var out []Strategy
	if intent.Filters.Identifying() {
		out = append(out, &structuredStrategy{store: r.store})
	}
	out = append(out,
		&semanticStrategy{store: r.store, embed: r.embed},
		&textSearchStrategy{store: r.store},
	)
	return out
}
