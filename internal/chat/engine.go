// Package chat orchestrates one conversational turn end to end: admission,
// session context, intent classification, retrieval, composition, and the
// atomic append of the question/answer pair. A failure anywhere before the
// append leaves the session untouched, so a retried request always starts
// from a clean classification.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"invoicechat/internal/compose"
	"invoicechat/internal/intent"
	"invoicechat/internal/ratelimit"
	"invoicechat/internal/retrieval"
	"invoicechat/internal/session"
	"invoicechat/internal/types"
)

// MaxMessageLength bounds one inbound message.
const MaxMessageLength = 4096

// Classifier resolves a query to an intent. Satisfied by *intent.Classifier.
type Classifier interface {
	Classify(ctx context.Context, query string, prior *types.QueryIntent) (*types.QueryIntent, error)
}

// Retriever resolves an intent to records. Satisfied by *retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, intent *types.QueryIntent) (*types.RetrievalResult, error)
}

// Composer renders the reply. Satisfied by *compose.Composer.
type Composer interface {
	Compose(ctx context.Context, intent *types.QueryIntent, res *types.RetrievalResult) (string, error)
}

// Engine answers chat requests.
type Engine struct {
	limiter    *ratelimit.Limiter
	sessions   *session.Store
	classifier Classifier
	retriever  Retriever
	composer   Composer
	logger     *zap.Logger

	now func() time.Time
}

// NewEngine wires the pipeline together.
func NewEngine(limiter *ratelimit.Limiter, sessions *session.Store, classifier Classifier, retriever Retriever, composer Composer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		limiter:    limiter,
		sessions:   sessions,
		classifier: classifier,
		retriever:  retriever,
		composer:   composer,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle processes one message. The returned error, when non-nil, is always
// a *types.Error carrying a user-safe message.
func (e *Engine) Handle(ctx context.Context, req types.Request) (*types.Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	// Admission runs before any state is touched: a rejected request mutates
	// no session and burns no model call.
	decision := e.limiter.Admit(req.Identity, e.now())
	if !decision.Accepted {
		e.logger.Info("request rejected by rate limiter",
			zap.String("identity", req.Identity),
			zap.Duration("retry_after", decision.RetryAfter))
		return nil, types.RateLimited(decision.RetryAfter)
	}

	sess := e.sessions.GetOrCreate(req.SessionID, req.Identity)

	qi, err := e.classifier.Classify(ctx, req.Message, sess.LastIntent())
	if err != nil {
		return nil, err
	}

	var res *types.RetrievalResult
	if qi.Kind == types.IntentUnknown {
		// Nothing to retrieve for a question we could not understand.
		res = &types.RetrievalResult{Strategy: types.StrategyNone}
	} else {
		res, err = e.retriever.Retrieve(ctx, qi)
		if err != nil {
			return nil, err
		}
	}

	reply, err := e.composer.Compose(ctx, qi, res)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess = e.sessions.Append(sess.ID, req.Identity,
		types.ChatMessage{Role: types.RoleUser, Text: qi.RawQuery, Timestamp: now, Intent: qi},
		types.ChatMessage{Role: types.RoleAssistant, Text: reply, Timestamp: now},
	)

	e.logger.Info("turn answered",
		zap.String("session_id", sess.ID),
		zap.String("intent", string(qi.Kind)),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("results", len(res.Invoices)),
		zap.Bool("has_more", res.HasMore))

	return &types.Response{
		SessionID:   sess.ID,
		Reply:       reply,
		Intent:      qi.Kind,
		ResultCount: len(res.Invoices),
		HasMore:     res.HasMore,
	}, nil
}

func validate(req types.Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return types.NewError(types.KindValidation, "message must not be empty", nil)
	}
	if len(req.Message) > MaxMessageLength {
		return types.NewError(types.KindValidation, "message too long", nil)
	}
	if strings.TrimSpace(req.Identity) == "" {
		return types.NewError(types.KindValidation, "identity must not be empty", nil)
	}
	return nil
}

var (
	_ Classifier = (*intent.Classifier)(nil)
	_ Retriever  = (*retrieval.Retriever)(nil)
	_ Composer   = (*compose.Composer)(nil)
)
