package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicechat/internal/compose"
	"invoicechat/internal/intent"
	"invoicechat/internal/ratelimit"
	"invoicechat/internal/retrieval"
	"invoicechat/internal/session"
	"invoicechat/internal/store"
	"invoicechat/internal/types"
)

// scriptedLLM plays classification and composition responses from queues so
// the full pipeline runs without a live model.
type scriptedLLM struct {
	schemaQueue []string
	answer      string
	answerCalls int
	groundings  []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.answer, nil
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	s.answerCalls++
	s.groundings = append(s.groundings, user)
	return s.answer, nil
}

func (s *scriptedLLM) CompleteWithSchema(ctx context.Context, system, user, jsonSchema string) (string, error) {
	if len(s.schemaQueue) == 0 {
		return "", fmt.Errorf("scripted llm: schema queue exhausted")
	}
	out := s.schemaQueue[0]
	if len(s.schemaQueue) > 1 {
		s.schemaQueue = s.schemaQueue[1:]
	}
	return out, nil
}

type nullEngine struct{}

func (nullEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (nullEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (nullEngine) Dimensions() int { return 4 }
func (nullEngine) Name() string    { return "null" }

func newPipeline(t *testing.T, llmStub *scriptedLLM, seed func(*store.SQLiteStore)) *Engine {
	t.Helper()
	recordStore, err := store.Open(filepath.Join(t.TempDir(), "invoices.db"), 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { recordStore.Close() })
	if seed != nil {
		seed(recordStore)
	}

	sessions := session.NewStore(0, 0, nil)
	limiter := ratelimit.New(time.Minute, 20, nil)
	classifier := intent.NewClassifier(llmStub, nil)
	retriever := retrieval.New(recordStore, nullEngine{}, nil)
	composer := compose.NewComposer(llmStub, nil)
	return NewEngine(limiter, sessions, classifier, retriever, composer, nil)
}

func mustUpsert(t *testing.T, s *store.SQLiteStore, inv types.Invoice, emb []float32) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), inv, emb))
}

func TestScenario_SingleInvoiceTotal(t *testing.T) {
	llmStub := &scriptedLLM{
		schemaQueue: []string{`{"kind":"get_details","filters":{"vendor":"Acme Corp"}}`},
		answer:      "The Acme Corp invoice INV-001 totals USD 1500.00.",
	}
	engine := newPipeline(t, llmStub, func(s *store.SQLiteStore) {
		mustUpsert(t, s, types.Invoice{
			ID: "1", InvoiceNumber: "INV-001", Vendor: "Acme Corp",
			IssueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			TotalAmount: 1500.00, Currency: "USD", Status: types.StatusPending,
		}, nil)
	})

	resp, err := engine.Handle(context.Background(), req("What is the total for the Acme Corp invoice?"))
	require.NoError(t, err)
	assert.Equal(t, types.IntentGetDetails, resp.Intent)
	assert.Equal(t, 1, resp.ResultCount)
	assert.Contains(t, resp.Reply, "1500.00")
	require.Len(t, llmStub.groundings, 1)
	assert.Contains(t, llmStub.groundings[0], "1500", "the answer must be grounded on the retrieved record")
}

func TestScenario_VendorWithMostInvoices(t *testing.T) {
	llmStub := &scriptedLLM{
		schemaQueue: []string{`{"kind":"aggregate_query","filters":{"aggregate":"count","group_by_vendor":true}}`},
		answer:      "Vendor B has the most invoices: 5.",
	}
	engine := newPipeline(t, llmStub, func(s *store.SQLiteStore) {
		counts := map[string]int{"Vendor A": 3, "Vendor B": 5, "Vendor C": 2}
		i := 0
		for vendor, n := range counts {
			for j := 0; j < n; j++ {
				i++
				mustUpsert(t, s, types.Invoice{
					ID: fmt.Sprintf("%d", i), InvoiceNumber: fmt.Sprintf("INV-%03d", i),
					Vendor: vendor, IssueDate: time.Date(2026, 2, 1+j, 0, 0, 0, 0, time.UTC),
					TotalAmount: 100,
				}, nil)
			}
		}
	})

	resp, err := engine.Handle(context.Background(), req("Which vendor has the most invoices?"))
	require.NoError(t, err)
	assert.Equal(t, types.IntentAggregateQuery, resp.Intent)
	require.Len(t, llmStub.groundings, 1)
	assert.Contains(t, llmStub.groundings[0], "Vendor B")
	assert.Contains(t, llmStub.groundings[0], `"count": 5`)
}

func TestScenario_BurstOfTwentyOne(t *testing.T) {
	llmStub := &scriptedLLM{
		schemaQueue: []string{`{"kind":"list_invoices","filters":{"vendor":"Acme"}}`},
		answer:      "Here are your invoices.",
	}
	engine := newPipeline(t, llmStub, func(s *store.SQLiteStore) {
		mustUpsert(t, s, types.Invoice{
			ID: "1", InvoiceNumber: "INV-001", Vendor: "Acme",
			IssueDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), TotalAmount: 10,
		}, nil)
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := engine.Handle(ctx, req("invoices from Acme"))
		require.NoError(t, err, "request %d should be admitted", i+1)
	}
	_, err := engine.Handle(ctx, req("invoices from Acme"))
	require.Error(t, err)
	assert.Equal(t, types.KindRateLimited, types.KindOf(err))

	var te *types.Error
	require.ErrorAs(t, err, &te)
	assert.Positive(t, te.RetryAfter)
}

func TestScenario_FollowUpAggregate(t *testing.T) {
	llmStub := &scriptedLLM{
		schemaQueue: []string{
			`{"kind":"find_invoice","filters":{"vendor":"Acme Corporation"}}`,
			`{"kind":"aggregate_query","filters":{"aggregate":"sum"}}`,
		},
		answer: "ok",
	}
	engine := newPipeline(t, llmStub, func(s *store.SQLiteStore) {
		for i, amount := range []float64{100, 250, 400} {
			mustUpsert(t, s, types.Invoice{
				ID: fmt.Sprintf("a%d", i), InvoiceNumber: fmt.Sprintf("INV-10%d", i),
				Vendor: "Acme Corporation", IssueDate: time.Date(2026, 3, 1+i, 0, 0, 0, 0, time.UTC),
				TotalAmount: amount,
			}, nil)
		}
		mustUpsert(t, s, types.Invoice{
			ID: "x", InvoiceNumber: "INV-999", Vendor: "Globex",
			IssueDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), TotalAmount: 9999,
		}, nil)
	})
	ctx := context.Background()

	first, err := engine.Handle(ctx, req("Show me invoices from Acme Corporation"))
	require.NoError(t, err)
	assert.Equal(t, 3, first.ResultCount)

	second := req("What's the total for those?")
	second.SessionID = first.SessionID
	resp, err := engine.Handle(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, types.IntentAggregateQuery, resp.Intent)

	// The follow-up inherited the vendor filter, so the sum covers exactly
	// the three Acme records and not the Globex one.
	require.Len(t, llmStub.groundings, 2)
	assert.Contains(t, llmStub.groundings[1], `"value": 750`)
	assert.NotContains(t, llmStub.groundings[1], "9999")
}

func TestScenario_NoMatchSkipsModel(t *testing.T) {
	llmStub := &scriptedLLM{
		schemaQueue: []string{`{"kind":"find_invoice","filters":{"vendor":"Initech"}}`},
		answer:      "should never be used",
	}
	engine := newPipeline(t, llmStub, func(s *store.SQLiteStore) {
		mustUpsert(t, s, types.Invoice{
			ID: "1", InvoiceNumber: "INV-001", Vendor: "Acme",
			IssueDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), TotalAmount: 10,
		}, nil)
	})

	resp, err := engine.Handle(context.Background(), req("invoices from Initech"))
	require.NoError(t, err)
	assert.Zero(t, resp.ResultCount)
	assert.Contains(t, resp.Reply, "couldn't find")
	assert.Contains(t, resp.Reply, "Initech")
	assert.Zero(t, llmStub.answerCalls, "no-match replies must not invoke the model")
}

func TestScenario_IdenticalQuestionIsDeterministic(t *testing.T) {
	script := func() *scriptedLLM {
		return &scriptedLLM{
			schemaQueue: []string{`{"kind":"list_invoices","filters":{"vendor":"Acme"}}`},
			answer:      "Here are your Acme invoices.",
		}
	}
	seed := func(s *store.SQLiteStore) {
		for i := 0; i < 4; i++ {
			mustUpsert(t, s, types.Invoice{
				ID: fmt.Sprintf("%d", i), InvoiceNumber: fmt.Sprintf("INV-%03d", i),
				Vendor: "Acme", IssueDate: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
				TotalAmount: float64(100 * (i + 1)),
			}, nil)
		}
	}

	llmA := script()
	respA, err := newPipeline(t, llmA, seed).Handle(context.Background(), req("list Acme invoices"))
	require.NoError(t, err)

	llmB := script()
	respB, err := newPipeline(t, llmB, seed).Handle(context.Background(), req("list Acme invoices"))
	require.NoError(t, err)

	assert.Equal(t, respA.Intent, respB.Intent)
	assert.Equal(t, respA.ResultCount, respB.ResultCount)
	assert.Equal(t, llmA.groundings, llmB.groundings, "same question over unchanged data must ground identically, same order included")
}
