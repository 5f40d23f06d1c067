package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"invoicechat/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "invoices.db"), 4, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedInvoices(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	fixtures := []struct {
		inv types.Invoice
		emb []float32
	}{
		{types.Invoice{ID: "1", InvoiceNumber: "INV-001", Vendor: "Acme Corp", IssueDate: date("2026-03-10"), TotalAmount: 1200, Currency: "USD", Status: types.StatusPaid}, []float32{1, 0, 0, 0}},
		{types.Invoice{ID: "2", InvoiceNumber: "INV-002", Vendor: "Acme Corp", IssueDate: date("2026-03-15"), TotalAmount: 800, Currency: "USD", Status: types.StatusPending}, []float32{0.9, 0.1, 0, 0}},
		{types.Invoice{ID: "3", InvoiceNumber: "INV-003", Vendor: "Globex", IssueDate: date("2026-02-01"), TotalAmount: 5000, Currency: "USD", Status: types.StatusOverdue}, []float32{0, 1, 0, 0}},
		{types.Invoice{ID: "4", InvoiceNumber: "INV-004", Vendor: "Globex", IssueDate: date("2026-03-15"), TotalAmount: 300, Currency: "USD", Status: types.StatusPaid}, []float32{0, 0, 1, 0}},
	}
	for _, f := range fixtures {
		if err := s.Upsert(ctx, f.inv, f.emb); err != nil {
			t.Fatalf("Failed to upsert %s: %v", f.inv.ID, err)
		}
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := types.Invoice{ID: "1", InvoiceNumber: "INV-001", Vendor: "Acme", IssueDate: date("2026-01-01"), TotalAmount: 100}
	if err := s.Upsert(ctx, inv, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	inv.TotalAmount = 250
	if err := s.Upsert(ctx, inv, nil); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	got, err := s.FilterQuery(ctx, types.Filters{InvoiceNumber: "INV-001"}, 0)
	if err != nil {
		t.Fatalf("FilterQuery failed: %v", err)
	}
	if len(got) != 1 || got[0].TotalAmount != 250 {
		t.Errorf("FilterQuery = %+v, want single invoice with amount 250", got)
	}
}

func TestFilterQueryOrdering(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)

	got, err := s.FilterQuery(context.Background(), types.Filters{}, 0)
	if err != nil {
		t.Fatalf("FilterQuery failed: %v", err)
	}
	// Newest issue date first; equal dates ordered by invoice number.
	want := []string{"INV-002", "INV-004", "INV-001", "INV-003"}
	if len(got) != len(want) {
		t.Fatalf("got %d invoices, want %d", len(got), len(want))
	}
	for i, num := range want {
		if got[i].InvoiceNumber != num {
			t.Errorf("result[%d] = %s, want %s", i, got[i].InvoiceNumber, num)
		}
	}
}

func TestFilterQueryFilters(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters types.Filters
		want    []string
	}{
		{"VendorCaseInsensitive", types.Filters{Vendor: "acme"}, []string{"INV-002", "INV-001"}},
		{"InvoiceNumber", types.Filters{InvoiceNumber: "INV-003"}, []string{"INV-003"}},
		{"DateRange", types.Filters{DateFrom: date("2026-03-01"), DateTo: date("2026-03-31")}, []string{"INV-002", "INV-004", "INV-001"}},
		{"Status", types.Filters{Status: types.StatusPaid}, []string{"INV-004", "INV-001"}},
		{"AmountRange", types.Filters{AmountMin: 500, AmountMax: 2000}, []string{"INV-002", "INV-001"}},
		{"VendorAndStatus", types.Filters{Vendor: "Globex", Status: types.StatusOverdue}, []string{"INV-003"}},
		{"NoMatch", types.Filters{Vendor: "Initech"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FilterQuery(ctx, tt.filters, 0)
			if err != nil {
				t.Fatalf("FilterQuery failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d invoices, want %d", len(got), len(tt.want))
			}
			for i, num := range tt.want {
				if got[i].InvoiceNumber != num {
					t.Errorf("result[%d] = %s, want %s", i, got[i].InvoiceNumber, num)
				}
			}
		})
	}
}

func TestFilterQueryLimit(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)

	got, err := s.FilterQuery(context.Background(), types.Filters{}, 2)
	if err != nil {
		t.Fatalf("FilterQuery failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d invoices, want 2", len(got))
	}
}

func TestTextSearch(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)
	ctx := context.Background()

	got, err := s.TextSearch(ctx, "globex", 0)
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d invoices, want 2", len(got))
	}
	if got[0].InvoiceNumber != "INV-004" || got[1].InvoiceNumber != "INV-003" {
		t.Errorf("TextSearch order = %s, %s; want INV-004, INV-003", got[0].InvoiceNumber, got[1].InvoiceNumber)
	}

	got, err = s.TextSearch(ctx, "INV-001", 0)
	if err != nil {
		t.Fatalf("TextSearch by number failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("TextSearch by number = %+v, want invoice 1", got)
	}

	got, err = s.TextSearch(ctx, "   ", 0)
	if err != nil {
		t.Fatalf("TextSearch on blank failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("blank term returned %d invoices, want 0", len(got))
	}
}

func TestAggregate(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)
	ctx := context.Background()

	sum, err := s.Aggregate(ctx, types.AggSum, types.Filters{Vendor: "Acme"})
	if err != nil {
		t.Fatalf("Aggregate sum failed: %v", err)
	}
	if sum.Value != 2000 || sum.Count != 2 {
		t.Errorf("sum = %+v, want value 2000 count 2", sum)
	}

	cnt, err := s.Aggregate(ctx, types.AggCount, types.Filters{Status: types.StatusPaid})
	if err != nil {
		t.Fatalf("Aggregate count failed: %v", err)
	}
	if cnt.Value != 2 || cnt.Count != 2 {
		t.Errorf("count = %+v, want 2", cnt)
	}

	max, err := s.Aggregate(ctx, types.AggMax, types.Filters{})
	if err != nil {
		t.Fatalf("Aggregate max failed: %v", err)
	}
	if max.Value != 5000 {
		t.Errorf("max = %v, want 5000", max.Value)
	}

	empty, err := s.Aggregate(ctx, types.AggSum, types.Filters{Vendor: "Initech"})
	if err != nil {
		t.Fatalf("Aggregate over empty set failed: %v", err)
	}
	if empty.Value != 0 || empty.Count != 0 {
		t.Errorf("empty aggregate = %+v, want zero value and count", empty)
	}

	if _, err := s.Aggregate(ctx, types.AggregateFunc("median"), types.Filters{}); err == nil {
		t.Error("expected error for unsupported aggregate function")
	}
}

func TestAggregateGroupByVendor(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)

	res, err := s.Aggregate(context.Background(), types.AggCount, types.Filters{GroupByVendor: true})
	if err != nil {
		t.Fatalf("Grouped aggregate failed: %v", err)
	}
	// Both vendors have 2 invoices; the tie breaks alphabetically.
	if res.GroupLabel != "Acme Corp" {
		t.Errorf("GroupLabel = %q, want %q", res.GroupLabel, "Acme Corp")
	}
	if res.Value != 2 {
		t.Errorf("Value = %v, want 2", res.Value)
	}

	sum, err := s.Aggregate(context.Background(), types.AggSum, types.Filters{GroupByVendor: true})
	if err != nil {
		t.Fatalf("Grouped sum failed: %v", err)
	}
	if sum.GroupLabel != "Globex" || sum.Value != 5300 {
		t.Errorf("grouped sum = %+v, want Globex 5300", sum)
	}
}

func TestNearestNeighbors(t *testing.T) {
	s := newTestStore(t)
	seedInvoices(t, s)

	got, err := s.NearestNeighbors(context.Background(), []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("NearestNeighbors failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].Invoice.ID != "1" {
		t.Errorf("nearest = %s, want invoice 1", got[0].Invoice.ID)
	}
	if got[1].Invoice.ID != "2" {
		t.Errorf("second = %s, want invoice 2", got[1].Invoice.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Errorf("distances not ascending: %v then %v", got[i-1].Distance, got[i].Distance)
		}
	}
	if got[0].Distance > 1e-6 {
		t.Errorf("identical vector distance = %v, want ~0", got[0].Distance)
	}
}

func TestNearestNeighborsEmptyVector(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.NearestNeighbors(context.Background(), nil, 5); err == nil {
		t.Error("expected error for empty query vector")
	}
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := decodeVectorBlob(encodeVectorBlob(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d floats, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVectorBlob([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for misaligned blob")
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"Identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"Orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"Opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2},
		{"ZeroVector", []float32{0, 0, 0}, []float32{1, 0, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineDistance = %v, want %v", got, tt.want)
			}
		})
	}
}
