package types

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFiltersEmptyAndIdentifying(t *testing.T) {
	var f Filters
	if !f.Empty() {
		t.Error("zero Filters should be empty")
	}
	if f.Identifying() {
		t.Error("zero Filters should not identify records")
	}

	f.Status = StatusPaid
	if f.Empty() {
		t.Error("Filters with status should not be empty")
	}
	if f.Identifying() {
		t.Error("status alone does not identify records")
	}

	f.Vendor = "Acme"
	if !f.Identifying() {
		t.Error("vendor should identify records")
	}

	dateOnly := Filters{DateFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if !dateOnly.Identifying() {
		t.Error("date range should identify records")
	}
}

func TestFiltersUnconstrained(t *testing.T) {
	// An aggregate over the whole corpus names a computation but matches
	// everything; follow-up resolution keys on Unconstrained, not Empty.
	agg := Filters{Aggregate: AggSum}
	if !agg.Unconstrained() {
		t.Error("aggregate func alone should leave the filters unconstrained")
	}
	if agg.Empty() {
		t.Error("aggregate func alone should not be empty")
	}

	grouped := Filters{Aggregate: AggCount, GroupByVendor: true}
	if !grouped.Unconstrained() {
		t.Error("grouped aggregate alone should leave the filters unconstrained")
	}

	if (Filters{Vendor: "Acme"}).Unconstrained() {
		t.Error("vendor constrains the matched set")
	}
	if (Filters{AmountMax: 500}).Unconstrained() {
		t.Error("amount bound constrains the matched set")
	}
}

func TestFiltersMerge(t *testing.T) {
	prior := Filters{
		Vendor:    "Acme Corp",
		DateFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AmountMin: 100,
		Status:    StatusPending,
	}

	got := Filters{Status: StatusPaid, Aggregate: AggSum}.Merge(prior)
	want := Filters{
		Vendor:    "Acme Corp",
		DateFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AmountMin: 100,
		Status:    StatusPaid,
		Aggregate: AggSum,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}

	// Merging into an empty filter set inherits everything mergeable.
	inherited := Filters{}.Merge(prior)
	if inherited.Vendor != "Acme Corp" || inherited.Status != StatusPending {
		t.Errorf("empty merge = %+v, want prior fields carried over", inherited)
	}
	if inherited.Aggregate != "" {
		t.Error("aggregate function must not carry over from a prior intent")
	}
}

func TestFiltersDescribe(t *testing.T) {
	tests := []struct {
		name string
		f    Filters
		want string
	}{
		{"Empty", Filters{}, "your query"},
		{"Vendor", Filters{Vendor: "Acme"}, "vendor Acme"},
		{
			"Combined",
			Filters{Vendor: "Acme", Status: StatusOverdue, DateFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			"vendor Acme, from 2026-01-01, status overdue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Describe(); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetrievalResultTruncate(t *testing.T) {
	r := RetrievalResult{Invoices: make([]Invoice, MaxResults+7)}
	r.Truncate()
	if len(r.Invoices) != MaxResults {
		t.Errorf("len = %d, want %d", len(r.Invoices), MaxResults)
	}
	if !r.HasMore {
		t.Error("HasMore should be set after truncation")
	}

	exact := RetrievalResult{Invoices: make([]Invoice, MaxResults)}
	exact.Truncate()
	if exact.HasMore {
		t.Error("an exact-cap result is not truncated")
	}
}

func TestRetrievalResultEmpty(t *testing.T) {
	var nilRes *RetrievalResult
	if !nilRes.Empty() {
		t.Error("nil result should be empty")
	}
	withAgg := RetrievalResult{Aggregate: &AggregateResult{Func: AggCount}}
	if withAgg.Empty() {
		t.Error("result with aggregate should not be empty")
	}
}

func TestErrorKindOf(t *testing.T) {
	err := NewError(KindServiceUnavailable, "backend down", errors.New("dial tcp"))
	if KindOf(err) != KindServiceUnavailable {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindServiceUnavailable)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}

	rl := RateLimited(42 * time.Second)
	if rl.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %v, want 42s", rl.RetryAfter)
	}
	if want := "too many requests; try again in 42 seconds"; rl.Message != want {
		t.Errorf("Message = %q, want %q", rl.Message, want)
	}
}
