package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"invoicechat/internal/types"
)

// buildFilterClause translates filters into a WHERE clause and arguments.
// Aggregate and GroupByVendor fields do not constrain rows and are ignored.
func buildFilterClause(f types.Filters) (string, []any) {
	var conds []string
	var args []any

	if f.InvoiceNumber != "" {
		conds = append(conds, "invoice_number = ?")
		args = append(args, f.InvoiceNumber)
	}
	if f.Vendor != "" {
		conds = append(conds, "vendor LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.Vendor+"%")
	}
	if !f.DateFrom.IsZero() {
		conds = append(conds, "issue_date >= ?")
		args = append(args, f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		conds = append(conds, "issue_date <= ?")
		args = append(args, f.DateTo)
	}
	if f.AmountMin > 0 {
		conds = append(conds, "total_amount >= ?")
		args = append(args, f.AmountMin)
	}
	if f.AmountMax > 0 {
		conds = append(conds, "total_amount <= ?")
		args = append(args, f.AmountMax)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FilterQuery returns invoices matching the structured filters, newest issue
// date first with invoice number as the tiebreaker.
func (s *SQLiteStore) FilterQuery(ctx context.Context, f types.Filters, limit int) ([]types.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilterClause(f)
	query := "SELECT " + invoiceColumns + " FROM invoices" + where +
		" ORDER BY issue_date DESC, invoice_number ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter query failed: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// TextSearch returns invoices whose vendor, invoice number, or source
// filename contains the term, newest first.
func (s *SQLiteStore) TextSearch(ctx context.Context, term string, limit int) ([]types.Invoice, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + term + "%"
	query := "SELECT " + invoiceColumns + ` FROM invoices
		WHERE invoice_number LIKE ? COLLATE NOCASE
		   OR vendor LIKE ? COLLATE NOCASE
		   OR source_filename LIKE ? COLLATE NOCASE
		ORDER BY issue_date DESC, invoice_number ASC`
	args := []any{pattern, pattern, pattern}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// Aggregate computes an exact aggregate over the filtered rows in SQL.
// GroupByVendor answers "which vendor" questions by returning the top group.
func (s *SQLiteStore) Aggregate(ctx context.Context, fn types.AggregateFunc, f types.Filters) (types.AggregateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlFn, ok := aggregateSQL(fn)
	if !ok {
		return types.AggregateResult{}, fmt.Errorf("unsupported aggregate function %q", fn)
	}

	where, args := buildFilterClause(f)
	res := types.AggregateResult{Func: fn}

	if f.GroupByVendor {
		query := fmt.Sprintf(
			"SELECT vendor, %s, COUNT(*) FROM invoices%s GROUP BY vendor ORDER BY %s DESC, vendor ASC LIMIT 1",
			sqlFn, where, sqlFn)
		var value sql.NullFloat64
		err := s.db.QueryRowContext(ctx, query, args...).Scan(&res.GroupLabel, &value, &res.Count)
		if err == sql.ErrNoRows {
			return res, nil
		}
		if err != nil {
			return types.AggregateResult{}, fmt.Errorf("grouped aggregate failed: %w", err)
		}
		res.Value = value.Float64
		return res, nil
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM invoices%s", sqlFn, where)
	var value sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value, &res.Count); err != nil {
		return types.AggregateResult{}, fmt.Errorf("aggregate failed: %w", err)
	}
	res.Value = value.Float64
	return res, nil
}

func aggregateSQL(fn types.AggregateFunc) (string, bool) {
	switch fn {
	case types.AggSum:
		return "SUM(total_amount)", true
	case types.AggCount:
		return "COUNT(*)", true
	case types.AggAvg:
		return "AVG(total_amount)", true
	case types.AggMin:
		return "MIN(total_amount)", true
	case types.AggMax:
		return "MAX(total_amount)", true
	default:
		return "", false
	}
}

func collectInvoices(rows *sql.Rows) ([]types.Invoice, error) {
	var out []types.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
