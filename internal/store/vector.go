package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"invoicechat/internal/types"
)

// NearestNeighbors returns up to k invoices ranked by ascending cosine
// distance from the query vector, invoice number breaking ties. Uses the
// vec0 index when available, otherwise a brute-force scan.
func (s *SQLiteStore) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]ScoredInvoice, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = types.MaxResults
	}
	if k > types.MaxResults {
		k = types.MaxResults
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		results, err := s.knnVec(ctx, vector, k)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("vec0 search failed, falling back to brute-force scan", zap.Error(err))
	}
	return s.knnBruteForce(ctx, vector, k)
}

func (s *SQLiteStore) knnVec(ctx context.Context, vector []float32, k int) ([]ScoredInvoice, error) {
	blob := encodeVectorBlob(vector)
	query := `
		SELECT ` + prefixColumns("i") + `, vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_invoices v
		JOIN invoices i ON i.id = v.invoice_id
		ORDER BY distance ASC, i.invoice_number ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, blob, k)
	if err != nil {
		return nil, fmt.Errorf("vec0 query failed: %w", err)
	}
	defer rows.Close()

	var out []ScoredInvoice
	for rows.Next() {
		sc, err := scanScoredInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) knnBruteForce(ctx context.Context, vector []float32, k int) ([]ScoredInvoice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+invoiceColumns+", embedding FROM invoices WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}
	defer rows.Close()

	var out []ScoredInvoice
	for rows.Next() {
		sc, blob, err := scanScoredInvoiceBlob(rows)
		if err != nil {
			return nil, err
		}
		stored, err := decodeVectorBlob(blob)
		if err != nil || len(stored) != len(vector) {
			continue
		}
		sc.Distance = cosineDistance(vector, stored)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Invoice.InvoiceNumber < out[j].Invoice.InvoiceNumber
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func prefixColumns(alias string) string {
	return alias + ".id, " + alias + ".invoice_number, " + alias + ".vendor, " +
		alias + ".issue_date, " + alias + ".due_date, " + alias + ".total_amount, " +
		alias + ".currency, " + alias + ".status, " + alias + ".source_filename"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScoredInvoice(rows rowScanner) (ScoredInvoice, error) {
	var sc ScoredInvoice
	var dueDate sql.NullTime
	var currency, status, filename sql.NullString
	err := rows.Scan(&sc.Invoice.ID, &sc.Invoice.InvoiceNumber, &sc.Invoice.Vendor,
		&sc.Invoice.IssueDate, &dueDate, &sc.Invoice.TotalAmount,
		&currency, &status, &filename, &sc.Distance)
	if err != nil {
		return ScoredInvoice{}, fmt.Errorf("failed to scan scored invoice: %w", err)
	}
	if dueDate.Valid {
		sc.Invoice.DueDate = dueDate.Time
	}
	sc.Invoice.Currency = currency.String
	sc.Invoice.Status = status.String
	sc.Invoice.SourceFilename = filename.String
	return sc, nil
}

func scanScoredInvoiceBlob(rows rowScanner) (ScoredInvoice, []byte, error) {
	var sc ScoredInvoice
	var blob []byte
	var dueDate sql.NullTime
	var currency, status, filename sql.NullString
	err := rows.Scan(&sc.Invoice.ID, &sc.Invoice.InvoiceNumber, &sc.Invoice.Vendor,
		&sc.Invoice.IssueDate, &dueDate, &sc.Invoice.TotalAmount,
		&currency, &status, &filename, &blob)
	if err != nil {
		return ScoredInvoice{}, nil, fmt.Errorf("failed to scan invoice embedding: %w", err)
	}
	if dueDate.Valid {
		sc.Invoice.DueDate = dueDate.Time
	}
	sc.Invoice.Currency = currency.String
	sc.Invoice.Status = status.String
	sc.Invoice.SourceFilename = filename.String
	return sc, blob, nil
}

// =============================================================================
// VECTOR ENCODING
// =============================================================================

// encodeVectorBlob serializes a float32 vector as little-endian bytes, the
// layout sqlite-vec expects for float[] columns.
func encodeVectorBlob(v []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeVectorBlob(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
