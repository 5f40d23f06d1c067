package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"invoicechat/internal/types"
)

// SQLiteStore implements RecordStore on a local SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec vec0 virtual table available
	vectorDim int
	logger    *zap.Logger
}

var _ RecordStore = (*SQLiteStore)(nil)

// Open initializes the SQLite database at the given path. vectorDim sizes
// the vec0 index and must match the embedding engine's dimensionality.
func Open(path string, vectorDim int, logger *zap.Logger) (*SQLiteStore, error) {
	if vectorDim <= 0 {
		vectorDim = 768
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set sqlite synchronous=NORMAL", zap.Error(err))
	}

	s := &SQLiteStore{db: db, dbPath: path, vectorDim: vectorDim, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		if err := s.initVecTable(); err != nil {
			logger.Warn("failed to create vec0 index, continuing with brute-force search", zap.Error(err))
			s.vectorExt = false
		} else if err := s.backfillVecIndex(); err != nil {
			logger.Warn("failed to backfill vec0 index", zap.Error(err))
		}
	} else {
		logger.Warn("sqlite-vec not available; similarity search uses brute-force cosine scan")
	}

	logger.Info("record store opened",
		zap.String("path", path),
		zap.String("driver", driverName),
		zap.Bool("vector_index", s.vectorExt))
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL,
		vendor TEXT NOT NULL,
		issue_date DATETIME NOT NULL,
		due_date DATETIME,
		total_amount REAL NOT NULL,
		currency TEXT DEFAULT 'USD',
		status TEXT DEFAULT 'pending',
		source_filename TEXT,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor);
	CREATE INDEX IF NOT EXISTS idx_invoices_issue_date ON invoices(issue_date);
	CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// detectVecExtension probes for vec0 virtual table support.
func (s *SQLiteStore) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

func (s *SQLiteStore) initVecTable() error {
	stmt := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_invoices USING vec0(
		embedding float[%d],
		invoice_id TEXT
	);`, s.vectorDim)
	_, err := s.db.Exec(stmt)
	return err
}

// backfillVecIndex repopulates the vec0 table from stored embeddings. The
// compat vec0 module keeps rows in memory only, so every start reindexes.
func (s *SQLiteStore) backfillVecIndex() error {
	var indexed int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM vec_invoices").Scan(&indexed); err != nil {
		return err
	}
	if indexed > 0 {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO vec_invoices (embedding, invoice_id)
		SELECT embedding, id FROM invoices WHERE embedding IS NOT NULL`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// VectorIndexAvailable reports whether the vec0 index is in use.
func (s *SQLiteStore) VectorIndexAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorExt
}

// Count returns the number of stored invoices.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices").Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// Upsert stores an invoice with an optional embedding. Fixture/seed path
// only; the engine never writes.
func (s *SQLiteStore) Upsert(ctx context.Context, inv types.Invoice, embedding []float32) error {
	if inv.ID == "" {
		return fmt.Errorf("invoice id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	if len(embedding) > 0 {
		blob = encodeVectorBlob(embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices
			(id, invoice_number, vendor, issue_date, due_date, total_amount, currency, status, source_filename, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			vendor = excluded.vendor,
			issue_date = excluded.issue_date,
			due_date = excluded.due_date,
			total_amount = excluded.total_amount,
			currency = excluded.currency,
			status = excluded.status,
			source_filename = excluded.source_filename,
			embedding = excluded.embedding
	`, inv.ID, inv.InvoiceNumber, inv.Vendor, inv.IssueDate, inv.DueDate,
		inv.TotalAmount, inv.Currency, inv.Status, inv.SourceFilename, blob)
	if err != nil {
		return fmt.Errorf("failed to upsert invoice: %w", err)
	}

	if s.vectorExt && blob != nil {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO vec_invoices (embedding, invoice_id) VALUES (?, ?)
		`, blob, inv.ID); err != nil {
			// Non-fatal: brute-force search still covers this row.
			s.logger.Warn("failed to index embedding in vec0 table", zap.String("id", inv.ID), zap.Error(err))
		}
	}
	return nil
}

const invoiceColumns = "id, invoice_number, vendor, issue_date, due_date, total_amount, currency, status, source_filename"

func scanInvoice(rows *sql.Rows) (types.Invoice, error) {
	var inv types.Invoice
	var dueDate sql.NullTime
	var currency, status, filename sql.NullString
	err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.Vendor, &inv.IssueDate,
		&dueDate, &inv.TotalAmount, &currency, &status, &filename)
	if err != nil {
		return types.Invoice{}, err
	}
	if dueDate.Valid {
		inv.DueDate = dueDate.Time
	}
	inv.Currency = currency.String
	inv.Status = status.String
	inv.SourceFilename = filename.String
	return inv, nil
}
