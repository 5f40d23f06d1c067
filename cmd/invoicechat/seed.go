package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoicechat/internal/types"
)

// embedBatchSize bounds one embedding request.
const embedBatchSize = 32

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var invoices []types.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(invoices) == 0 {
		return fmt.Errorf("seed file contains no invoices")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	embedded := 0
	for start := 0; start < len(invoices); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(invoices) {
			end = len(invoices)
		}
		batch := invoices[start:end]

		var vectors [][]float32
		if a.embedder != nil {
			texts := make([]string, len(batch))
			for i, inv := range batch {
				texts[i] = embeddingText(inv)
			}
			vectors, err = a.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				// Records remain searchable by filters and text without vectors.
				logger.Warn("embedding batch failed, storing without vectors", zap.Error(err))
				vectors = nil
			}
		}

		for i, inv := range batch {
			var vec []float32
			if vectors != nil {
				vec = vectors[i]
				embedded++
			}
			if err := a.store.Upsert(ctx, inv, vec); err != nil {
				return fmt.Errorf("failed to store invoice %s: %w", inv.ID, err)
			}
		}
	}

	fmt.Printf("Stored %d invoices (%d with embeddings).\n", len(invoices), embedded)
	return nil
}

// embeddingText is the canonical text form of an invoice for similarity
// search. Field order is stable so re-seeding produces identical vectors.
func embeddingText(inv types.Invoice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s from %s", inv.InvoiceNumber, inv.Vendor)
	if !inv.IssueDate.IsZero() {
		fmt.Fprintf(&b, " issued %s", inv.IssueDate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, " for %s %.2f", inv.Currency, inv.TotalAmount)
	if inv.Status != "" {
		fmt.Fprintf(&b, " status %s", inv.Status)
	}
	if inv.SourceFilename != "" {
		fmt.Fprintf(&b, " file %s", inv.SourceFilename)
	}
	return b.String()
}
