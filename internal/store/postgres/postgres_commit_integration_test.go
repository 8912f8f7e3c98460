package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
)

func TestCommitSaleCompareAndSet(t *testing.T) {
	databaseURL := os.Getenv("FARMAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FARMAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-CAS-IT-%d", stamp)
	batchID := fmt.Sprintf("batch-cas-it-%d", stamp)
	saleID := fmt.Sprintf("sale-cas-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-cas-it-%d", stamp)
	storeID := "main-pharmacy"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_batches WHERE id = $1`, batchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, unit_price_cents, active)
		VALUES ($1, 'Integration Test Tablet', 'analgesic', 1500, true)
	`, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_batches (id, store_id, sku, batch_code, quantity, expiry_date, cost_cents, received_at)
		VALUES ($1, $2, $3, 'CAS-IT-01', 10, CURRENT_DATE + 90, 900, now())
	`, batchID, storeID, sku); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	sale := domain.Sale{
		ID:             saleID,
		StoreID:        storeID,
		TerminalID:     "terminal-it",
		IdempotencyKey: idempotencyKey,
		TotalCents:     3000,
		Lines:          []domain.SaleLineRequest{{SKU: sku, Qty: 2, UnitPriceCents: 1500}},
	}
	decrements := []domain.StockDecrement{{BatchID: batchID, NewQuantity: 8}}
	expected := []store.BatchExpectation{{BatchID: batchID, Quantity: 10}}

	committed, err := s.CommitSale(ctx, sale, decrements, expected)
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if committed.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed status, got %s", committed.Status)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_batches WHERE id = $1
	`, batchID).Scan(&qty); err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected quantity 8 after commit, got %d", qty)
	}

	// A commit against the original snapshot quantity must now conflict.
	stale := domain.Sale{
		ID:             saleID + "-stale",
		StoreID:        storeID,
		TerminalID:     "terminal-it",
		IdempotencyKey: idempotencyKey + "-stale",
		TotalCents:     1500,
		Lines:          []domain.SaleLineRequest{{SKU: sku, Qty: 1, UnitPriceCents: 1500}},
	}
	_, err = s.CommitSale(ctx, stale, []domain.StockDecrement{{BatchID: batchID, NewQuantity: 9}}, expected)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale expectation, got %v", err)
	}

	// Replay of the original idempotency key returns the committed sale
	// without decrementing again.
	replay, err := s.CommitSale(ctx, sale, decrements, expected)
	if err != nil {
		t.Fatalf("replay commit: %v", err)
	}
	if replay.ID != saleID {
		t.Fatalf("expected replay to return original sale, got %s", replay.ID)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_batches WHERE id = $1
	`, batchID).Scan(&qty); err != nil {
		t.Fatalf("query batch after replay: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected quantity unchanged at 8 after replay, got %d", qty)
	}
}
