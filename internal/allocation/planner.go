// Package allocation plans how a sale is satisfied from expiring stock
// batches. Every function is pure: callers pass a consistent snapshot of
// batches, get back value copies, and remain responsible for committing the
// resulting decrements atomically.
package allocation

import (
	"slices"

	"farmapos/backend/internal/domain"
)

// BatchSelection pairs a batch from the snapshot with the quantity the plan
// consumes from it.
type BatchSelection struct {
	Batch    domain.StockBatch `json:"batch"`
	Consumed int               `json:"consumed"`
}

// SelectStockForProduct picks the batches that satisfy a request for one
// product, earliest expiry first (FEFO). Batches without an expiry date are
// consumed last; equal expiries keep their snapshot order.
//
// The second return value is the unconsumed remainder: 0 means the request is
// fully satisfied, anything above 0 is a shortage of that size. The input
// slice is never modified.
func SelectStockForProduct(sku string, requested int, available []domain.StockBatch) ([]BatchSelection, int) {
	if requested < 1 {
		return nil, 0
	}

	candidates := make([]domain.StockBatch, 0, len(available))
	for _, batch := range available {
		if batch.SKU == sku && batch.Quantity > 0 {
			candidates = append(candidates, batch)
		}
	}
	slices.SortStableFunc(candidates, compareExpiry)

	selected := make([]BatchSelection, 0, len(candidates))
	remaining := requested
	for _, batch := range candidates {
		if remaining == 0 {
			break
		}
		consumed := batch.Quantity
		if consumed > remaining {
			consumed = remaining
		}
		selected = append(selected, BatchSelection{Batch: batch, Consumed: consumed})
		remaining -= consumed
	}

	return selected, remaining
}

// compareExpiry orders batches for FEFO consumption: dated batches before
// undated ones, earlier dates first. It reports ties as equal so that a
// stable sort preserves snapshot order.
func compareExpiry(a domain.StockBatch, b domain.StockBatch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate == nil:
		return 0
	case a.ExpiryDate == nil:
		return 1
	case b.ExpiryDate == nil:
		return -1
	}
	return a.ExpiryDate.Compare(*b.ExpiryDate)
}
