package allocation

import (
	"slices"
	"time"

	"farmapos/backend/internal/domain"
)

const (
	// DefaultNearExpiryDays is the lookahead window for near-expiry checks.
	DefaultNearExpiryDays = 30
	// DefaultLowStockThreshold is the quantity at or below which a batch
	// counts as low stock.
	DefaultLowStockThreshold = 10
)

// NearExpiry returns the batches whose expiry falls within daysAhead of now,
// soonest first. Undated batches never appear, regardless of quantity;
// already-expired batches do (they are inside the window and need action
// most). Empty batches are skipped.
func NearExpiry(batches []domain.StockBatch, now time.Time, daysAhead int) []domain.StockBatch {
	if daysAhead < 1 {
		daysAhead = DefaultNearExpiryDays
	}
	cutoff := now.Add(time.Duration(daysAhead) * 24 * time.Hour)

	result := make([]domain.StockBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Quantity < 1 || batch.ExpiryDate == nil {
			continue
		}
		if batch.ExpiryDate.After(cutoff) {
			continue
		}
		result = append(result, batch)
	}
	slices.SortStableFunc(result, compareExpiry)
	return result
}

// LowStock returns the batches with 0 < quantity <= threshold, in snapshot
// order. Empty batches are excluded; they are depletion, not low stock.
func LowStock(batches []domain.StockBatch, threshold int) []domain.StockBatch {
	if threshold < 1 {
		threshold = DefaultLowStockThreshold
	}

	result := make([]domain.StockBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Quantity > 0 && batch.Quantity <= threshold {
			result = append(result, batch)
		}
	}
	return result
}

// StockValue sums batch quantities per product and prices them at the
// product's unit price. Every catalog product gets a breakdown entry, even at
// zero quantity; batches referencing unknown products are ignored.
func StockValue(products []domain.Product, batches []domain.StockBatch) domain.StockValuation {
	qtyBySKU := make(map[string]int, len(products))
	for _, batch := range batches {
		qtyBySKU[batch.SKU] += batch.Quantity
	}

	valuation := domain.StockValuation{
		Products: make([]domain.ProductValuation, 0, len(products)),
	}
	for _, product := range products {
		qty := qtyBySKU[product.SKU]
		value := int64(qty) * product.UnitPriceCents
		valuation.Products = append(valuation.Products, domain.ProductValuation{
			SKU:        product.SKU,
			Quantity:   qty,
			ValueCents: value,
		})
		valuation.TotalCents += value
	}
	return valuation
}
