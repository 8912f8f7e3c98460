package allocation

import "farmapos/backend/internal/domain"

// ValidateSale plans the stock decrements for a multi-line sale against a
// batch snapshot. Lines referencing the same product are aggregated before
// planning, so a product's availability is checked once against its combined
// demand.
//
// Products that cannot be fully allocated produce a Shortage (including how
// much stock WAS available, for operator messaging) and contribute no
// decrements. The sale is valid only when the shortage list is empty; callers
// must treat a non-empty list as rejecting the entire sale.
func ValidateSale(lines []domain.SaleLineRequest, available []domain.StockBatch) (bool, []domain.Shortage, []domain.StockDecrement) {
	order := make([]string, 0, len(lines))
	demand := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			continue
		}
		if _, seen := demand[line.SKU]; !seen {
			order = append(order, line.SKU)
		}
		demand[line.SKU] += line.Qty
	}

	shortages := make([]domain.Shortage, 0)
	decrements := make([]domain.StockDecrement, 0, len(order))
	for _, sku := range order {
		requested := demand[sku]
		selections, remaining := SelectStockForProduct(sku, requested, available)
		if remaining > 0 {
			shortages = append(shortages, domain.Shortage{
				SKU:       sku,
				Requested: requested,
				Available: requested - remaining,
				Shortfall: remaining,
			})
			continue
		}
		for _, sel := range selections {
			newQty := sel.Batch.Quantity - sel.Consumed
			if newQty < 0 {
				newQty = 0
			}
			decrements = append(decrements, domain.StockDecrement{
				BatchID:     sel.Batch.ID,
				NewQuantity: newQty,
			})
		}
	}

	return len(shortages) == 0, shortages, decrements
}
