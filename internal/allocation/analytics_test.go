package allocation

import (
	"testing"
	"time"

	"farmapos/backend/internal/domain"
)

func TestNearExpiryWindowAndOrdering(t *testing.T) {
	now, _ := time.Parse("2006-01-02", "2026-01-01")
	batches := []domain.StockBatch{
		dateBatch("far", "SKU-PARA-500", 10, "2026-06-01"),
		dateBatch("soon", "SKU-AMOX-500", 5, "2026-01-20"),
		dateBatch("sooner", "SKU-VITC-1000", 5, "2026-01-05"),
		dateBatch("expired", "SKU-OBH-60ML", 2, "2025-12-20"),
		dateBatch("empty", "SKU-PARA-500", 0, "2026-01-03"),
	}

	result := NearExpiry(batches, now, 30)
	want := []string{"expired", "sooner", "soon"}
	if len(result) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(result))
	}
	for i, id := range want {
		if result[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, result[i].ID)
		}
	}
}

func TestNearExpiryExcludesUndatedBatches(t *testing.T) {
	now, _ := time.Parse("2006-01-02", "2026-01-01")
	batches := []domain.StockBatch{
		dateBatch("never", "SKU-THERMO", 500, ""),
	}

	if result := NearExpiry(batches, now, 30); len(result) != 0 {
		t.Fatalf("undated batch must never be near-expiry, got %+v", result)
	}
}

func TestLowStockThresholdIsInclusive(t *testing.T) {
	batches := []domain.StockBatch{
		dateBatch("at-threshold", "SKU-PARA-500", 10, "2026-06-01"),
		dateBatch("below", "SKU-AMOX-500", 3, "2026-06-01"),
		dateBatch("depleted", "SKU-VITC-1000", 0, "2026-06-01"),
		dateBatch("plenty", "SKU-OBH-60ML", 11, "2026-06-01"),
	}

	result := LowStock(batches, 10)
	if len(result) != 2 {
		t.Fatalf("expected 2 low-stock batches, got %d", len(result))
	}
	if result[0].ID != "at-threshold" || result[1].ID != "below" {
		t.Fatalf("unexpected low-stock set: %+v", result)
	}
}

func TestStockValueSumsPerProductAndTotal(t *testing.T) {
	products := []domain.Product{
		{SKU: "SKU-PARA-500", UnitPriceCents: 1500, Active: true},
		{SKU: "SKU-AMOX-500", UnitPriceCents: 2500, Active: true},
		{SKU: "SKU-NOSTOCK", UnitPriceCents: 9900, Active: true},
	}
	batches := []domain.StockBatch{
		dateBatch("b1", "SKU-PARA-500", 4, "2026-06-01"),
		dateBatch("b2", "SKU-PARA-500", 6, "2026-07-01"),
		dateBatch("b3", "SKU-AMOX-500", 2, "2026-06-01"),
		dateBatch("orphan", "SKU-UNKNOWN", 99, "2026-06-01"),
	}

	valuation := StockValue(products, batches)
	if len(valuation.Products) != 3 {
		t.Fatalf("expected breakdown for every catalog product, got %d", len(valuation.Products))
	}

	byValue := map[string]domain.ProductValuation{}
	total := int64(0)
	for _, pv := range valuation.Products {
		byValue[pv.SKU] = pv
		total += pv.ValueCents
	}
	if byValue["SKU-PARA-500"].Quantity != 10 || byValue["SKU-PARA-500"].ValueCents != 15000 {
		t.Fatalf("unexpected paracetamol valuation: %+v", byValue["SKU-PARA-500"])
	}
	if byValue["SKU-AMOX-500"].ValueCents != 5000 {
		t.Fatalf("unexpected amoxicillin valuation: %+v", byValue["SKU-AMOX-500"])
	}
	if byValue["SKU-NOSTOCK"].Quantity != 0 || byValue["SKU-NOSTOCK"].ValueCents != 0 {
		t.Fatalf("product without batches must value to zero: %+v", byValue["SKU-NOSTOCK"])
	}
	if valuation.TotalCents != total {
		t.Fatalf("grand total %d does not equal breakdown sum %d", valuation.TotalCents, total)
	}
	if valuation.TotalCents != 20000 {
		t.Fatalf("expected grand total 20000, got %d", valuation.TotalCents)
	}
}
