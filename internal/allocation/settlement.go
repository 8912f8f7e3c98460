package allocation

import "farmapos/backend/internal/domain"

// Result is the outcome of settling a sale against a stock snapshot. Failures
// are data, never errors: a rejected sale carries its shortages and nothing
// else.
type Result struct {
	OK         bool                    `json:"ok"`
	Shortages  []domain.Shortage       `json:"shortages,omitempty"`
	Draft      domain.SaleDraft        `json:"draft,omitempty"`
	Decrements []domain.StockDecrement `json:"decrements,omitempty"`
}

// ProcessSale turns a sale request into a committable plan: a sale draft plus
// the batch decrements it implies. The sale is all-or-nothing; any product
// shortage rejects every line.
//
// The draft total is computed over the requested lines (caller-supplied
// prices), not over the allocated batches. Persisting the draft and applying
// the decrements as one atomic unit is the caller's job.
func ProcessSale(lines []domain.SaleLineRequest, available []domain.StockBatch) Result {
	valid, shortages, decrements := ValidateSale(lines, available)
	if !valid {
		return Result{Shortages: shortages}
	}

	total := int64(0)
	draftLines := make([]domain.SaleLineRequest, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			continue
		}
		total += int64(line.Qty) * line.UnitPriceCents
		draftLines = append(draftLines, line)
	}

	return Result{
		OK:         true,
		Draft:      domain.SaleDraft{TotalCents: total, Lines: draftLines},
		Decrements: decrements,
	}
}
