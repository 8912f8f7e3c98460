package cache

import (
	"context"
	"time"

	"farmapos/backend/internal/domain"
)

// ReportCache holds computed stock valuation reports. Valuation scans every
// batch and product, so dashboards hitting it on refresh are served from
// cache instead.
type ReportCache interface {
	GetValuation(ctx context.Context, key string) (*domain.ValuationReport, bool, error)
	SetValuation(ctx context.Context, key string, report *domain.ValuationReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) GetValuation(_ context.Context, _ string) (*domain.ValuationReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) SetValuation(_ context.Context, _ string, _ *domain.ValuationReport, _ time.Duration) error {
	return nil
}
