package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"farmapos/backend/internal/allocation"
	"farmapos/backend/internal/cache"
	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// maxCommitAttempts bounds the snapshot-plan-commit retry loop when
// concurrent sales keep invalidating the snapshot.
const maxCommitAttempts = 3

type Service struct {
	repo           store.Repository
	reports        cache.ReportCache
	reportTTL      time.Duration
	defaultStoreID string
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration, defaultStoreID string) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-pharmacy"
	}
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 30 * time.Second
	}

	return &Service{
		repo:           repo,
		reports:        reports,
		reportTTL:      reportTTL,
		defaultStoreID: defaultStoreID,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.UnitPriceCents < 1 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		SKU:            req.SKU,
		Name:           req.Name,
		Category:       req.Category,
		UnitPriceCents: req.UnitPriceCents,
		Active:         true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d", created.Name, created.UnitPriceCents))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.UnitPriceCents != nil {
		if *req.UnitPriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.UnitPriceCents = *req.UnitPriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%d", saved.Active, saved.UnitPriceCents))
	return *saved, nil
}

func (s *Service) ReceiveStockBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.StockBatch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.StockBatch{}, fmt.Errorf("admin role required")
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.BatchCode = strings.TrimSpace(req.BatchCode)
	if req.SKU == "" || req.Qty < 1 || req.CostCents < 1 {
		return domain.StockBatch{}, store.ErrInvalidInput
	}

	var expiryDate *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return domain.StockBatch{}, store.ErrInvalidInput
		}
		exp := parsed.UTC()
		expiryDate = &exp
	}

	batch, err := s.repo.CreateStockBatch(ctx, domain.StockBatch{
		ID:         xid.New("batch"),
		StoreID:    req.StoreID,
		SKU:        req.SKU,
		BatchCode:  req.BatchCode,
		Quantity:   req.Qty,
		ExpiryDate: expiryDate,
		CostCents:  req.CostCents,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.StockBatch{}, err
	}

	s.logAudit(ctx, req.StoreID, "batch_receive", "stock_batch", batch.ID, fmt.Sprintf("sku=%s,qty=%d,expiry=%s", batch.SKU, batch.Quantity, req.ExpiryDate))
	return *batch, nil
}

func (s *Service) ListStockBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) (domain.BatchListResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	batches, err := s.repo.ListStockBatches(ctx, storeID, strings.ToUpper(strings.TrimSpace(sku)), includeExpired, limit)
	if err != nil {
		return domain.BatchListResponse{}, err
	}
	return domain.BatchListResponse{Batches: batches}, nil
}

// Sell settles a sale request: load a batch snapshot, plan allocation and
// decrements through the engine, then commit plan plus sale record as one
// atomic unit. A commit conflict (stock changed under us) restarts from a
// fresh snapshot; planning is pure, so the retry is safe.
//
// Shortages are not errors. They come back inside the response with OK=false
// and the per-product shortfall list, and nothing is persisted.
func (s *Service) Sell(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if req.TerminalID == "" {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	lines := make([]domain.SaleLineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		line.SKU = strings.ToUpper(strings.TrimSpace(line.SKU))
		if line.SKU == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			return domain.SaleResponse{}, store.ErrInvalidInput
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toSaleResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	skus := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.SKU]; ok {
			continue
		}
		seen[line.SKU] = struct{}{}
		skus = append(skus, line.SKU)
	}

	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	for _, sku := range skus {
		product, exists := products[sku]
		if !exists || !product.Active {
			return domain.SaleResponse{}, fmt.Errorf("sku %s unavailable: %w", sku, store.ErrInvalidInput)
		}
	}

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		snapshot, err := s.repo.SnapshotStockBatches(ctx, req.StoreID, skus)
		if err != nil {
			return domain.SaleResponse{}, err
		}

		result := allocation.ProcessSale(lines, snapshot)
		if !result.OK {
			return domain.SaleResponse{Shortages: result.Shortages}, nil
		}

		snapshotQty := make(map[string]int, len(snapshot))
		for _, batch := range snapshot {
			snapshotQty[batch.ID] = batch.Quantity
		}
		expected := make([]store.BatchExpectation, 0, len(result.Decrements))
		for _, dec := range result.Decrements {
			expected = append(expected, store.BatchExpectation{
				BatchID:  dec.BatchID,
				Quantity: snapshotQty[dec.BatchID],
			})
		}

		sale := domain.Sale{
			ID:             xid.New("sale"),
			StoreID:        req.StoreID,
			TerminalID:     req.TerminalID,
			IdempotencyKey: req.IdempotencyKey,
			Status:         domain.SaleStatusCompleted,
			TotalCents:     result.Draft.TotalCents,
			Lines:          result.Draft.Lines,
			CreatedAt:      time.Now().UTC(),
		}

		committed, err := s.repo.CommitSale(ctx, sale, result.Decrements, expected)
		if errors.Is(err, store.ErrConflict) {
			log.Printf("[service] sale commit conflict, retrying (attempt %d/%d)", attempt, maxCommitAttempts)
			continue
		}
		if err != nil {
			return domain.SaleResponse{}, err
		}

		duplicate := committed.ID != sale.ID
		if !duplicate {
			s.logAudit(ctx, req.StoreID, "sale_commit", "sale", committed.ID, fmt.Sprintf("total=%d,lines=%d,batches=%d", committed.TotalCents, len(committed.Lines), len(result.Decrements)))
		}
		return toSaleResponse(committed, duplicate), nil
	}

	return domain.SaleResponse{}, fmt.Errorf("sale commit conflicted %d times: %w", maxCommitAttempts, store.ErrConflict)
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, store.ErrInvalidInput
	}
	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return toSaleResponse(sale, false), nil
}

func (s *Service) LookupSaleByIdempotency(ctx context.Context, key string) (domain.SaleLookupResponse, error) {
	if key == "" {
		return domain.SaleLookupResponse{}, store.ErrInvalidInput
	}

	sale, err := s.repo.FindSaleByIdempotency(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLookupResponse{Found: false}, nil
		}
		return domain.SaleLookupResponse{}, err
	}
	resp := toSaleResponse(sale, false)
	return domain.SaleLookupResponse{Found: true, Sale: &resp}, nil
}

func (s *Service) NearExpiryReport(ctx context.Context, storeID string, daysAhead int) (domain.NearExpiryReport, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if daysAhead < 1 {
		daysAhead = allocation.DefaultNearExpiryDays
	}

	batches, err := s.repo.ListStockBatches(ctx, storeID, "", true, 0)
	if err != nil {
		return domain.NearExpiryReport{}, err
	}

	return domain.NearExpiryReport{
		StoreID:   storeID,
		DaysAhead: daysAhead,
		Batches:   allocation.NearExpiry(batches, time.Now().UTC(), daysAhead),
	}, nil
}

func (s *Service) LowStockReport(ctx context.Context, storeID string, threshold int) (domain.LowStockReport, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if threshold < 1 {
		threshold = allocation.DefaultLowStockThreshold
	}

	batches, err := s.repo.ListStockBatches(ctx, storeID, "", false, 0)
	if err != nil {
		return domain.LowStockReport{}, err
	}

	return domain.LowStockReport{
		StoreID:   storeID,
		Threshold: threshold,
		Batches:   allocation.LowStock(batches, threshold),
	}, nil
}

func (s *Service) ValuationReport(ctx context.Context, storeID string) (domain.ValuationReport, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	cacheKey := "report:valuation:" + storeID
	if cached, hit, err := s.reports.GetValuation(ctx, cacheKey); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: report cache read failed key=%s: %v", cacheKey, err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ValuationReport{}, err
	}
	batches, err := s.repo.ListStockBatches(ctx, storeID, "", false, 0)
	if err != nil {
		return domain.ValuationReport{}, err
	}

	report := domain.ValuationReport{
		StoreID:     storeID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Valuation:   allocation.StockValue(products, batches),
	}

	if err := s.reports.SetValuation(ctx, cacheKey, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache write failed key=%s: %v", cacheKey, err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func toSaleResponse(sale *domain.Sale, duplicate bool) domain.SaleResponse {
	itemCount := 0
	for _, line := range sale.Lines {
		itemCount += line.Qty
	}

	return domain.SaleResponse{
		OK:         true,
		SaleID:     sale.ID,
		Status:     sale.Status,
		TotalCents: sale.TotalCents,
		ItemCount:  itemCount,
		Duplicate:  duplicate,
		CreatedAt:  sale.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
