package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

// Store is an in-memory Repository used by tests and as the fallback when no
// DATABASE_URL is configured. Its CommitSale honors the same batch
// compare-and-set contract as the postgres store.
type Store struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	batches     map[string][]domain.StockBatch
	salesByID   map[string]*domain.Sale
	salesByIdem map[string]*domain.Sale
	auditLogs   []domain.AuditLog
	users       map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:    map[string]domain.Product{},
		batches:     map[string][]domain.StockBatch{"main-pharmacy": {}},
		salesByID:   map[string]*domain.Sale{},
		salesByIdem: map[string]*domain.Sale{},
		users:       map[string]domain.UserAccount{},
	}
}

// NewSeeded returns a store preloaded with a small pharmacy catalog and a
// spread of batches: soon-to-expire, far-dated, undated and low-quantity.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seedProducts := []domain.Product{
		{SKU: "SKU-PARA-500", Name: "Paracetamol 500mg", Category: "analgesic", UnitPriceCents: 1500, Active: true},
		{SKU: "SKU-AMOX-500", Name: "Amoxicillin 500mg", Category: "antibiotic", UnitPriceCents: 2500, Active: true},
		{SKU: "SKU-VITC-1000", Name: "Vitamin C 1000mg", Category: "supplement", UnitPriceCents: 4000, Active: true},
		{SKU: "SKU-OBH-60ML", Name: "Cough Syrup 60ml", Category: "cough-cold", UnitPriceCents: 3200, Active: true},
		{SKU: "SKU-THERMO", Name: "Digital Thermometer", Category: "device", UnitPriceCents: 25000, Active: true},
	}
	for _, p := range seedProducts {
		s.products[p.SKU] = p
	}

	expiry := func(days int) *time.Time {
		d := now.AddDate(0, 0, days).Truncate(24 * time.Hour)
		return &d
	}
	seedBatches := []domain.StockBatch{
		{ID: "batch-para-a", SKU: "SKU-PARA-500", BatchCode: "PARA-2603", Quantity: 40, ExpiryDate: expiry(400), CostCents: 900},
		{ID: "batch-para-b", SKU: "SKU-PARA-500", BatchCode: "PARA-2601", Quantity: 12, ExpiryDate: expiry(20), CostCents: 850},
		{ID: "batch-amox-a", SKU: "SKU-AMOX-500", BatchCode: "AMOX-2602", Quantity: 30, ExpiryDate: expiry(200), CostCents: 1600},
		{ID: "batch-vitc-a", SKU: "SKU-VITC-1000", BatchCode: "VITC-2605", Quantity: 8, ExpiryDate: expiry(90), CostCents: 2400},
		{ID: "batch-obh-a", SKU: "SKU-OBH-60ML", BatchCode: "OBH-2601", Quantity: 15, ExpiryDate: expiry(10), CostCents: 1900},
		{ID: "batch-thermo-a", SKU: "SKU-THERMO", BatchCode: "THERMO-01", Quantity: 5, CostCents: 15000},
	}
	for _, b := range seedBatches {
		b.StoreID = "main-pharmacy"
		b.ReceivedAt = now.AddDate(0, 0, -30)
		s.batches[b.StoreID] = append(s.batches[b.StoreID], b)
	}

	s.users = seedUsers()

	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category != b.Category {
			return strings.Compare(a.Category, b.Category)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidInput
	}

	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.SKU]; !ok {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, ok := s.products[sku]; ok {
			result[sku] = product
		}
	}
	return result, nil
}

func (s *Store) CreateStockBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.StoreID == "" || batch.SKU == "" || batch.Quantity < 1 || batch.CostCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[batch.SKU]; !exists {
		return nil, fmt.Errorf("sku %s unavailable", batch.SKU)
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if strings.TrimSpace(batch.BatchCode) == "" {
		batch.BatchCode = "MANUAL-" + batch.ID
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	s.batches[batch.StoreID] = append(s.batches[batch.StoreID], batch)
	created := batch
	return &created, nil
}

func (s *Store) ListStockBatches(_ context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 500
	}
	today := dateUTC(time.Now().UTC())

	result := make([]domain.StockBatch, 0, limit)
	for _, batch := range s.batches[storeID] {
		if sku != "" && batch.SKU != sku {
			continue
		}
		if !includeExpired && batch.ExpiryDate != nil && batch.ExpiryDate.Before(today) {
			continue
		}
		result = append(result, batch)
	}
	slices.SortStableFunc(result, compareBatchFEFO)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SnapshotStockBatches(_ context.Context, storeID string, skus []string) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		wanted[sku] = struct{}{}
	}
	today := dateUTC(time.Now().UTC())

	snapshot := make([]domain.StockBatch, 0, 16)
	for _, batch := range s.batches[storeID] {
		if _, ok := wanted[batch.SKU]; !ok {
			continue
		}
		if batch.Quantity < 1 {
			continue
		}
		if batch.ExpiryDate != nil && batch.ExpiryDate.Before(today) {
			continue
		}
		snapshot = append(snapshot, batch)
	}
	slices.SortStableFunc(snapshot, compareBatchFEFO)
	return snapshot, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale, decrements []domain.StockDecrement, expected []store.BatchExpectation) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		return cloneSale(existing), nil
	}

	batches, ok := s.batches[sale.StoreID]
	if !ok {
		return nil, fmt.Errorf("store %s unavailable", sale.StoreID)
	}

	index := make(map[string]int, len(batches))
	for i, batch := range batches {
		index[batch.ID] = i
	}

	// Compare-and-set: every expectation must still hold before anything is
	// written, so a concurrent commit cannot drive a batch below zero.
	for _, exp := range expected {
		i, ok := index[exp.BatchID]
		if !ok || batches[i].Quantity != exp.Quantity {
			return nil, store.ErrConflict
		}
	}

	for _, dec := range decrements {
		i, ok := index[dec.BatchID]
		if !ok {
			return nil, store.ErrConflict
		}
		newQty := dec.NewQuantity
		if newQty < 0 {
			newQty = 0
		}
		batches[i].Quantity = newQty
	}
	s.batches[sale.StoreID] = batches

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	committed := cloneSale(&sale)
	s.salesByID[sale.ID] = committed
	s.salesByIdem[sale.IdempotencyKey] = committed
	return cloneSale(committed), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrInvalidInput
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copied := *sale
	copied.Lines = make([]domain.SaleLineRequest, len(sale.Lines))
	copy(copied.Lines, sale.Lines)
	return &copied
}

// compareBatchFEFO mirrors the allocation engine's consumption order: dated
// before undated, earlier expiry first, then receipt time, then ID.
func compareBatchFEFO(a domain.StockBatch, b domain.StockBatch) int {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return 1
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return -1
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
			return c
		}
	}
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
