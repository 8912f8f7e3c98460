package store

import (
	"context"
	"errors"
	"time"

	"farmapos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means a batch changed between snapshot and commit. The
	// caller retries with a fresh snapshot; the plan itself is side-effect
	// free, so retries are cheap.
	ErrConflict = errors.New("stock changed since snapshot")
)

// BatchExpectation is the optimistic-concurrency check for one batch: the
// quantity the caller observed in its snapshot. CommitSale fails with
// ErrConflict when the stored quantity no longer matches.
type BatchExpectation struct {
	BatchID  string
	Quantity int
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)

	CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	ListStockBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.StockBatch, error)
	// SnapshotStockBatches loads the sellable batches (quantity > 0, not
	// expired) for the given SKUs, in FEFO order. The snapshot is what the
	// allocation engine plans against.
	SnapshotStockBatches(ctx context.Context, storeID string, skus []string) ([]domain.StockBatch, error)

	// CommitSale applies the planned decrements and inserts the sale as one
	// atomic unit. Each expectation is checked compare-and-set style against
	// the stored batch quantity; any mismatch aborts with ErrConflict and no
	// change is persisted. A sale with an already-committed idempotency key
	// is returned as-is.
	CommitSale(ctx context.Context, sale domain.Sale, decrements []domain.StockDecrement, expected []BatchExpectation) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
