package domain

import "time"

type Product struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Active         bool   `json:"active"`
}

type ProductCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Category       *string `json:"category,omitempty"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

// StockBatch is one receiving lot of a product. A nil ExpiryDate means the
// batch never expires and is consumed after every dated batch.
type StockBatch struct {
	ID         string     `json:"id"`
	StoreID    string     `json:"store_id"`
	SKU        string     `json:"sku"`
	BatchCode  string     `json:"batch_code"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	CostCents  int64      `json:"cost_cents"`
	ReceivedAt time.Time  `json:"received_at"`
}

type BatchReceiveRequest struct {
	StoreID    string `json:"store_id"`
	SKU        string `json:"sku"`
	BatchCode  string `json:"batch_code"`
	Qty        int    `json:"qty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	CostCents  int64  `json:"cost_cents"`
}

type BatchListResponse struct {
	Batches []StockBatch `json:"batches"`
}

// SaleLineRequest is one requested line of a sale. The unit price is supplied
// by the caller; the settlement engine never looks prices up.
type SaleLineRequest struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// StockDecrement carries the post-sale quantity for one batch. It is a plan,
// not an applied change; the storage layer commits it.
type StockDecrement struct {
	BatchID     string `json:"batch_id"`
	NewQuantity int    `json:"new_quantity"`
}

// Shortage reports a product whose requested quantity exceeded the total
// available stock across its batches.
type Shortage struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Shortfall int    `json:"shortfall"`
}

// SaleDraft is the planned, not-yet-persisted sale record.
type SaleDraft struct {
	TotalCents int64             `json:"total_cents"`
	Lines      []SaleLineRequest `json:"lines"`
}

const SaleStatusCompleted = "completed"

type Sale struct {
	ID             string            `json:"id"`
	StoreID        string            `json:"store_id"`
	TerminalID     string            `json:"terminal_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Status         string            `json:"status"`
	TotalCents     int64             `json:"total_cents"`
	Lines          []SaleLineRequest `json:"lines"`
	CreatedAt      time.Time         `json:"created_at"`
}

type SaleRequest struct {
	StoreID        string            `json:"store_id"`
	TerminalID     string            `json:"terminal_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Lines          []SaleLineRequest `json:"lines"`
}

type SaleResponse struct {
	OK         bool       `json:"ok"`
	SaleID     string     `json:"sale_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	TotalCents int64      `json:"total_cents,omitempty"`
	ItemCount  int        `json:"item_count,omitempty"`
	Shortages  []Shortage `json:"shortages,omitempty"`
	Duplicate  bool       `json:"duplicate"`
	CreatedAt  string     `json:"created_at,omitempty"`
}

type SaleLookupResponse struct {
	Found bool          `json:"found"`
	Sale  *SaleResponse `json:"sale,omitempty"`
}

type ProductValuation struct {
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	ValueCents int64  `json:"value_cents"`
}

type StockValuation struct {
	TotalCents int64              `json:"total_cents"`
	Products   []ProductValuation `json:"products"`
}

type NearExpiryReport struct {
	StoreID   string       `json:"store_id"`
	DaysAhead int          `json:"days_ahead"`
	Batches   []StockBatch `json:"batches"`
}

type LowStockReport struct {
	StoreID   string       `json:"store_id"`
	Threshold int          `json:"threshold"`
	Batches   []StockBatch `json:"batches"`
}

type ValuationReport struct {
	StoreID     string         `json:"store_id"`
	GeneratedAt string         `json:"generated_at"`
	Valuation   StockValuation `json:"valuation"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
