package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, unit_price_cents, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.UnitPriceCents, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, unit_price_cents, active)
		VALUES ($1, $2, $3, $4, $5)
	`, product.SKU, product.Name, product.Category, product.UnitPriceCents, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, category, unit_price_cents, active
		FROM products
		WHERE sku = $1
	`, sku).Scan(&p.SKU, &p.Name, &p.Category, &p.UnitPriceCents, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit_price_cents = $4, active = $5
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.UnitPriceCents, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, unit_price_cents, active
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.UnitPriceCents, &p.Active); err != nil {
			return nil, err
		}
		products[p.SKU] = p
	}
	return products, rows.Err()
}

func (s *Store) CreateStockBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	var expiry sql.NullTime
	if batch.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *batch.ExpiryDate, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_batches (id, store_id, sku, batch_code, quantity, expiry_date, cost_cents, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, batch.ID, batch.StoreID, batch.SKU, batch.BatchCode, batch.Quantity, expiry, batch.CostCents, batch.ReceivedAt)
	if err != nil {
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) ListStockBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.StockBatch, error) {
	if limit < 1 {
		limit = 500
	}

	query := `
		SELECT id, store_id, sku, batch_code, quantity, expiry_date, cost_cents, received_at
		FROM stock_batches
		WHERE store_id = $1
		  AND ($2 = '' OR sku = $2)
		  AND ($3 OR expiry_date IS NULL OR expiry_date >= CURRENT_DATE)
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, storeID, sku, includeExpired, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func (s *Store) SnapshotStockBatches(ctx context.Context, storeID string, skus []string) ([]domain.StockBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, sku, batch_code, quantity, expiry_date, cost_cents, received_at
		FROM stock_batches
		WHERE store_id = $1
		  AND sku = ANY($2)
		  AND quantity > 0
		  AND (expiry_date IS NULL OR expiry_date >= CURRENT_DATE)
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
	`, storeID, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

// CommitSale applies the planned decrements and inserts the sale in a single
// serializable transaction. Each batch update is compare-and-set on the
// snapshot quantity; a zero-row update means a concurrent sale got there
// first and the whole commit rolls back with ErrConflict.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, decrements []domain.StockDecrement, expected []store.BatchExpectation) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if existing, err := findSaleTx(ctx, tx, `idempotency_key = $1`, sale.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	snapshotQty := make(map[string]int, len(expected))
	for _, exp := range expected {
		snapshotQty[exp.BatchID] = exp.Quantity
	}

	for _, dec := range decrements {
		expectedQty, ok := snapshotQty[dec.BatchID]
		if !ok {
			return nil, store.ErrConflict
		}
		newQty := dec.NewQuantity
		if newQty < 0 {
			newQty = 0
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE stock_batches
			SET quantity = $2
			WHERE id = $1 AND quantity = $3
		`, dec.BatchID, newQty, expectedQty)
		if err != nil {
			return nil, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrConflict
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, store_id, terminal_id, idempotency_key, status, total_cents, lines, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sale.ID, sale.StoreID, sale.TerminalID, sale.IdempotencyKey, sale.Status, sale.TotalCents, lines, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	committed := sale
	return &committed, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return findSaleTx(ctx, s.db, `id = $1`, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return findSaleTx(ctx, s.db, `idempotency_key = $1`, key)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if password == "" {
		return store.ErrInvalidInput
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findSaleTx(ctx context.Context, q querier, where string, arg any) (*domain.Sale, error) {
	var sale domain.Sale
	var lines []byte
	err := q.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, idempotency_key, status, total_cents, lines, created_at
		FROM sales
		WHERE `+where+`
	`, arg).Scan(&sale.ID, &sale.StoreID, &sale.TerminalID, &sale.IdempotencyKey, &sale.Status, &sale.TotalCents, &lines, &sale.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return nil, err
	}
	return &sale, nil
}

func scanBatches(rows *sql.Rows) ([]domain.StockBatch, error) {
	batches := make([]domain.StockBatch, 0, 16)
	for rows.Next() {
		var batch domain.StockBatch
		var expiry sql.NullTime
		if err := rows.Scan(&batch.ID, &batch.StoreID, &batch.SKU, &batch.BatchCode, &batch.Quantity, &expiry, &batch.CostCents, &batch.ReceivedAt); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			batch.ExpiryDate = &e
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
