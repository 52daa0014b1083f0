package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

const mysqlDuplicateEntry = 1062

// MySQLInventory keeps stock counters in the inventory table. Reservations
// are single conditional UPDATEs, so InnoDB row locks serialize them.
type MySQLInventory struct {
	db *sql.DB
}

var _ port.InventoryStore = (*MySQLInventory)(nil)

func NewMySQLInventory(db *sql.DB) *MySQLInventory {
	return &MySQLInventory{db: db}
}

func (m *MySQLInventory) TryReserve(ctx context.Context, storeID, productID string, quantity int) (port.ReserveResult, error) {
	if quantity < 1 {
		return port.ReserveResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = stock - ?, version = version + 1, updated_at = ?
		WHERE store_id = ? AND product_id = ? AND stock >= ?`,
		quantity, time.Now().UTC(), storeID, productID, quantity,
	)
	if err != nil {
		return port.ReserveResult{}, mysqlErr("reserve stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return port.ReserveResult{}, mysqlErr("reserve stock", err)
	}
	if rows == 1 {
		return port.ReserveResult{Reserved: true}, nil
	}

	available, err := m.Peek(ctx, storeID, productID)
	if err != nil {
		return port.ReserveResult{}, err
	}
	return port.ReserveResult{Reserved: false, Available: available}, nil
}

func (m *MySQLInventory) Release(ctx context.Context, storeID, productID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (store_id, product_id, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON DUPLICATE KEY UPDATE stock = stock + ?, version = version + 1, updated_at = ?`,
		storeID, productID, quantity, now, now, quantity, now,
	)
	if err != nil {
		return mysqlErr("release stock", err)
	}
	return nil
}

func (m *MySQLInventory) Peek(ctx context.Context, storeID, productID string) (int, error) {
	inv, err := m.GetInventory(ctx, storeID, productID)
	if err != nil {
		return 0, err
	}
	if inv == nil {
		return 0, nil
	}
	return inv.Quantity, nil
}

// GetInventory returns nil, nil for a counter that was never written.
func (m *MySQLInventory) GetInventory(ctx context.Context, storeID, productID string) (*domain.InventoryCounter, error) {
	var inv domain.InventoryCounter
	err := m.db.QueryRowContext(ctx, `
		SELECT store_id, product_id, stock, version, updated_at
		FROM inventory WHERE store_id = ? AND product_id = ?`, storeID, productID,
	).Scan(&inv.StoreID, &inv.ProductID, &inv.Quantity, &inv.Version, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mysqlErr("query inventory", err)
	}
	if inv.Quantity < 0 {
		return nil, fmt.Errorf("%w: inventory %s/%s is %d", domain.ErrInvariantViolation, storeID, productID, inv.Quantity)
	}
	return &inv, nil
}

// SetStock overwrites a counter. Used for seeding and stock intake.
func (m *MySQLInventory) SetStock(ctx context.Context, storeID, productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (store_id, product_id, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON DUPLICATE KEY UPDATE stock = ?, version = version + 1, updated_at = ?`,
		storeID, productID, quantity, now, now, quantity, now,
	)
	if err != nil {
		return mysqlErr("set stock", err)
	}
	return nil
}

// MySQLCatalog reads products from the products table.
type MySQLCatalog struct {
	db *sql.DB
}

var _ port.Catalog = (*MySQLCatalog)(nil)

func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

func (m *MySQLCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, selling_price, category
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.SellingPrice, &p.Category)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.Product{}, mysqlErr("query product", err)
	}
	return p, nil
}

// UpsertProduct writes a product row. Used for seeding.
func (m *MySQLCatalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, selling_price, category)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = ?, selling_price = ?, category = ?`,
		p.ID, p.Name, decimalArg(p.SellingPrice), p.Category, p.Name, decimalArg(p.SellingPrice), p.Category,
	)
	if err != nil {
		return mysqlErr("upsert product", err)
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func mysqlErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// decimalArg keeps DECIMAL parameters textual so no float conversion happens.
func decimalArg(d decimal.Decimal) string {
	return d.StringFixed(2)
}
