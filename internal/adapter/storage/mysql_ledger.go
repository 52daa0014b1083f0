package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

// MySQLLedger stores committed sales in the sales and sale_items tables.
// The unique key on idempotency_token makes a second append of the same
// token fail with domain.ErrDuplicateToken.
type MySQLLedger struct {
	db *sql.DB
}

var _ port.SaleLedger = (*MySQLLedger)(nil)

func NewMySQLLedger(db *sql.DB) *MySQLLedger {
	return &MySQLLedger{db: db}
}

func (m *MySQLLedger) Append(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyToken == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale without token or items", domain.ErrInvalidRequest)
	}
	if err := checkCents(sale); err != nil {
		return nil, err
	}
	sale.ID = uuid.NewString()

	var customer []byte
	if sale.Customer != nil {
		var err error
		if customer, err = json.Marshal(sale.Customer); err != nil {
			return nil, fmt.Errorf("marshal customer: %w", err)
		}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mysqlErr("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, idempotency_token, store_id, vendor_id, customer, sale_type,
			total_amount, paid_amount, status, deadline, cancellation_reason, created_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.IdempotencyToken, sale.StoreID, sale.VendorID, customer, string(sale.SaleType),
		decimalArg(sale.TotalAmount), decimalArg(sale.PaidAmount), string(sale.Status),
		nullTime(sale.Deadline), nullString(sale.CancellationReason), sale.CreatedAt.UTC(), nullTime(sale.CancelledAt),
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateToken, sale.IdempotencyToken)
		}
		return nil, mysqlErr("insert sale", err)
	}

	for i, item := range sale.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sale.ID, i, item.ProductID, item.ProductName, item.Quantity, decimalArg(item.UnitPrice),
		)
		if err != nil {
			return nil, mysqlErr("insert sale item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mysqlErr("commit sale", err)
	}
	return &sale, nil
}

func (m *MySQLLedger) FindByIdempotencyToken(ctx context.Context, token string) (*domain.Sale, error) {
	sale, err := m.findSale(ctx, "idempotency_token", token)
	if errors.Is(err, domain.ErrSaleNotFound) {
		return nil, nil
	}
	return sale, err
}

func (m *MySQLLedger) FindByID(ctx context.Context, id string) (*domain.Sale, error) {
	return m.findSale(ctx, "id", id)
}

func (m *MySQLLedger) MarkCancelled(ctx context.Context, id, reason string, at time.Time) (*domain.Sale, bool, error) {
	current, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Cancelled() {
		return current, false, nil
	}
	pending, err := json.Marshal(domain.ReservedQuantities(current.Items))
	if err != nil {
		return nil, false, fmt.Errorf("marshal restock: %w", err)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE sales
		SET status = ?, cancellation_reason = ?, cancelled_at = ?, restock_pending = ?
		WHERE id = ? AND status <> ?`,
		string(domain.SaleStatusCancelled), reason, at.UTC(), pending, id, string(domain.SaleStatusCancelled),
	)
	if err != nil {
		return nil, false, mysqlErr("cancel sale", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, mysqlErr("cancel sale", err)
	}

	sale, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sale, rows == 1, nil
}

func (m *MySQLLedger) ClaimRestock(ctx context.Context, id string) (map[string]int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mysqlErr("begin tx", err)
	}
	defer tx.Rollback()

	_, pending, err := lockRestock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return map[string]int{}, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sales SET restock_pending = NULL WHERE id = ?`, id); err != nil {
		return nil, mysqlErr("claim restock", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mysqlErr("commit restock claim", err)
	}
	return pending, nil
}

func (m *MySQLLedger) ReopenRestock(ctx context.Context, id string, extra map[string]int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mysqlErr("begin tx", err)
	}
	defer tx.Rollback()

	status, pending, err := lockRestock(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != domain.SaleStatusCancelled {
		return fmt.Errorf("%w: restock reopened on active sale %s", domain.ErrInvariantViolation, id)
	}

	raw, err := json.Marshal(mergeRestock(pending, extra))
	if err != nil {
		return fmt.Errorf("marshal restock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET restock_pending = ? WHERE id = ?`, raw, id); err != nil {
		return mysqlErr("reopen restock", err)
	}
	if err := tx.Commit(); err != nil {
		return mysqlErr("commit restock reopen", err)
	}
	return nil
}

// lockRestock reads the status and pending restock of a sale under a row lock.
func lockRestock(ctx context.Context, tx *sql.Tx, id string) (domain.SaleStatus, map[string]int, error) {
	var (
		status string
		raw    []byte
	)
	err := tx.QueryRowContext(ctx, `SELECT status, restock_pending FROM sales WHERE id = ? FOR UPDATE`, id).Scan(&status, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("%w: %s", domain.ErrSaleNotFound, id)
	}
	if err != nil {
		return "", nil, mysqlErr("lock sale restock", err)
	}
	pending, err := decodeRestock(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: sale %s restock: %v", domain.ErrInvariantViolation, id, err)
	}
	return domain.SaleStatus(status), pending, nil
}

func decodeRestock(raw []byte) (map[string]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var pending map[string]int
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending, nil
}

// checkCents refuses amounts the DECIMAL(15,2) columns would round.
func checkCents(sale domain.Sale) error {
	for _, item := range sale.Items {
		if !domain.WholeCents(item.UnitPrice) {
			return fmt.Errorf("%w: %s unit price %s", domain.ErrInvalidUnitPrice, item.ProductID, item.UnitPrice)
		}
	}
	if !domain.WholeCents(sale.TotalAmount) || !domain.WholeCents(sale.PaidAmount) {
		return fmt.Errorf("%w: total %s paid %s", domain.ErrInvalidPaymentAmount, sale.TotalAmount, sale.PaidAmount)
	}
	return nil
}

func (m *MySQLLedger) findSale(ctx context.Context, column, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_token" {
		return nil, fmt.Errorf("unsupported lookup column %q", column)
	}

	var (
		sale     domain.Sale
		customer []byte
		saleType string
		status   string
		deadline sql.NullTime
		reason   sql.NullString
		cancelAt sql.NullTime
		restock  []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, idempotency_token, store_id, vendor_id, customer, sale_type,
			total_amount, paid_amount, status, deadline, cancellation_reason, created_at, cancelled_at,
			restock_pending
		FROM sales WHERE `+column+` = ?`, value,
	).Scan(&sale.ID, &sale.IdempotencyToken, &sale.StoreID, &sale.VendorID, &customer, &saleType,
		&sale.TotalAmount, &sale.PaidAmount, &status, &deadline, &reason, &sale.CreatedAt, &cancelAt,
		&restock)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%s", domain.ErrSaleNotFound, column, value)
	}
	if err != nil {
		return nil, mysqlErr("query sale", err)
	}

	if len(customer) > 0 {
		var c domain.Customer
		if err := json.Unmarshal(customer, &c); err != nil {
			return nil, fmt.Errorf("%w: sale %s customer: %v", domain.ErrInvariantViolation, sale.ID, err)
		}
		sale.Customer = &c
	}
	sale.SaleType = domain.SaleType(saleType)
	sale.Status = domain.SaleStatus(status)
	sale.Deadline = timePtr(deadline)
	sale.CancellationReason = reason.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CancelledAt = timePtr(cancelAt)
	if sale.PendingRestock, err = decodeRestock(restock); err != nil {
		return nil, fmt.Errorf("%w: sale %s restock: %v", domain.ErrInvariantViolation, sale.ID, err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM sale_items WHERE sale_id = ? ORDER BY line_no`, sale.ID)
	if err != nil {
		return nil, mysqlErr("query sale items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartLine
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, mysqlErr("scan sale item", err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mysqlErr("iterate sale items", err)
	}

	return &sale, nil
}
