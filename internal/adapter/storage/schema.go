package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied statement by statement; the driver runs without
// multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id            VARCHAR(64)   NOT NULL PRIMARY KEY,
		name          VARCHAR(255)  NOT NULL,
		selling_price DECIMAL(15,2) NOT NULL,
		category      VARCHAR(128)  NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		store_id   VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		stock      INT         NOT NULL DEFAULT 0,
		version    INT         NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (store_id, product_id),
		CONSTRAINT chk_inventory_stock CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id                  CHAR(36)      NOT NULL PRIMARY KEY,
		idempotency_token   VARCHAR(128)  NOT NULL,
		store_id            VARCHAR(64)   NOT NULL,
		vendor_id           VARCHAR(64)   NOT NULL,
		customer            JSON          NULL,
		sale_type           VARCHAR(32)   NOT NULL,
		total_amount        DECIMAL(15,2) NOT NULL,
		paid_amount         DECIMAL(15,2) NOT NULL,
		status              VARCHAR(16)   NOT NULL,
		deadline            DATETIME(6)   NULL,
		cancellation_reason TEXT          NULL,
		created_at          DATETIME(6)   NOT NULL,
		cancelled_at        DATETIME(6)   NULL,
		restock_pending     JSON          NULL,
		UNIQUE KEY uq_sales_idempotency_token (idempotency_token),
		KEY idx_sales_store_created (store_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		sale_id      CHAR(36)      NOT NULL,
		line_no      INT           NOT NULL,
		product_id   VARCHAR(64)   NOT NULL,
		product_name VARCHAR(255)  NOT NULL,
		quantity     INT           NOT NULL,
		unit_price   DECIMAL(15,2) NOT NULL,
		PRIMARY KEY (sale_id, line_no),
		CONSTRAINT fk_sale_items_sale FOREIGN KEY (sale_id) REFERENCES sales (id)
	)`,
}

// EnsureSchema creates the tables used by the MySQL adapters.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
