package storage

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/electroshop?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	if err := EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testStore gives every test its own store so runs do not collide.
func testStore() string {
	return "store-" + uuid.NewString()[:8]
}

func TestMySQLInventory_ReserveAndRelease(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	inv := NewMySQLInventory(db)
	store := testStore()

	require.NoError(t, inv.SetStock(ctx, store, "tv", 10))

	res, err := inv.TryReserve(ctx, store, "tv", 4)
	require.NoError(t, err)
	assert.True(t, res.Reserved)

	res, err = inv.TryReserve(ctx, store, "tv", 7)
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, 6, res.Available)

	require.NoError(t, inv.Release(ctx, store, "tv", 4))
	counter, err := inv.GetInventory(ctx, store, "tv")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, 10, counter.Quantity)
	assert.Equal(t, 2, counter.Version, "reserve and release each bump the version")
}

func TestMySQLInventory_MissingCounter(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	inv := NewMySQLInventory(db)
	store := testStore()

	counter, err := inv.GetInventory(ctx, store, "ghost")
	require.NoError(t, err)
	assert.Nil(t, counter)

	res, err := inv.TryReserve(ctx, store, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, 0, res.Available)
}

func TestMySQLInventory_Concurrent(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	inv := NewMySQLInventory(db)
	store := testStore()

	require.NoError(t, inv.SetStock(ctx, store, "tv", 10))

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := inv.TryReserve(ctx, store, "tv", 1); err == nil && res.Reserved {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), successCount.Load())
	n, err := inv.Peek(ctx, store, "tv")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMySQLLedger_AppendAndFind(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	ledger := NewMySQLLedger(db)

	deadline := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Microsecond)
	sale := domain.Sale{
		IdempotencyToken: uuid.NewString(),
		StoreID:          testStore(),
		VendorID:         "vendor-1",
		Customer:         &domain.Customer{ID: "c-1", Name: "Ada", Phone: "+237600000000", IsBadged: true},
		Items: []domain.CartLine{
			{ProductID: "tv", ProductName: "TV 55", Quantity: 2, UnitPrice: decimal.RequireFromString("499.99")},
			{ProductID: "radio", ProductName: "Radio", Quantity: 1, UnitPrice: decimal.RequireFromString("25.50")},
		},
		SaleType:    domain.SaleTypePartialPaid,
		TotalAmount: decimal.RequireFromString("1025.48"),
		PaidAmount:  decimal.RequireFromString("820.38"),
		Status:      domain.SaleStatusPending,
		Deadline:    &deadline,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}

	saved, err := ledger.Append(ctx, sale)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := ledger.FindByIdempotencyToken(ctx, sale.IdempotencyToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	assert.True(t, got.TotalAmount.Equal(sale.TotalAmount))
	assert.True(t, got.PaidAmount.Equal(sale.PaidAmount))
	assert.Equal(t, "Ada", got.Customer.Name)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "tv", got.Items[0].ProductID)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("499.99")))
	require.NotNil(t, got.Deadline)
	assert.True(t, got.Deadline.Equal(deadline))
	assert.NoError(t, got.Validate())

	byID, err := ledger.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.IdempotencyToken, byID.IdempotencyToken)
}

func TestMySQLLedger_DuplicateToken(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	ledger := NewMySQLLedger(db)

	sale := directSale(uuid.NewString())
	_, err := ledger.Append(ctx, sale)
	require.NoError(t, err)

	_, err = ledger.Append(ctx, sale)
	assert.ErrorIs(t, err, domain.ErrDuplicateToken)
}

func TestMySQLLedger_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	ledger := NewMySQLLedger(db)

	got, err := ledger.FindByIdempotencyToken(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ledger.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)
}

func TestMySQLLedger_MarkCancelled(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	ledger := NewMySQLLedger(db)

	saved, err := ledger.Append(ctx, directSale(uuid.NewString()))
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Microsecond)
	cancelled, changed, err := ledger.MarkCancelled(ctx, saved.ID, "returned", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.CancelledAt.Equal(at))

	again, changed, err := ledger.MarkCancelled(ctx, saved.ID, "again", at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "returned", again.CancellationReason)
}

func TestMySQLLedger_RestockClaim(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	ledger := NewMySQLLedger(db)

	saved, err := ledger.Append(ctx, directSale(uuid.NewString()))
	require.NoError(t, err)
	assert.Empty(t, saved.PendingRestock)

	cancelled, _, err := ledger.MarkCancelled(ctx, saved.ID, "returned", time.Now())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tv": 1}, cancelled.PendingRestock)

	pending, err := ledger.ClaimRestock(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tv": 1}, pending)

	pending, err = ledger.ClaimRestock(ctx, saved.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, ledger.ReopenRestock(ctx, saved.ID, map[string]int{"tv": 1}))
	got, err := ledger.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tv": 1}, got.PendingRestock)
}

func TestMySQLLedger_RefusesSubCentAmounts(t *testing.T) {
	sale := directSale("tok-1")
	sale.Items[0].UnitPrice = decimal.RequireFromString("0.125")
	sale.TotalAmount = decimal.RequireFromString("0.125")
	sale.PaidAmount = sale.TotalAmount

	// rejected before the database is touched
	_, err := NewMySQLLedger(nil).Append(context.Background(), sale)
	assert.ErrorIs(t, err, domain.ErrInvalidUnitPrice)

	sale.Items[0].UnitPrice = decimal.RequireFromString("0.12")
	sale.TotalAmount = decimal.RequireFromString("0.12")
	sale.PaidAmount = decimal.RequireFromString("0.115")
	_, err = NewMySQLLedger(nil).Append(context.Background(), sale)
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentAmount)
}

func TestMySQLCatalog(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	catalog := NewMySQLCatalog(db)

	id := "p-" + uuid.NewString()[:8]
	require.NoError(t, catalog.UpsertProduct(ctx, domain.Product{
		ID: id, Name: "Blender", SellingPrice: decimal.RequireFromString("39.90"), Category: "kitchen",
	}))

	p, err := catalog.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Blender", p.Name)
	assert.True(t, p.SellingPrice.Equal(decimal.RequireFromString("39.90")))

	_, err = catalog.GetProduct(ctx, "missing-"+id)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func directSale(token string) domain.Sale {
	return domain.Sale{
		IdempotencyToken: token,
		StoreID:          testStore(),
		VendorID:         "vendor-1",
		Items: []domain.CartLine{
			{ProductID: "tv", ProductName: "TV", Quantity: 1, UnitPrice: decimal.RequireFromString("500")},
		},
		SaleType:    domain.SaleTypeDirect,
		TotalAmount: decimal.RequireFromString("500"),
		PaidAmount:  decimal.RequireFromString("500"),
		Status:      domain.SaleStatusCompleted,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}
