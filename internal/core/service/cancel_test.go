package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

func commitForCancel(t *testing.T, f *fixture, lines ...domain.CartLine) *domain.Sale {
	t.Helper()
	sale, err := f.svc.Commit(context.Background(), directRequest("tok-cancel", lines...))
	require.NoError(t, err)
	return sale
}

func TestCancel_RestoresStock(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5, "radio": 5})
	sale := commitForCancel(t, f, line("tv", 2), line("radio", 1))
	require.Equal(t, 3, f.inv.get("tv"))

	cancelled, err := f.svc.Cancel(context.Background(), sale.ID, "customer changed mind")
	require.NoError(t, err)

	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer changed mind", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, cancelled.CancelledAt.Equal(testNow.Truncate(timeResolution)))
	assert.Equal(t, 5, f.inv.get("tv"))
	assert.Equal(t, 5, f.inv.get("radio"))
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 2))

	_, err := f.svc.Cancel(context.Background(), sale.ID, "first")
	require.NoError(t, err)
	again, err := f.svc.Cancel(context.Background(), sale.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, "first", again.CancellationReason)
	assert.Equal(t, 5, f.inv.get("tv"), "stock restored once")
	assert.Len(t, f.inv.releaseCalls, 1)
}

func TestCancel_ConcurrentRestoresOnce(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 3))

	var wg sync.WaitGroup
	var okCount atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Cancel(context.Background(), sale.ID, "duplicate click"); err == nil {
				okCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), okCount.Load())
	assert.Equal(t, 5, f.inv.get("tv"))
	assert.Len(t, f.inv.releaseCalls, 1)
}

func TestCancel_AggregatesLinesPerProduct(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	discounted := line("tv", 1)
	discounted.UnitPrice = decimal.RequireFromString("450")
	sale := commitForCancel(t, f, line("tv", 2), discounted)
	require.Equal(t, 2, f.inv.get("tv"))

	_, err := f.svc.Cancel(context.Background(), sale.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []reservation{{ProductID: "tv", Quantity: 3}}, f.inv.releaseCalls)
	assert.Equal(t, 5, f.inv.get("tv"))
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(nil)

	_, err := f.svc.Cancel(context.Background(), "sale-404", "typo")
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.svc.Cancel(context.Background(), "", "typo")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCancel_LedgerFailureLeavesStock(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 1))
	f.ledger.markErr = errConnReset

	_, err := f.svc.Cancel(context.Background(), sale.ID, "oops")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 4, f.inv.get("tv"))

	got, err := f.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.False(t, got.Cancelled())
}

func TestCancel_AmbiguousTransitionThatLanded(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 1))
	f.ledger.markErr = context.DeadlineExceeded
	f.ledger.markLandsThenErr = true

	cancelled, err := f.svc.Cancel(context.Background(), sale.ID, "timeout")
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled())
	assert.Equal(t, 5, f.inv.get("tv"), "the transition landed, so its stock is restored")
}

func TestCancel_CompensationFailure(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 1))
	f.inv.releaseFailures = -1

	_, err := f.svc.Cancel(context.Background(), sale.ID, "broken store")
	assert.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestCancel_RetryAfterFailedReleaseRestoresStock(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 1))
	f.inv.releaseFailures = -1

	_, err := f.svc.Cancel(context.Background(), sale.ID, "broken store")
	require.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.Equal(t, 4, f.inv.get("tv"))
	assert.Equal(t, map[string]int{"tv": 1}, f.ledger.pendingRestock(sale.ID), "unreleased stock stays pending")

	got, err := f.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled(), "the status flip is kept")

	f.inv.mu.Lock()
	f.inv.releaseFailures = 0
	f.inv.mu.Unlock()

	cancelled, err := f.svc.Cancel(context.Background(), sale.ID, "retry")
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled())
	assert.Empty(t, cancelled.PendingRestock)
	assert.Equal(t, "broken store", cancelled.CancellationReason)
	assert.Equal(t, 5, f.inv.get("tv"))
	assert.Len(t, f.inv.releaseCalls, 1)

	_, err = f.svc.Cancel(context.Background(), sale.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, 5, f.inv.get("tv"), "nothing left to restore")
}

func TestCancel_PartialReleaseRetriesOnlyTheRest(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5, "radio": 5})
	sale := commitForCancel(t, f, line("tv", 2), line("radio", 1))
	// releases go in reverse product order: every tv attempt fails, radio succeeds
	f.inv.releaseFailures = 3

	_, err := f.svc.Cancel(context.Background(), sale.ID, "")
	require.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.Equal(t, 5, f.inv.get("radio"))
	assert.Equal(t, 3, f.inv.get("tv"))
	assert.Equal(t, map[string]int{"tv": 2}, f.ledger.pendingRestock(sale.ID))

	_, err = f.svc.Cancel(context.Background(), sale.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, f.inv.get("radio"), "radio is not released twice")
	assert.Equal(t, 5, f.inv.get("tv"))
	assert.Equal(t, []reservation{{ProductID: "radio", Quantity: 1}, {ProductID: "tv", Quantity: 2}}, f.inv.releaseCalls)
}

func TestCancel_ConcurrentRetriesRestoreOnce(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 3))
	f.inv.releaseFailures = -1

	_, err := f.svc.Cancel(context.Background(), sale.ID, "")
	require.ErrorIs(t, err, domain.ErrCompensationFailed)

	f.inv.mu.Lock()
	f.inv.releaseFailures = 0
	f.inv.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Cancel(context.Background(), sale.ID, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, f.inv.get("tv"))
	assert.Len(t, f.inv.releaseCalls, 1)
}

func TestCancel_ReopenFailureIsReported(t *testing.T) {
	f := newFixture(map[string]int{"tv": 5})
	sale := commitForCancel(t, f, line("tv", 1))
	f.inv.releaseFailures = -1
	f.ledger.reopenErr = errConnReset

	_, err := f.svc.Cancel(context.Background(), sale.ID, "")
	assert.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.Empty(t, f.ledger.pendingRestock(sale.ID))
	assert.Equal(t, 4, f.inv.get("tv"))
}
