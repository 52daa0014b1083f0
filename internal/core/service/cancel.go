package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

// timeResolution matches the DATETIME(6) precision of the ledger.
const timeResolution = time.Microsecond

// Cancel moves a sale to cancelled and returns its stock. Cancelling an
// already cancelled sale returns it unchanged once its stock is back. The
// status flip records the quantities to restore in the ledger and each
// restore claims them from there, so concurrent or retried cancels restore
// them exactly once.
func (s *SaleService) Cancel(ctx context.Context, saleID, reason string) (sale *domain.Sale, err error) {
	ctx, span := tracer.Start(ctx, "SaleService.Cancel", trace.WithAttributes(
		attribute.String("sale.id", saleID),
	))
	defer func() { endSpan(span, err) }()

	if saleID == "" {
		return nil, fmt.Errorf("%w: sale id is required", domain.ErrInvalidRequest)
	}

	current, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if current.Cancelled() && len(current.PendingRestock) == 0 {
		span.SetAttributes(attribute.Bool("sale.already_cancelled", true))
		return current, nil
	}

	if !current.Cancelled() {
		at := s.cfg.Now().UTC().Truncate(timeResolution)
		lctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
		updated, changed, err := s.ledger.MarkCancelled(lctx, saleID, reason, at)
		cancel()
		if err != nil {
			// the transition may have landed
			updated, err = s.verifyCancelled(ctx, saleID, err)
			if err != nil {
				return nil, err
			}
		}
		if changed {
			log.Printf("sales: cancelled sale %s store=%s reason=%q", updated.ID, updated.StoreID, reason)
		}
		current = updated
	} else {
		span.SetAttributes(attribute.Bool("sale.restock_retried", true))
	}

	return s.restock(ctx, current)
}

// restock returns the pending quantities of a cancelled sale to stock.
// Quantities it cannot release go back to pending for the next Cancel.
func (s *SaleService) restock(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	pending, err := s.ledger.ClaimRestock(lctx, sale.ID)
	cancel()
	if err != nil {
		log.Printf("sales: CRITICAL restock claim for sale %s outcome unknown, needs reconciliation: %v", sale.ID, err)
		return nil, storageErr("claim restock "+sale.ID, err)
	}

	restored := *sale
	restored.PendingRestock = nil
	if len(pending) == 0 {
		return &restored, nil
	}

	remaining, err := s.releaseAll(ctx, sale.StoreID, planFromQuantities(pending))
	if err != nil {
		left := make(map[string]int, len(remaining))
		for _, r := range remaining {
			left[r.ProductID] += r.Quantity
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LedgerTimeout)
		rerr := s.ledger.ReopenRestock(rctx, sale.ID, left)
		cancel()
		if rerr != nil {
			log.Printf("sales: CRITICAL sale %s cancelled, stock %v neither restored nor kept pending: %v", sale.ID, left, rerr)
		} else {
			log.Printf("sales: sale %s cancelled, stock %v kept pending for the next cancel", sale.ID, left)
		}
		return nil, err
	}

	log.Printf("sales: restocked sale %s store=%s %v", sale.ID, sale.StoreID, pending)
	return &restored, nil
}

// verifyCancelled re-reads a sale after an ambiguous MarkCancelled.
func (s *SaleService) verifyCancelled(ctx context.Context, saleID string, cause error) (*domain.Sale, error) {
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LedgerTimeout)
	defer cancel()

	sale, err := s.ledger.FindByID(vctx, saleID)
	if err != nil {
		log.Printf("sales: CRITICAL cancel of sale %s unverifiable: mark: %v, lookup: %v", saleID, cause, err)
		return nil, storageErr("cancel sale "+saleID, errors.Join(cause, err))
	}
	if !sale.Cancelled() {
		return nil, storageErr("cancel sale "+saleID, cause)
	}
	return sale, nil
}
