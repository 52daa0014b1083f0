package handler

import (
	"context"
	"log"
	"time"

	"github.com/Chrimika/electro-shop-control/internal/adapter/handler/salesrpc"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
)

type GRPCHandler struct {
	salesrpc.UnimplementedSalesServiceServer
	saleService *service.SaleService
	flow        salesFlow
}

func NewGRPCHandler(saleService *service.SaleService, opts Options) *GRPCHandler {
	return &GRPCHandler{saleService: saleService, flow: newSalesFlow(saleService, opts)}
}

// Commit reports failures in the response body. The transport error is
// reserved for the connection itself.
func (h *GRPCHandler) Commit(ctx context.Context, req *salesrpc.CommitRequest) (*salesrpc.SaleResponse, error) {
	in := CommitInput{
		IdempotencyToken: req.GetIdempotencyToken(),
		StoreID:          req.StoreId,
		VendorID:         req.VendorId,
		SaleType:         req.SaleType,
		PaidAmount:       req.PaidAmount,
		Deadline:         req.Deadline,
	}
	if req.Customer != nil {
		in.Customer = &domain.Customer{
			ID:       req.Customer.Id,
			Name:     req.Customer.Name,
			Phone:    req.Customer.Phone,
			Email:    req.Customer.Email,
			IsBadged: req.Customer.IsBadged,
		}
	}
	for _, l := range req.Lines {
		if l == nil {
			continue
		}
		in.Lines = append(in.Lines, LineInput{ProductID: l.ProductId, Quantity: int(l.Quantity), UnitPrice: l.UnitPrice})
	}

	sale, warnings, err := h.flow.commit(ctx, in)
	if err != nil {
		return errorResponse(err), nil
	}

	return &salesrpc.SaleResponse{
		Success:  true,
		Message:  "sale committed",
		Sale:     toRPCSale(sale),
		Warnings: warningStrings(warnings),
	}, nil
}

func (h *GRPCHandler) Cancel(ctx context.Context, req *salesrpc.CancelRequest) (*salesrpc.SaleResponse, error) {
	sale, err := h.saleService.Cancel(ctx, req.GetSaleId(), req.Reason)
	if err != nil {
		return errorResponse(err), nil
	}

	return &salesrpc.SaleResponse{
		Success: true,
		Message: "sale cancelled",
		Sale:    toRPCSale(sale),
	}, nil
}

func errorResponse(err error) *salesrpc.SaleResponse {
	kind := domain.KindOf(err)
	message := err.Error()
	if kind == domain.KindInternal || kind == domain.KindUnknown {
		log.Printf("grpc: internal error: %v", err)
		kind = domain.KindInternal
		message = "internal error"
	}
	return &salesrpc.SaleResponse{
		Success: false,
		Message: message,
		Code:    kind.String(),
	}
}

func toRPCSale(s *domain.Sale) *salesrpc.Sale {
	out := &salesrpc.Sale{
		Id:                 s.ID,
		StoreId:            s.StoreID,
		VendorId:           s.VendorID,
		SaleType:           string(s.SaleType),
		TotalAmount:        s.TotalAmount.StringFixed(2),
		PaidAmount:         s.PaidAmount.StringFixed(2),
		Status:             string(s.Status),
		Deadline:           formatTime(s.Deadline),
		CancellationReason: s.CancellationReason,
		CreatedAt:          s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.Customer != nil {
		out.Customer = &salesrpc.Customer{
			Id:       s.Customer.ID,
			Name:     s.Customer.Name,
			Phone:    s.Customer.Phone,
			Email:    s.Customer.Email,
			IsBadged: s.Customer.IsBadged,
		}
	}
	for _, item := range s.Items {
		out.Items = append(out.Items, &salesrpc.SaleLine{
			ProductId:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    int32(item.Quantity),
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal().StringFixed(2),
		})
	}
	return out
}
