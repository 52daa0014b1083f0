package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Chrimika/electro-shop-control/internal/core/cart"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
)

type HTTPHandler struct {
	saleService *service.SaleService
	flow        salesFlow
}

type CommitHTTPRequest struct {
	IdempotencyToken string           `json:"idempotencyToken"`
	StoreID          string           `json:"storeId"`
	VendorID         string           `json:"vendorId"`
	Customer         *domain.Customer `json:"customer,omitempty"`
	Lines            []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		UnitPrice string `json:"unitPrice,omitempty"`
	} `json:"lines"`
	SaleType   string `json:"saleType"`
	PaidAmount string `json:"paidAmount,omitempty"`
	Deadline   string `json:"deadline,omitempty"`
}

type CancelHTTPRequest struct {
	Reason string `json:"reason"`
}

type ResolvePaymentHTTPRequest struct {
	SaleType   string `json:"saleType"`
	Total      string `json:"total"`
	PaidAmount string `json:"paidAmount,omitempty"`
}

type SaleHTTPResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Code     string    `json:"code,omitempty"`
	Sale     *SaleView `json:"sale,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

type SaleView struct {
	ID                 string            `json:"id"`
	StoreID            string            `json:"storeId"`
	VendorID           string            `json:"vendorId"`
	Customer           *domain.Customer  `json:"customer,omitempty"`
	Items              []domain.CartLine `json:"items"`
	SaleType           domain.SaleType   `json:"saleType"`
	TotalAmount        string            `json:"totalAmount"`
	PaidAmount         string            `json:"paidAmount"`
	Balance            string            `json:"balance"`
	Status             domain.SaleStatus `json:"status"`
	Deadline           string            `json:"deadline,omitempty"`
	CancellationReason string            `json:"cancellationReason,omitempty"`
	CreatedAt          string            `json:"createdAt"`
}

func NewHTTPHandler(saleService *service.SaleService, opts Options) *HTTPHandler {
	return &HTTPHandler{saleService: saleService, flow: newSalesFlow(saleService, opts)}
}

// Routes registers the handler on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/sales", h.Commit)
	mux.HandleFunc("GET /api/sales/{id}", h.GetSale)
	mux.HandleFunc("POST /api/sales/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/payments/resolve", h.ResolvePayment)
	mux.HandleFunc("GET /api/stock/{store}/{product}", h.Stock)
}

func (h *HTTPHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SaleHTTPResponse{
			Success: false,
			Message: "invalid request body",
			Code:    domain.KindValidation.String(),
		})
		return
	}

	in := CommitInput{
		IdempotencyToken: req.IdempotencyToken,
		StoreID:          req.StoreID,
		VendorID:         req.VendorID,
		Customer:         req.Customer,
		SaleType:         req.SaleType,
		PaidAmount:       req.PaidAmount,
		Deadline:         req.Deadline,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}

	sale, warnings, err := h.flow.commit(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SaleHTTPResponse{
		Success:  true,
		Message:  "sale committed",
		Sale:     toSaleView(sale),
		Warnings: warningStrings(warnings),
	})
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelHTTPRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, SaleHTTPResponse{
				Success: false,
				Message: "invalid request body",
				Code:    domain.KindValidation.String(),
			})
			return
		}
	}

	sale, err := h.saleService.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SaleHTTPResponse{
		Success: true,
		Message: "sale cancelled",
		Sale:    toSaleView(sale),
	})
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.saleService.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaleHTTPResponse{Success: true, Message: "ok", Sale: toSaleView(sale)})
}

func (h *HTTPHandler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	var req ResolvePaymentHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	saleType, err := domain.ParseSaleType(req.SaleType)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := parseDecimal(req.Total, domain.ErrInvalidPaymentAmount)
	if err != nil || total == nil {
		writeError(w, domain.ErrInvalidPaymentAmount)
		return
	}
	override, err := parseDecimal(req.PaidAmount, domain.ErrInvalidPaymentAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.saleService.ResolvePayment(saleType, *total, override)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"saleType":         res.SaleType,
		"total":            res.Total.StringFixed(2),
		"paidAmount":       res.PaidAmount.StringFixed(2),
		"deadlineRequired": res.DeadlineRequired,
	})
}

func (h *HTTPHandler) Stock(w http.ResponseWriter, r *http.Request) {
	store, product := r.PathValue("store"), r.PathValue("product")
	n, err := h.saleService.Stock(r.Context(), store, product)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"storeId":   store,
		"productId": product,
		"quantity":  n,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		if errors.Is(err, domain.ErrDeadlineRequired) || errors.Is(err, domain.ErrInvalidPaymentAmount) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := domain.KindOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("http: internal error: %v", err)
		message = "internal error"
		kind = domain.KindInternal
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, SaleHTTPResponse{
		Success: false,
		Message: message,
		Code:    kind.String(),
	})
}

func toSaleView(s *domain.Sale) *SaleView {
	return &SaleView{
		ID:                 s.ID,
		StoreID:            s.StoreID,
		VendorID:           s.VendorID,
		Customer:           s.Customer,
		Items:              s.Items,
		SaleType:           s.SaleType,
		TotalAmount:        s.TotalAmount.StringFixed(2),
		PaidAmount:         s.PaidAmount.StringFixed(2),
		Balance:            s.Balance().StringFixed(2),
		Status:             s.Status,
		Deadline:           formatTime(s.Deadline),
		CancellationReason: s.CancellationReason,
		CreatedAt:          s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func warningStrings(ws []cart.StockWarning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.String())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
