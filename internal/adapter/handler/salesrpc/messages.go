package salesrpc

type Customer struct {
	Id       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	IsBadged bool   `json:"is_badged,omitempty"`
}

type Line struct {
	ProductId string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	// UnitPrice overrides the catalog price when set. Decimal string.
	UnitPrice string `json:"unit_price,omitempty"`
}

type CommitRequest struct {
	IdempotencyToken string    `json:"idempotency_token"`
	StoreId          string    `json:"store_id"`
	VendorId         string    `json:"vendor_id"`
	Customer         *Customer `json:"customer,omitempty"`
	Lines            []*Line   `json:"lines"`
	SaleType         string    `json:"sale_type"`
	// PaidAmount overrides the policy default when set. Decimal string.
	PaidAmount string `json:"paid_amount,omitempty"`
	// Deadline is RFC 3339.
	Deadline string `json:"deadline,omitempty"`
}

type SaleLine struct {
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type Sale struct {
	Id                 string      `json:"id"`
	StoreId            string      `json:"store_id"`
	VendorId           string      `json:"vendor_id"`
	Customer           *Customer   `json:"customer,omitempty"`
	Items              []*SaleLine `json:"items"`
	SaleType           string      `json:"sale_type"`
	TotalAmount        string      `json:"total_amount"`
	PaidAmount         string      `json:"paid_amount"`
	Status             string      `json:"status"`
	Deadline           string      `json:"deadline,omitempty"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
	CreatedAt          string      `json:"created_at"`
}

type SaleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Code is the error kind: validation, conflict, not_found, transient or internal.
	Code string `json:"code,omitempty"`
	Sale *Sale  `json:"sale,omitempty"`
	// Warnings carries advisory stock warnings raised while building the cart.
	Warnings []string `json:"warnings,omitempty"`
}

type CancelRequest struct {
	SaleId string `json:"sale_id"`
	Reason string `json:"reason"`
}

func (x *CommitRequest) GetIdempotencyToken() string {
	if x == nil {
		return ""
	}
	return x.IdempotencyToken
}

func (x *CancelRequest) GetSaleId() string {
	if x == nil {
		return ""
	}
	return x.SaleId
}
