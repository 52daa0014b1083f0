package domain

import "github.com/shopspring/decimal"

// Product is the catalog view the sales core reads prices and names from.
type Product struct {
	ID           string
	Name         string
	SellingPrice decimal.Decimal
	Category     string
}

// Customer is copied by value into a Sale so later edits to the customer
// record never alter a committed receipt.
type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	IsBadged bool   `json:"isBadged"`
}
