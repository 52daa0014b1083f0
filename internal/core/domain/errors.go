package domain

import (
	"errors"
	"fmt"
)

// Validation errors. Nothing has been mutated when one of these is returned.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidUnitPrice     = errors.New("invalid unit price")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrDeadlineRequired     = errors.New("deadline required")
	ErrInvalidSaleType      = errors.New("invalid sale type")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrLineNotFound         = errors.New("cart line not found")
)

// Business conflicts.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateToken    = errors.New("idempotency token already committed")
)

// Lookup failures.
var (
	ErrSaleNotFound    = errors.New("sale not found")
	ErrProductNotFound = errors.New("product not found")
)

// Transient infrastructure failures. Retrying with the same idempotency
// token is safe.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCommitInProgress   = errors.New("commit in progress for token")
)

// Internal failures. Never retried and never clamped away.
var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrCompensationFailed = errors.New("compensation failed")
)

// InsufficientStockError names the first product whose reservation failed.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ErrorKind groups errors by how a caller is expected to react.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransient
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Unrecognised errors are KindUnknown and should be
// treated like KindInternal by callers.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case IsValidation(err):
		return KindValidation
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrDuplicateToken):
		return KindConflict
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrProductNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvariantViolation), errors.Is(err, ErrCompensationFailed):
		return KindInternal
	case IsRetryable(err):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsValidation reports whether err was rejected before any mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidUnitPrice) ||
		errors.Is(err, ErrInvalidPaymentAmount) ||
		errors.Is(err, ErrDeadlineRequired) ||
		errors.Is(err, ErrInvalidSaleType) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrLineNotFound)
}

// IsRetryable reports whether err may be retried with the same idempotency
// token. Internal failures are never retryable, even when a storage error
// caused them.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrCompensationFailed) {
		return false
	}
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrCommitInProgress)
}
