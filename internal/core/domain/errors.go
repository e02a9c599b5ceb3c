package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Callers branch with errors.Is(err, ErrX) and read context with errors.As(err, **Error).
var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrInventoryNotFound      = errors.New("inventory not found")
	ErrInvalidOrderStatus     = errors.New("invalid order status")
	ErrInsufficientAllocation = errors.New("insufficient allocation")
	ErrConcurrencyConflict    = errors.New("concurrency conflict")
	ErrTimeout                = errors.New("operation timed out")
	ErrInvalidArgument        = errors.New("invalid argument")
)

type Error struct {
	Kind       error
	OrderID    string
	SKU        string
	LocationID string
	Requested  int
	Available  int
	Status     OrderStatus
	Detail     string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	var ctx []string
	if e.OrderID != "" {
		ctx = append(ctx, "order="+e.OrderID)
	}
	if e.SKU != "" {
		ctx = append(ctx, "sku="+e.SKU)
	}
	if e.LocationID != "" {
		ctx = append(ctx, "location="+e.LocationID)
	}
	if e.Requested != 0 || e.Available != 0 {
		ctx = append(ctx, fmt.Sprintf("requested=%d available=%d", e.Requested, e.Available))
	}
	if e.Status != "" {
		ctx = append(ctx, "status="+string(e.Status))
	}
	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, " ") + ")")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func OrderNotFound(orderID string) *Error {
	return &Error{Kind: ErrOrderNotFound, OrderID: orderID}
}

func InsufficientInventory(sku string, requested, available int) *Error {
	return &Error{Kind: ErrInsufficientInventory, SKU: sku, Requested: requested, Available: available}
}

func InventoryNotFound(sku, locationID string) *Error {
	return &Error{Kind: ErrInventoryNotFound, SKU: sku, LocationID: locationID}
}

func InvalidOrderStatus(orderID string, status OrderStatus, detail string) *Error {
	return &Error{Kind: ErrInvalidOrderStatus, OrderID: orderID, Status: status, Detail: detail}
}

func InsufficientAllocation(sku string, requested, allocated int, detail string) *Error {
	return &Error{Kind: ErrInsufficientAllocation, SKU: sku, Requested: requested, Available: allocated, Detail: detail}
}

func ConcurrencyConflict(cause error) *Error {
	return &Error{Kind: ErrConcurrencyConflict, Cause: cause}
}

func Timeout(cause error) *Error {
	return &Error{Kind: ErrTimeout, Cause: cause}
}

func InvalidArgument(detail string) *Error {
	return &Error{Kind: ErrInvalidArgument, Detail: detail}
}

// IsRetryable reports whether retrying the identical call is safe and may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrTimeout)
}

// KindOf returns the error kind sentinel, or nil for errors outside this package.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range []error{
		ErrOrderNotFound, ErrInsufficientInventory, ErrInventoryNotFound, ErrInvalidOrderStatus,
		ErrInsufficientAllocation, ErrConcurrencyConflict, ErrTimeout, ErrInvalidArgument,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
