package domain

import "time"

type OrderStatus string

const (
	OrderStatusDraft              OrderStatus = "DRAFT"
	OrderStatusSubmitted          OrderStatus = "SUBMITTED"
	OrderStatusFulfilled          OrderStatus = "FULFILLED"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
	OrderStatusPartiallyFulfilled OrderStatus = "PARTIALLY_FULFILLED"
)

// PARTIALLY_FULFILLED has no entry: no operation reaches or leaves it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusSubmitted, OrderStatusCancelled},
	OrderStatusSubmitted: {OrderStatusFulfilled, OrderStatusCancelled},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCancelled
}

type OrderLine struct {
	SKU      string `json:"skuId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type Order struct {
	ID          string
	TenantID    string
	CustomerID  string
	Status      OrderStatus
	// LocationID is where Allocate committed the order's stock; empty until then.
	LocationID  string
	Lines       []OrderLine
	OrderedAt   *time.Time
	FulfilledAt *time.Time
	Version     int64 // optimistic locking
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (o Order) State() OrderState {
	return OrderState{Status: o.Status, OrderedAt: o.OrderedAt, FulfilledAt: o.FulfilledAt}
}

// MergeLines folds lines with the same SKU into one, keeping first-seen order.
func MergeLines(lines []OrderLine) []OrderLine {
	index := make(map[string]int, len(lines))
	merged := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		if i, ok := index[l.SKU]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.SKU] = len(merged)
		merged = append(merged, l)
	}
	return merged
}
