// Package availability is the single place where sellable stock is derived from a snapshot.
//
// available = max(0, onHand - (allocated + reserved))
//
// Every other package asks this one; none of them subtract counters on their own.
package availability

import "github.com/rl1809/inventory-engine/internal/core/domain"

type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

type Breakdown struct {
	OnHand    int `json:"onHand"`
	Allocated int `json:"allocated"`
	Reserved  int `json:"reserved"`
	Committed int `json:"committed"`
	Available int `json:"available"`
}

func AvailableQty(s domain.InventorySnapshot) int {
	return available(s.OnHand, s.Allocated, s.Reserved)
}

func BreakdownOf(s domain.InventorySnapshot) Breakdown {
	return breakdown(s.OnHand, s.Allocated, s.Reserved)
}

func IsAvailable(s domain.InventorySnapshot, requested int) bool {
	return AvailableQty(s) >= requested
}

// Headroom is what would remain available after taking requested; negative when it does not fit.
func Headroom(s domain.InventorySnapshot, requested int) int {
	return AvailableQty(s) - requested
}

// ExcludingHolds returns s with qty units of its reserved stock taken out. Callers use it to
// stop an order's own live holds from counting against that same order.
func ExcludingHolds(s domain.InventorySnapshot, qty int) domain.InventorySnapshot {
	s.Reserved = nonNegative(s.Reserved - nonNegative(qty))
	return s
}

// CanRemove reports whether qty units the order holds can leave the shelf while allocations and
// every other live hold stay covered by what remains on hand.
func CanRemove(s domain.InventorySnapshot, heldQty, qty int) bool {
	return IsAvailable(ExcludingHolds(s, heldQty), qty)
}

// StatusOf classifies a snapshot against the SKU's low-stock threshold (its reorder point).
func StatusOf(s domain.InventorySnapshot, lowStockThreshold int) Status {
	return statusFor(AvailableQty(s), lowStockThreshold)
}

func (b Breakdown) Status(lowStockThreshold int) Status {
	return statusFor(b.Available, lowStockThreshold)
}

func (b Breakdown) Headroom(requested int) int {
	return b.Available - requested
}

// Aggregate sums the raw counters across locations and derives committed and available from the totals.
func Aggregate(snapshots []domain.InventorySnapshot) Breakdown {
	var onHand, allocated, reserved int
	for _, s := range snapshots {
		onHand += nonNegative(s.OnHand)
		allocated += nonNegative(s.Allocated)
		reserved += nonNegative(s.Reserved)
	}
	return breakdown(onHand, allocated, reserved)
}

func breakdown(onHand, allocated, reserved int) Breakdown {
	onHand, allocated, reserved = nonNegative(onHand), nonNegative(allocated), nonNegative(reserved)
	return Breakdown{
		OnHand:    onHand,
		Allocated: allocated,
		Reserved:  reserved,
		Committed: allocated + reserved,
		Available: available(onHand, allocated, reserved),
	}
}

func available(onHand, allocated, reserved int) int {
	return nonNegative(nonNegative(onHand) - (nonNegative(allocated) + nonNegative(reserved)))
}

func statusFor(available, threshold int) Status {
	switch {
	case available <= 0:
		return StatusOutOfStock
	case available <= threshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

func nonNegative(n int) int {
	return max(0, n)
}
