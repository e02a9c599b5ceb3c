package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rl1809/inventory-engine/internal/core/domain"
)

func snap(onHand, allocated, reserved int) domain.InventorySnapshot {
	return domain.InventorySnapshot{TenantID: "t1", SKU: "sku-1", LocationID: "main", OnHand: onHand, Allocated: allocated, Reserved: reserved}
}

func TestBreakdownOf(t *testing.T) {
	got := BreakdownOf(snap(100, 30, 10))

	assert.Equal(t, Breakdown{OnHand: 100, Allocated: 30, Reserved: 10, Committed: 40, Available: 60}, got)
}

func TestAvailableQty_NeverNegative(t *testing.T) {
	tests := []struct {
		name                        string
		onHand, allocated, reserved int
		want                        int
	}{
		{"plenty", 100, 0, 0, 100},
		{"exactly committed", 50, 30, 20, 0},
		{"over committed", 10, 30, 20, 0},
		{"reserved only", 10, 0, 4, 6},
		{"empty", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AvailableQty(snap(tt.onHand, tt.allocated, tt.reserved))
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
		})
	}
}

func TestIsAvailable(t *testing.T) {
	s := snap(100, 0, 0)

	assert.True(t, IsAvailable(s, 100))
	assert.False(t, IsAvailable(s, 101))
	assert.Equal(t, -50, Headroom(s, 150))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOutOfStock, StatusOf(snap(10, 10, 0), 5))
	assert.Equal(t, StatusLowStock, StatusOf(snap(10, 5, 0), 5))
	assert.Equal(t, StatusInStock, StatusOf(snap(10, 4, 0), 5))
	assert.Equal(t, StatusLowStock, StatusOf(snap(1, 0, 0), 10))
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]domain.InventorySnapshot{
		snap(100, 30, 10),
		snap(20, 0, 5),
		snap(0, 0, 0),
	})

	assert.Equal(t, Breakdown{OnHand: 120, Allocated: 30, Reserved: 15, Committed: 45, Available: 75}, got)
	assert.Equal(t, StatusInStock, got.Status(10))
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil)

	assert.Equal(t, Breakdown{}, got)
	assert.Equal(t, StatusOutOfStock, got.Status(0))
}

func TestExcludingHolds(t *testing.T) {
	s := snap(100, 30, 25)

	assert.Equal(t, 15, ExcludingHolds(s, 10).Reserved)
	assert.Equal(t, 0, ExcludingHolds(s, 40).Reserved, "reserved is floored at zero")
	assert.Equal(t, 25, ExcludingHolds(s, -5).Reserved)
	assert.Equal(t, 25, s.Reserved, "input is not modified")
}

func TestCanRemove(t *testing.T) {
	tests := []struct {
		name    string
		s       domain.InventorySnapshot
		heldQty int
		qty     int
		want    bool
	}{
		{"own hold only", snap(10, 0, 10), 10, 10, true},
		{"allocation of another order on the shelf", snap(10, 10, 10), 10, 10, false},
		{"other holds at the row", snap(20, 0, 20), 10, 10, true},
		{"other holds exceed what remains", snap(15, 0, 20), 10, 10, false},
		{"nothing held", snap(10, 5, 0), 0, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanRemove(tt.s, tt.heldQty, tt.qty))
		})
	}
}
