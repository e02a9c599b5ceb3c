package domain

import "time"

const (
	EventTypeInventoryStockChanged = "inventory.stock_changed"
	EventTypeOrderStatusUpdated    = "order.status_updated"
)

type StockChangedEvent struct {
	EventID    string    `json:"eventId"`
	TenantID   string    `json:"tenantId"`
	SKU        string    `json:"skuId"`
	LocationID string    `json:"locationId"`
	OnHand     int       `json:"onHand"`
	Allocated  int       `json:"allocated"`
	Reserved   int       `json:"reserved"`
	Available  int       `json:"available"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type OrderStatusEvent struct {
	EventID        string      `json:"eventId"`
	TenantID       string      `json:"tenantId"`
	OrderID        string      `json:"orderId"`
	PreviousStatus OrderStatus `json:"previousStatus"`
	Status         OrderStatus `json:"status"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
