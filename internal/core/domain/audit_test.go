package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditKey = SnapshotKey{TenantID: "t1", SKU: "SKU-1", LocationID: "main"}

func inventoryRecord(t *testing.T, id string, before, after InventoryState) AuditRecord {
	t.Helper()
	r, err := NewInventoryAudit(id, auditKey, AuditActionAdjustment, before, after, nil, "tester", time.Now())
	require.NoError(t, err)
	return r
}

func TestNewInventoryAudit(t *testing.T) {
	r := inventoryRecord(t, "a1", InventoryState{}, InventoryState{OnHand: 10, Version: 1})

	assert.Equal(t, AuditEntityInventory, r.EntityType)
	assert.Equal(t, "SKU-1@main", r.EntityID)
	assert.Equal(t, "t1", r.TenantID)
	assert.JSONEq(t, `{"onHand":10,"allocated":0,"version":1}`, string(r.After))
}

func TestReplayInventory(t *testing.T) {
	records := []AuditRecord{
		inventoryRecord(t, "a1", InventoryState{}, InventoryState{OnHand: 100, Version: 1}),
		inventoryRecord(t, "a2", InventoryState{OnHand: 100, Version: 1}, InventoryState{OnHand: 100, Allocated: 30, Version: 2}),
		inventoryRecord(t, "a3", InventoryState{OnHand: 100, Allocated: 30, Version: 2}, InventoryState{OnHand: 70, Version: 3}),
	}

	state, err := ReplayInventory(records)
	require.NoError(t, err)
	assert.Equal(t, InventoryState{OnHand: 70, Allocated: 0, Version: 3}, state)
}

func TestReplayInventory_SkipsOrderRecords(t *testing.T) {
	order, err := NewOrderAudit("o-a1", Order{ID: "o1", TenantID: "t1"}, AuditActionAllocation,
		OrderState{Status: OrderStatusDraft}, OrderState{Status: OrderStatusSubmitted}, nil, "tester", time.Now())
	require.NoError(t, err)

	state, err := ReplayInventory([]AuditRecord{
		inventoryRecord(t, "a1", InventoryState{}, InventoryState{OnHand: 5, Version: 1}),
		order,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, state.OnHand)
}

func TestReplayInventory_DetectsDrift(t *testing.T) {
	records := []AuditRecord{
		inventoryRecord(t, "a1", InventoryState{}, InventoryState{OnHand: 100, Version: 1}),
		inventoryRecord(t, "a2", InventoryState{OnHand: 90, Version: 1}, InventoryState{OnHand: 80, Version: 2}),
	}

	_, err := ReplayInventory(records)
	assert.ErrorContains(t, err, "drift")
}

func TestInventoryStates_RejectsOrderRecord(t *testing.T) {
	r, err := NewOrderAudit("o-a1", Order{ID: "o1", TenantID: "t1"}, AuditActionRelease,
		OrderState{Status: OrderStatusDraft}, OrderState{Status: OrderStatusCancelled}, nil, "tester", time.Now())
	require.NoError(t, err)

	_, _, err = r.InventoryStates()
	assert.Error(t, err)
}
