package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReservation_Holds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Reservation{Status: ReservationStatusActive, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, r.Holds(now))
	assert.False(t, r.Holds(now.Add(time.Minute)), "a hold ends exactly at its expiry")

	r.Status = ReservationStatusReleased
	assert.False(t, r.Holds(now))
}

func TestNewSnapshot(t *testing.T) {
	now := time.Now()
	s := NewSnapshot(SnapshotKey{TenantID: "t1", SKU: "SKU-1", LocationID: "east"}, 12, now)

	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, 12, s.OnHand)
	assert.Zero(t, s.Allocated)
	assert.Equal(t, "SKU-1@east", s.Key().EntityID())
	assert.Equal(t, InventoryState{OnHand: 12, Version: 1}, s.State())
}
