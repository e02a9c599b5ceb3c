package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("allocate: %w", InsufficientInventory("SKU-1", 60, 40))

	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.NotErrorIs(t, err, ErrInventoryNotFound)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "SKU-1", de.SKU)
	assert.Equal(t, 60, de.Requested)
	assert.Equal(t, 40, de.Available)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "insufficient inventory (sku=SKU-1 requested=5 available=2)",
		InsufficientInventory("SKU-1", 5, 2).Error())
	assert.Equal(t, "invalid order status (order=o1 status=CANCELLED): cannot allocate",
		InvalidOrderStatus("o1", OrderStatusCancelled, "cannot allocate").Error())
	assert.Equal(t, "order not found (order=o9)", OrderNotFound("o9").Error())
}

func TestError_CauseIsKept(t *testing.T) {
	err := Timeout(context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ConcurrencyConflict(errors.New("version moved"))))
	assert.True(t, IsRetryable(Timeout(nil)))
	assert.False(t, IsRetryable(InsufficientInventory("SKU-1", 1, 0)))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrInventoryNotFound, KindOf(InventoryNotFound("SKU-1", "main")))
	assert.Equal(t, ErrConcurrencyConflict, KindOf(fmt.Errorf("update: %w", ErrConcurrencyConflict)))
	assert.Nil(t, KindOf(errors.New("boom")))
}
