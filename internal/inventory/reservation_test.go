package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestReserveStockBoundByNetAvailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 20, "10")
	ctx := context.Background()

	first, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 5, ReferenceType: "SO", ReferenceID: "SO-1"})
	require.NoError(t, err)
	require.True(t, first.Success)

	over, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 16, ReferenceType: "SO", ReferenceID: "SO-2"})
	require.NoError(t, err)
	require.NotNil(t, over.Failure)
	assert.Equal(t, FailureInsufficientAvailable, over.Failure.Reason)
	assert.Equal(t, int64(16), over.Failure.Requested)
	assert.Equal(t, int64(15), over.Failure.Available)

	fits, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 15, ReferenceType: "SO", ReferenceID: "SO-3"})
	require.NoError(t, err)
	require.True(t, fits.Success)

	availability, err := h.svc.GetAvailableStock(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Availability{ProductID: 1, WarehouseID: 1, Physical: 20, Reserved: 20, NetAvailable: 0}, availability)
	assert.Equal(t, int64(20), h.repo.record(1, 1).Quantity, "reservations never touch the record")
}

func TestReserveStockRecordsHolder(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 2, "1")
	ctx := shared.ContextWithActor(context.Background(), "planner")

	res, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 2, ReferenceType: "WO", ReferenceID: "WO-4"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "planner", res.Reservation.Holder)
	assert.Equal(t, ReservationActive, res.Reservation.Status)
	assert.NotEqual(t, uuid.Nil, res.Reservation.ID)
}

func TestReserveStockValidation(t *testing.T) {
	h := newHarness(t, Config{})
	past := h.clock.Now().Add(-time.Minute)

	cases := []ReserveInput{
		{ProductID: 1, WarehouseID: 1, Quantity: 0},
		{ProductID: 0, WarehouseID: 1, Quantity: 1},
		{ProductID: 1, WarehouseID: 1, Quantity: 1, ExpiresAt: &past},
	}
	for _, input := range cases {
		res, err := h.svc.ReserveStock(context.Background(), input)
		require.NoError(t, err)
		require.NotNil(t, res.Failure)
		assert.Equal(t, FailureValidation, res.Failure.Reason)
	}
	assert.Zero(t, h.repo.txCount.Load())
}

func TestCancelReservationIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 10, "1")
	ctx := context.Background()

	res, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 4})
	require.NoError(t, err)

	ok, err := h.svc.CancelReservation(ctx, res.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.svc.CancelReservation(ctx, res.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.svc.CancelReservation(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	reserved, err := h.svc.GetReservedQuantity(ctx, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, reserved)
	assert.Equal(t, ReservationCancelled, h.repo.reservations[res.Reservation.ID].Status)
}

func TestFulfillReservation(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 10, "1")
	ctx := context.Background()
	expires := h.clock.Now().Add(time.Hour)

	live, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 3})
	require.NoError(t, err)
	stale, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 2, ExpiresAt: &expires})
	require.NoError(t, err)

	ok, err := h.svc.FulfillReservation(ctx, live.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ReservationFulfilled, h.repo.reservations[live.Reservation.ID].Status)

	h.clock.Advance(2 * time.Hour)
	ok, err = h.svc.FulfillReservation(ctx, stale.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, ok, "expired reservations cannot be fulfilled")
}

func TestExpiredReservationsAreFilteredLazily(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 10, "1")
	ctx := context.Background()
	expires := h.clock.Now().Add(30 * time.Minute)

	_, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 6, ExpiresAt: &expires})
	require.NoError(t, err)
	_, err = h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.NoError(t, err)

	reserved, err := h.svc.GetReservedQuantity(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reserved)

	h.clock.Advance(time.Hour)
	reserved, err = h.svc.GetReservedQuantity(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reserved)

	var stillActive int
	for _, r := range h.repo.reservations {
		if r.Active {
			stillActive++
		}
	}
	assert.Equal(t, 2, stillActive, "reads do not deactivate expired rows")

	res, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 9})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSweepExpiredReservationsKeepsSums(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 10, "1")
	ctx := context.Background()
	expires := h.clock.Now().Add(time.Minute)

	expiring, err := h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 4, ExpiresAt: &expires})
	require.NoError(t, err)
	_, err = h.svc.ReserveStock(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 2})
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	before, err := h.svc.GetReservedQuantity(ctx, 1, 1)
	require.NoError(t, err)

	swept, err := h.svc.SweepExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	after, err := h.svc.GetReservedQuantity(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, ReservationExpired, h.repo.reservations[expiring.Reservation.ID].Status)

	swept, err = h.svc.SweepExpiredReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestReservationInfraFailureIsReturned(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 10, "1")
	h.repo.failOn = "InsertReservation"

	_, err := h.svc.ReserveStock(context.Background(), ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, errInjected)
	assert.Empty(t, h.repo.reservations)
}
