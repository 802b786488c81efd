package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncDeliversOneOutcome(t *testing.T) {
	h := newHarness(t, Config{})
	h.receive(t, 1, 1, 5, "2")

	ch := Async(context.Background(), func(ctx context.Context) (TransferResult, error) {
		return h.svc.TransferStock(ctx, TransferInput{ProductID: 1, SourceWarehouseID: 1, TargetWarehouseID: 2, Quantity: 5})
	})

	select {
	case out := <-ch:
		require.NoError(t, out.Err)
		assert.True(t, out.Value.Success)
	case <-time.After(time.Second):
		t.Fatal("no outcome delivered")
	}
	_, open := <-ch
	assert.False(t, open)
}

func TestAsyncCancellationWhileQueued(t *testing.T) {
	h := newHarness(t, Config{})
	release, _, err := h.svc.gate.Enter(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := Async(ctx, func(ctx context.Context) (MutationResult, error) {
		return h.svc.AdjustStock(ctx, AdjustInput{ProductID: 1, WarehouseID: 1, QuantityDelta: 1})
	})
	cancel()
	out := <-ch
	release()

	require.ErrorIs(t, out.Err, ErrAborted)
	assert.Zero(t, h.repo.txCount.Load())
}
