package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type fakeLedger struct {
	deducts   []inventory.DeductInput
	batches   [][]inventory.AddStockInput
	fulfilled []uuid.UUID
	refuse    map[int64]bool
	applied   map[int64]bool
	batchRes  inventory.BatchResult
	err       error
}

func (f *fakeLedger) DeductStock(ctx context.Context, input inventory.DeductInput) (inventory.MutationResult, error) {
	if f.err != nil {
		return inventory.MutationResult{}, f.err
	}
	f.deducts = append(f.deducts, input)
	if f.refuse[input.ProductID] {
		return inventory.MutationResult{Failure: &inventory.Failure{Reason: inventory.FailureInsufficientStock, Message: "insufficient"}}, nil
	}
	if f.applied[input.ProductID] {
		return inventory.MutationResult{Failure: &inventory.Failure{Reason: inventory.FailureDuplicate, Message: "already applied"}}, nil
	}
	return inventory.MutationResult{Success: true}, nil
}

func (f *fakeLedger) AddStockBatch(ctx context.Context, items []inventory.AddStockInput) (inventory.BatchResult, error) {
	f.batches = append(f.batches, items)
	return f.batchRes, f.err
}

func (f *fakeLedger) FulfillReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	f.fulfilled = append(f.fulfilled, id)
	return true, nil
}

func TestHandleSaleCompletedDeductsLines(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, nil)
	reservation := uuid.New()

	err := hooks.HandleSaleCompleted(context.Background(), SaleCompletedEvent{
		Number:         "SO-10",
		WarehouseID:    3,
		Lines:          []SaleLine{{ProductID: 1, Qty: 2}, {ProductID: 2, Qty: 0}, {ProductID: 4, Qty: 1}},
		ReservationIDs: []uuid.UUID{reservation},
	})
	require.NoError(t, err)
	require.Len(t, ledger.deducts, 2)
	assert.Equal(t, "SO:SO-10:1", ledger.deducts[0].ReferenceID)
	assert.Equal(t, "SO:SO-10:3", ledger.deducts[1].ReferenceID)
	assert.Equal(t, int64(3), ledger.deducts[1].WarehouseID)
	assert.Equal(t, []uuid.UUID{reservation}, ledger.fulfilled)
}

func TestHandleSaleCompletedReportsRefusedLines(t *testing.T) {
	ledger := &fakeLedger{refuse: map[int64]bool{2: true}}
	hooks := NewHooks(ledger, nil)

	err := hooks.HandleSaleCompleted(context.Background(), SaleCompletedEvent{
		Number:      "SO-11",
		WarehouseID: 1,
		Lines:       []SaleLine{{ProductID: 1, Qty: 1}, {ProductID: 2, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrStockRejected)
	assert.Contains(t, err.Error(), "product 2")
	assert.Len(t, ledger.deducts, 2, "every line is attempted")
}

func TestHandleSaleCompletedSkipsAppliedLines(t *testing.T) {
	ledger := &fakeLedger{applied: map[int64]bool{1: true}}
	hooks := NewHooks(ledger, nil)

	err := hooks.HandleSaleCompleted(context.Background(), SaleCompletedEvent{
		Number:      "SO-13",
		WarehouseID: 1,
		Lines:       []SaleLine{{ProductID: 1, Qty: 1}, {ProductID: 2, Qty: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, ledger.deducts, 2)
}

func TestHandleSaleCompletedStopsOnInfraError(t *testing.T) {
	boom := errors.New("db down")
	hooks := NewHooks(&fakeLedger{err: boom}, nil)

	err := hooks.HandleSaleCompleted(context.Background(), SaleCompletedEvent{Number: "SO-12", WarehouseID: 1, Lines: []SaleLine{{ProductID: 1, Qty: 1}}})
	require.ErrorIs(t, err, boom)
}

func TestHandleGoodsReceivedBuildsBatch(t *testing.T) {
	ledger := &fakeLedger{batchRes: inventory.BatchResult{Failures: []inventory.BatchFailure{
		{Index: 1, Input: inventory.AddStockInput{ProductID: 8}, Failure: &inventory.Failure{Reason: inventory.FailureDuplicate}},
	}}}
	hooks := NewHooks(ledger, nil)

	err := hooks.HandleGoodsReceived(context.Background(), GoodsReceivedEvent{
		Number:      "GRN-5",
		WarehouseID: 2,
		Lines: []ReceiptLine{
			{ProductID: 7, Qty: 4, UnitCost: decimal.RequireFromString("12.5"), LotNumber: "L1"},
			{ProductID: 8, Qty: 1, UnitCost: decimal.RequireFromString("3")},
		},
	})
	require.NoError(t, err, "duplicates of a redelivered receipt are ignored")
	require.Len(t, ledger.batches, 1)
	items := ledger.batches[0]
	require.Len(t, items, 2)
	assert.Equal(t, "GRN:GRN-5:1", items[0].ReferenceID)
	assert.Equal(t, "L1", items[0].LotNumber)
	assert.Equal(t, int64(2), items[1].WarehouseID)
}

func TestHandleGoodsReceivedReportsValidation(t *testing.T) {
	ledger := &fakeLedger{batchRes: inventory.BatchResult{Failures: []inventory.BatchFailure{
		{Index: 0, Input: inventory.AddStockInput{ProductID: 7}, Failure: &inventory.Failure{Reason: inventory.FailureValidation, Message: "quantity must be positive"}},
	}}}
	hooks := NewHooks(ledger, nil)

	err := hooks.HandleGoodsReceived(context.Background(), GoodsReceivedEvent{
		Number: "GRN-6", WarehouseID: 2, Lines: []ReceiptLine{{ProductID: 7}},
	})
	require.ErrorIs(t, err, ErrStockRejected)
}

func TestNilHooksAreNoop(t *testing.T) {
	var hooks *Hooks
	assert.NoError(t, hooks.HandleSaleCompleted(context.Background(), SaleCompletedEvent{}))
	assert.NoError(t, hooks.HandleGoodsReceived(context.Background(), GoodsReceivedEvent{}))
}
