package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Direction tells whether a movement raised or lowered a record.
type Direction string

const (
	DirectionIncrease Direction = "INCREASE"
	DirectionDecrease Direction = "DECREASE"
)

// MovementEvent notifies subscribers of one committed quantity change at
// one warehouse. A transfer produces two events sharing LedgerEntryID.
type MovementEvent struct {
	LedgerEntryID int64           `json:"ledger_entry_id"`
	Kind          MovementKind    `json:"kind"`
	Direction     Direction       `json:"direction"`
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	Quantity      int64           `json:"quantity"`
	NewQuantity   int64           `json:"new_quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EventSink receives movement events after commit.
type EventSink interface {
	Publish(ctx context.Context, evt MovementEvent) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

func movementEvents(entry LedgerEntry, source, target Record) []MovementEvent {
	base := MovementEvent{
		LedgerEntryID: entry.ID,
		Kind:          entry.Kind,
		ProductID:     entry.ProductID,
		Quantity:      entry.Quantity,
		UnitCost:      entry.UnitCost,
		ReferenceID:   entry.ReferenceID,
		Actor:         entry.Actor,
		OccurredAt:    entry.PostedAt,
	}
	var events []MovementEvent
	if entry.SourceWarehouseID != 0 {
		evt := base
		evt.Direction = DirectionDecrease
		evt.WarehouseID = entry.SourceWarehouseID
		evt.NewQuantity = source.Quantity
		events = append(events, evt)
	}
	if entry.TargetWarehouseID != 0 {
		evt := base
		evt.Direction = DirectionIncrease
		evt.WarehouseID = entry.TargetWarehouseID
		evt.NewQuantity = target.Quantity
		events = append(events, evt)
	}
	return events
}
