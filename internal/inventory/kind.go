package inventory

import "fmt"

// MovementKind enumerates ledger movements. The set is closed: code that
// branches on a kind goes through MatchKind.
type MovementKind string

const (
	KindPurchase        MovementKind = "PURCHASE"
	KindSale            MovementKind = "SALE"
	KindTransfer        MovementKind = "TRANSFER"
	KindAdjustmentPlus  MovementKind = "ADJUSTMENT_PLUS"
	KindAdjustmentMinus MovementKind = "ADJUSTMENT_MINUS"
)

// KindCases has one method per movement kind. Implementations must handle
// every kind, so a new kind fails compilation at each call site.
type KindCases[T any] interface {
	Purchase() T
	Sale() T
	Transfer() T
	AdjustmentPlus() T
	AdjustmentMinus() T
}

// MatchKind dispatches kind to the matching case.
func MatchKind[T any](kind MovementKind, cases KindCases[T]) (T, error) {
	switch kind {
	case KindPurchase:
		return cases.Purchase(), nil
	case KindSale:
		return cases.Sale(), nil
	case KindTransfer:
		return cases.Transfer(), nil
	case KindAdjustmentPlus:
		return cases.AdjustmentPlus(), nil
	case KindAdjustmentMinus:
		return cases.AdjustmentMinus(), nil
	}
	var zero T
	return zero, fmt.Errorf("inventory: unknown movement kind %q", kind)
}

// ParseMovementKind validates a kind received from outside the package.
func ParseMovementKind(s string) (MovementKind, error) {
	kind := MovementKind(s)
	if _, err := MatchKind[struct{}](kind, kindNames{}); err != nil {
		return "", err
	}
	return kind, nil
}

type kindNames struct{}

func (kindNames) Purchase() struct{}        { return struct{}{} }
func (kindNames) Sale() struct{}            { return struct{}{} }
func (kindNames) Transfer() struct{}        { return struct{}{} }
func (kindNames) AdjustmentPlus() struct{}  { return struct{}{} }
func (kindNames) AdjustmentMinus() struct{} { return struct{}{} }

// flow says which warehouse fields a kind populates.
type flow struct {
	fromSource bool
	toTarget   bool
}

type kindFlow struct{}

func (kindFlow) Purchase() flow        { return flow{toTarget: true} }
func (kindFlow) Sale() flow            { return flow{fromSource: true} }
func (kindFlow) Transfer() flow        { return flow{fromSource: true, toTarget: true} }
func (kindFlow) AdjustmentPlus() flow  { return flow{toTarget: true} }
func (kindFlow) AdjustmentMinus() flow { return flow{fromSource: true} }

// NetEffect returns the signed quantity change an entry applies to warehouseID.
func (e LedgerEntry) NetEffect(warehouseID int64) (int64, error) {
	f, err := MatchKind[flow](e.Kind, kindFlow{})
	if err != nil {
		return 0, err
	}
	var delta int64
	if f.fromSource && e.SourceWarehouseID == warehouseID {
		delta -= e.Quantity
	}
	if f.toTarget && e.TargetWarehouseID == warehouseID {
		delta += e.Quantity
	}
	return delta, nil
}

// newLedgerEntry places warehouseID on the side the kind moves stock from or to.
func newLedgerEntry(kind MovementKind, productID, warehouseID, qty int64) (LedgerEntry, error) {
	f, err := MatchKind[flow](kind, kindFlow{})
	if err != nil {
		return LedgerEntry{}, err
	}
	entry := LedgerEntry{Kind: kind, ProductID: productID, Quantity: qty}
	if f.fromSource {
		entry.SourceWarehouseID = warehouseID
	}
	if f.toTarget {
		entry.TargetWarehouseID = warehouseID
	}
	return entry, nil
}

type kindAction struct{}

func (kindAction) Purchase() string        { return "inventory:receipt" }
func (kindAction) Sale() string            { return "inventory:sale" }
func (kindAction) Transfer() string        { return "inventory:transfer" }
func (kindAction) AdjustmentPlus() string  { return "inventory:adjust" }
func (kindAction) AdjustmentMinus() string { return "inventory:adjust" }

func auditAction(kind MovementKind) string {
	action, err := MatchKind[string](kind, kindAction{})
	if err != nil {
		return "inventory:unknown"
	}
	return action
}
