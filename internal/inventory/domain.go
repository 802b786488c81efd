package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Product is the catalog view the ledger needs. Owned by the catalog module.
type Product struct {
	ID           int64
	Name         string
	MinimumStock int64
	Unit         string
}

// Record holds the quantity and average cost of a product in one warehouse.
type Record struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Value returns quantity times average cost, unrounded.
func (r Record) Value() decimal.Decimal {
	return decimal.NewFromInt(r.Quantity).Mul(r.AverageCost)
}

// LedgerEntry is the immutable record of one stock movement.
type LedgerEntry struct {
	ID                int64           `json:"id"`
	PostedAt          time.Time       `json:"posted_at"`
	ProductID         int64           `json:"product_id"`
	SourceWarehouseID int64           `json:"source_warehouse_id,omitempty"`
	TargetWarehouseID int64           `json:"target_warehouse_id,omitempty"`
	Quantity          int64           `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Kind              MovementKind    `json:"kind"`
	Description       string          `json:"description,omitempty"`
	ReferenceID       string          `json:"reference_id,omitempty"`
	Actor             string          `json:"actor,omitempty"`
}

// ReservationStatus tells why a reservation is or is no longer active.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation soft-allocates stock to a pending demand.
type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	ProductID     int64             `json:"product_id"`
	WarehouseID   int64             `json:"warehouse_id"`
	Quantity      int64             `json:"quantity"`
	ReferenceType string            `json:"reference_type"`
	ReferenceID   string            `json:"reference_id"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Active        bool              `json:"active"`
	Status        ReservationStatus `json:"status"`
	Holder        string            `json:"holder"`
	CreatedAt     time.Time         `json:"created_at"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
}

// CountsAt reports whether the reservation holds stock at the given instant.
func (r Reservation) CountsAt(at time.Time) bool {
	if !r.Active {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(at)
}

// Lot tracks a received batch or serial unit with an expiry.
type Lot struct {
	ID           int64      `json:"id"`
	ProductID    int64      `json:"product_id"`
	WarehouseID  int64      `json:"warehouse_id"`
	LotNumber    string     `json:"lot_number"`
	SerialNumber string     `json:"serial_number"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// TransferInput moves units between two warehouses.
type TransferInput struct {
	ProductID         int64
	SourceWarehouseID int64
	TargetWarehouseID int64
	Quantity          int64
	Description       string
	ReferenceID       string
}

// AdjustInput corrects the quantity of a pair by a signed delta.
type AdjustInput struct {
	ProductID     int64
	WarehouseID   int64
	QuantityDelta int64
	Reason        string
	ReferenceID   string
}

// AddStockInput receives priced units, e.g. on purchase completion.
type AddStockInput struct {
	ProductID    int64
	WarehouseID  int64
	Quantity     int64
	UnitCost     decimal.Decimal
	ReferenceID  string
	Description  string
	LotNumber    string
	SerialNumber string
	ExpiresAt    *time.Time
}

// DeductInput issues units on sale completion.
type DeductInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	ReferenceID string
	Description string
}

// ReserveInput allocates stock to a referenced demand.
type ReserveInput struct {
	ProductID     int64
	WarehouseID   int64
	Quantity      int64
	ReferenceType string
	ReferenceID   string
	ExpiresAt     *time.Time
}

// FailureReason classifies recoverable outcomes.
type FailureReason string

const (
	FailureValidation            FailureReason = "VALIDATION"
	FailureInsufficientStock     FailureReason = "INSUFFICIENT_STOCK"
	FailureInsufficientAvailable FailureReason = "INSUFFICIENT_AVAILABLE"
	FailureDuplicate             FailureReason = "DUPLICATE"
)

// Failure describes a validation or business-rule rejection. It never
// signals an infrastructure fault; those are returned as errors.
type Failure struct {
	Reason    FailureReason
	Message   string
	Requested int64
	Available int64
}

func (f *Failure) Error() string {
	return "inventory: " + f.Message
}

func validationFailure(format string, args ...any) *Failure {
	return &Failure{Reason: FailureValidation, Message: fmt.Sprintf(format, args...)}
}

func insufficientStock(requested, available int64) *Failure {
	return &Failure{
		Reason:    FailureInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock: requested %d, available %d", requested, available),
		Requested: requested,
		Available: available,
	}
}

func insufficientAvailable(requested, available int64) *Failure {
	return &Failure{
		Reason:    FailureInsufficientAvailable,
		Message:   fmt.Sprintf("insufficient available stock: requested %d, net available %d", requested, available),
		Requested: requested,
		Available: available,
	}
}

// MutationResult is returned by adjust, add and deduct.
type MutationResult struct {
	Success       bool
	LedgerEntryID int64
	Record        Record
	Failure       *Failure
}

// Err returns the failure as an error, or nil on success.
func (r MutationResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// TransferResult is returned by TransferStock.
type TransferResult struct {
	Success       bool
	LedgerEntryID int64
	Source        Record
	Target        Record
	Failure       *Failure
}

// Err returns the failure as an error, or nil on success.
func (r TransferResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// ReservationResult is returned by ReserveStock.
type ReservationResult struct {
	Success     bool
	Reservation Reservation
	Failure     *Failure
}

// Err returns the failure as an error, or nil on success.
func (r ReservationResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// BatchFailure ties a failed batch item to its position.
type BatchFailure struct {
	Index   int
	Input   AddStockInput
	Failure *Failure
	Err     error
}

// BatchResult aggregates a batch receipt.
type BatchResult struct {
	Succeeded []MutationResult
	Failures  []BatchFailure
	Failure   *Failure
}

// Availability summarises physical and reserved stock for a pair.
type Availability struct {
	ProductID    int64 `json:"product_id"`
	WarehouseID  int64 `json:"warehouse_id"`
	Physical     int64 `json:"physical"`
	Reserved     int64 `json:"reserved"`
	NetAvailable int64 `json:"net_available"`
}

// LowStockItem is a record under its product minimum.
type LowStockItem struct {
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	WarehouseID  int64  `json:"warehouse_id"`
	Quantity     int64  `json:"quantity"`
	MinimumStock int64  `json:"minimum_stock"`
	Unit         string `json:"unit"`
}

// ExpiringLot is a lot whose expiry falls inside the requested window.
type ExpiringLot struct {
	Lot
	Quantity     int64 `json:"quantity"`
	DaysToExpiry int   `json:"days_to_expiry"`
}

// ExpiringFilter selects lots expiring in [Since, Until].
type ExpiringFilter struct {
	WarehouseID int64
	Since       time.Time
	Until       time.Time
	Limit       int
}

// LedgerFilter selects ledger entries for history.
type LedgerFilter struct {
	ProductID   int64
	WarehouseID int64
	Kind        MovementKind
	From        time.Time
	To          time.Time
	Page        int
	PerPage     int
}

// ReconcileReport compares a record with its ledger.
type ReconcileReport struct {
	ProductID      int64 `json:"product_id"`
	WarehouseID    int64 `json:"warehouse_id"`
	RecordQuantity int64 `json:"record_quantity"`
	LedgerQuantity int64 `json:"ledger_quantity"`
}

// Balanced reports whether record and ledger agree.
func (r ReconcileReport) Balanced() bool {
	return r.RecordQuantity == r.LedgerQuantity
}

// ErrRecordNotFound indicates a missing inventory record.
var ErrRecordNotFound = errors.New("inventory record not found")

// ErrReservationNotFound indicates a missing reservation.
var ErrReservationNotFound = errors.New("inventory reservation not found")

// ErrInvalidThreshold indicates a negative expiry window.
var ErrInvalidThreshold = fmt.Errorf("inventory: %w: days threshold must be >= 0", shared.ErrInvalidInput)
