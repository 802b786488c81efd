package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error)
	ReservedQuantity(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error)
	InventoryValue(ctx context.Context, warehouseID int64) (decimal.Decimal, error)
	LowStock(ctx context.Context, warehouseID int64) ([]LowStockItem, error)
	ExpiringLots(ctx context.Context, filter ExpiringFilter) ([]ExpiringLot, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error)
	LedgerNet(ctx context.Context, productID, warehouseID int64) (int64, error)
}

// IdempotencyPort guards receipts against being applied twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ErrAborted wraps a context error raised before the gate was acquired;
// nothing was written.
var ErrAborted = errors.New("inventory: operation aborted before start")

const (
	opTransfer = "transfer"
	opAdjust   = "adjust"
	opReceive  = "receive"
	opDeduct   = "deduct"
	opReserve  = "reserve"
	opCancel   = "cancel_reservation"
	opFulfil   = "fulfil_reservation"
	opSweep    = "sweep_reservations"

	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeAborted  = "aborted"

	idempotencyModule = "inventory"
)

// Config groups engine policies.
type Config struct {
	// AllowNegativeSales lets DeductStock take a record below zero.
	AllowNegativeSales bool
	// ExpiringLimit caps ExpiringStock results.
	ExpiringLimit int
	// EventBuffer sizes the post-commit notification queue.
	EventBuffer int
}

// Options carries the collaborators of Service. Every field is optional.
type Options struct {
	Audit       AuditPort
	Events      EventSink
	Identity    shared.IdentityProvider
	Idempotency IdempotencyPort
	Logger      *slog.Logger
	Metrics     *Metrics
	Clock       func() time.Time
}

// Service is the stock mutation engine. Mutations are serialized through a
// single Gate and each runs in one repository transaction.
type Service struct {
	repo        RepositoryPort
	cfg         Config
	gate        *Gate
	audit       AuditPort
	events      EventSink
	identity    shared.IdentityProvider
	idempotency IdempotencyPort
	logger      *slog.Logger
	metrics     *Metrics
	clock       func() time.Time
	notify      *notifier
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg Config, opts Options) *Service {
	if cfg.ExpiringLimit <= 0 {
		cfg.ExpiringLimit = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	identity := opts.Identity
	if identity == nil {
		identity = shared.ContextIdentity{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        repo,
		cfg:         cfg,
		gate:        NewGate(),
		audit:       opts.Audit,
		events:      opts.Events,
		identity:    identity,
		idempotency: opts.Idempotency,
		logger:      logger,
		metrics:     opts.Metrics,
		clock:       clock,
		notify:      newNotifier(logger, opts.Metrics, cfg.EventBuffer),
	}
}

// Close flushes pending events and audit records. The service must not be
// used afterwards.
func (s *Service) Close() {
	s.notify.close()
}

// TransferStock moves units between warehouses as one ledger entry.
func (s *Service) TransferStock(ctx context.Context, input TransferInput) (TransferResult, error) {
	actor := s.identity.CurrentActor(ctx)
	subject := recordKey(input.ProductID, input.SourceWarehouseID)
	if f := validateTransfer(input); f != nil {
		s.rejected(opTransfer, subject, actor, f)
		return TransferResult{Failure: f}, nil
	}
	var result TransferResult
	var entry LedgerEntry
	err := s.mutate(ctx, opTransfer, func(ctx context.Context, tx TxRepository) error {
		records, err := lockPair(ctx, tx, input.ProductID, input.SourceWarehouseID, input.TargetWarehouseID)
		if err != nil {
			return err
		}
		source, ok := records[input.SourceWarehouseID]
		if !ok {
			return insufficientStock(input.Quantity, 0)
		}
		if source.Quantity < input.Quantity {
			return insufficientStock(input.Quantity, source.Quantity)
		}
		target, ok := records[input.TargetWarehouseID]
		if !ok {
			// A new location inherits the cost basis of the units it receives.
			target = Record{ProductID: input.ProductID, WarehouseID: input.TargetWarehouseID, AverageCost: source.AverageCost}
		}
		now := s.now()
		source.Quantity -= input.Quantity
		source.UpdatedAt = now
		target.Quantity += input.Quantity
		target.UpdatedAt = now
		if err := tx.UpsertRecord(ctx, source); err != nil {
			return err
		}
		if err := tx.UpsertRecord(ctx, target); err != nil {
			return err
		}
		entry = LedgerEntry{
			PostedAt:          now,
			ProductID:         input.ProductID,
			SourceWarehouseID: input.SourceWarehouseID,
			TargetWarehouseID: input.TargetWarehouseID,
			Quantity:          input.Quantity,
			UnitCost:          source.AverageCost,
			Kind:              KindTransfer,
			Description:       input.Description,
			ReferenceID:       input.ReferenceID,
			Actor:             actor,
		}
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		result = TransferResult{Success: true, LedgerEntryID: id, Source: source, Target: target}
		return nil
	})
	if f, ok := asFailure(err); ok {
		s.rejected(opTransfer, subject, actor, f)
		return TransferResult{Failure: f}, nil
	}
	if err != nil {
		return TransferResult{}, s.failed(opTransfer, subject, actor, err)
	}
	s.committed(opTransfer, entry, result.Source, result.Target)
	return result, nil
}

// AdjustStock applies a signed correction. The average cost is untouched.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (MutationResult, error) {
	actor := s.identity.CurrentActor(ctx)
	subject := recordKey(input.ProductID, input.WarehouseID)
	if f := validateAdjust(input); f != nil {
		s.rejected(opAdjust, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	kind := KindAdjustmentPlus
	qty := input.QuantityDelta
	if qty < 0 {
		kind = KindAdjustmentMinus
		qty = -qty
	}
	var result MutationResult
	var entry LedgerEntry
	err := s.mutate(ctx, opAdjust, func(ctx context.Context, tx TxRepository) error {
		rec, err := lockRecord(ctx, tx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		now := s.now()
		rec.Quantity += input.QuantityDelta
		rec.UpdatedAt = now
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		entry, err = newLedgerEntry(kind, input.ProductID, input.WarehouseID, qty)
		if err != nil {
			return err
		}
		entry.PostedAt = now
		entry.UnitCost = rec.AverageCost
		entry.Description = input.Reason
		entry.ReferenceID = input.ReferenceID
		entry.Actor = actor
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		result = MutationResult{Success: true, LedgerEntryID: id, Record: rec}
		return nil
	})
	if err != nil {
		return MutationResult{}, s.failed(opAdjust, subject, actor, err)
	}
	s.committed(opAdjust, entry, result.Record, result.Record)
	return result, nil
}

// AddStock receives priced units and recomputes the weighted average cost.
// It is the only operation that changes AverageCost.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (MutationResult, error) {
	actor := s.identity.CurrentActor(ctx)
	subject := recordKey(input.ProductID, input.WarehouseID)
	if f := validateAddStock(input); f != nil {
		s.rejected(opReceive, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	key, f, err := s.claimReference(ctx, KindPurchase, input.ReferenceID, input.WarehouseID, input.ProductID)
	if err != nil {
		return MutationResult{}, s.failed(opReceive, subject, actor, err)
	}
	if f != nil {
		s.rejected(opReceive, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	var result MutationResult
	var entry LedgerEntry
	err = s.mutate(ctx, opReceive, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.ProductID, input.WarehouseID)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			rec = Record{ProductID: input.ProductID, WarehouseID: input.WarehouseID, AverageCost: RoundCost(input.UnitCost)}
		case err != nil:
			return err
		default:
			rec.AverageCost = RoundCost(WeightedAverageCost(rec.Quantity, rec.AverageCost, input.Quantity, input.UnitCost))
		}
		now := s.now()
		rec.Quantity += input.Quantity
		rec.UpdatedAt = now
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		entry, err = newLedgerEntry(KindPurchase, input.ProductID, input.WarehouseID, input.Quantity)
		if err != nil {
			return err
		}
		entry.PostedAt = now
		entry.UnitCost = RoundCost(input.UnitCost)
		entry.Description = input.Description
		entry.ReferenceID = input.ReferenceID
		entry.Actor = actor
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		if input.LotNumber != "" || input.SerialNumber != "" || input.ExpiresAt != nil {
			if _, err := tx.InsertLot(ctx, Lot{
				ProductID:    input.ProductID,
				WarehouseID:  input.WarehouseID,
				LotNumber:    input.LotNumber,
				SerialNumber: input.SerialNumber,
				ExpiresAt:    input.ExpiresAt,
				ReceivedAt:   now,
			}); err != nil {
				return err
			}
		}
		result = MutationResult{Success: true, LedgerEntryID: id, Record: rec}
		return nil
	})
	if err != nil {
		s.releaseReference(key)
		return MutationResult{}, s.failed(opReceive, subject, actor, err)
	}
	s.committed(opReceive, entry, result.Record, result.Record)
	return result, nil
}

// DeductStock issues sold units. Unless AllowNegativeSales is set it
// rejects quantities above the physical stock. A sale with a reference id
// is applied at most once per warehouse and product.
func (s *Service) DeductStock(ctx context.Context, input DeductInput) (MutationResult, error) {
	actor := s.identity.CurrentActor(ctx)
	subject := recordKey(input.ProductID, input.WarehouseID)
	if f := validateDeduct(input); f != nil {
		s.rejected(opDeduct, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	key, f, err := s.claimReference(ctx, KindSale, input.ReferenceID, input.WarehouseID, input.ProductID)
	if err != nil {
		return MutationResult{}, s.failed(opDeduct, subject, actor, err)
	}
	if f != nil {
		s.rejected(opDeduct, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	var result MutationResult
	var entry LedgerEntry
	err = s.mutate(ctx, opDeduct, func(ctx context.Context, tx TxRepository) error {
		rec, err := lockRecord(ctx, tx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if !s.cfg.AllowNegativeSales && rec.Quantity < input.Quantity {
			return insufficientStock(input.Quantity, max(rec.Quantity, 0))
		}
		now := s.now()
		rec.Quantity -= input.Quantity
		rec.UpdatedAt = now
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		entry, err = newLedgerEntry(KindSale, input.ProductID, input.WarehouseID, input.Quantity)
		if err != nil {
			return err
		}
		entry.PostedAt = now
		entry.UnitCost = rec.AverageCost
		entry.Description = input.Description
		entry.ReferenceID = input.ReferenceID
		entry.Actor = actor
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		result = MutationResult{Success: true, LedgerEntryID: id, Record: rec}
		return nil
	})
	if f, ok := asFailure(err); ok {
		s.releaseReference(key)
		s.rejected(opDeduct, subject, actor, f)
		return MutationResult{Failure: f}, nil
	}
	if err != nil {
		s.releaseReference(key)
		return MutationResult{}, s.failed(opDeduct, subject, actor, err)
	}
	s.committed(opDeduct, entry, result.Record, result.Record)
	return result, nil
}

// AddStockBatch receives each item independently and collects failures
// instead of stopping at the first one. It stops early only when ctx is
// done, returning the items processed so far.
func (s *Service) AddStockBatch(ctx context.Context, items []AddStockInput) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{Failure: validationFailure("batch must contain at least one item")}, nil
	}
	var batch BatchResult
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return batch, fmt.Errorf("%w: batch stopped at item %d: %w", ErrAborted, i, err)
		}
		res, err := s.AddStock(ctx, item)
		switch {
		case err != nil:
			batch.Failures = append(batch.Failures, BatchFailure{Index: i, Input: item, Err: err})
		case res.Failure != nil:
			batch.Failures = append(batch.Failures, BatchFailure{Index: i, Input: item, Failure: res.Failure})
		default:
			batch.Succeeded = append(batch.Succeeded, res)
		}
	}
	return batch, nil
}

// mutate runs fn under the gate in one transaction. Cancellation is honoured
// only while waiting for the gate; the transaction itself always completes.
func (s *Service) mutate(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	release, waited, err := s.gate.Enter(ctx)
	s.metrics.observeGateWait(waited)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAborted, op, err)
	}
	defer release()
	return s.repo.WithTx(context.WithoutCancel(ctx), fn)
}

// claimReference reserves the idempotency key of a referenced posting. An
// empty key means nothing was claimed.
func (s *Service) claimReference(ctx context.Context, kind MovementKind, referenceID string, warehouseID, productID int64) (string, *Failure, error) {
	if s.idempotency == nil || referenceID == "" {
		return "", nil, nil
	}
	key := fmt.Sprintf("%s:%s:%d:%d", kind, referenceID, warehouseID, productID)
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return "", &Failure{Reason: FailureDuplicate, Message: fmt.Sprintf("%s %s already applied", kind, referenceID)}, nil
		}
		return "", nil, err
	}
	return key, nil, nil
}

func (s *Service) releaseReference(key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Delete(context.Background(), key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) committed(op string, entry LedgerEntry, source, target Record) {
	s.metrics.observe(op, outcomeSuccess)
	if s.events != nil {
		for _, evt := range movementEvents(entry, source, target) {
			s.notify.enqueue("event:"+string(evt.Kind), func(ctx context.Context) error {
				return s.events.Publish(ctx, evt)
			})
		}
	}
	s.record(shared.AuditLog{
		Actor:    entry.Actor,
		Action:   auditAction(entry.Kind),
		Entity:   "stock_ledger",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Outcome:  outcomeSuccess,
		Meta: map[string]any{
			"product_id":          entry.ProductID,
			"source_warehouse_id": entry.SourceWarehouseID,
			"target_warehouse_id": entry.TargetWarehouseID,
			"qty":                 entry.Quantity,
			"unit_cost":           entry.UnitCost.String(),
			"kind":                string(entry.Kind),
			"reference_id":        entry.ReferenceID,
		},
		At: entry.PostedAt,
	})
}

func (s *Service) rejected(op, subject, actor string, f *Failure) {
	s.metrics.observe(op, outcomeRejected)
	s.record(shared.AuditLog{
		Actor:    actor,
		Action:   "inventory:" + op,
		Entity:   "inventory_record",
		EntityID: subject,
		Outcome:  outcomeRejected,
		Message:  f.Message,
		Meta:     map[string]any{"reason": string(f.Reason), "requested": f.Requested, "available": f.Available},
		At:       s.now(),
	})
}

// failed records an infrastructure fault and returns it wrapped.
func (s *Service) failed(op, subject, actor string, err error) error {
	if errors.Is(err, ErrAborted) {
		s.metrics.observe(op, outcomeAborted)
		return err
	}
	s.metrics.observe(op, outcomeFailed)
	s.logger.Error("stock operation failed", slog.String("operation", op), slog.String("subject", subject), slog.Any("error", err))
	s.record(shared.AuditLog{
		Actor:    actor,
		Action:   "inventory:" + op,
		Entity:   "inventory_record",
		EntityID: subject,
		Outcome:  outcomeFailed,
		Message:  err.Error(),
		At:       s.now(),
	})
	return fmt.Errorf("inventory: %s: %w", op, err)
}

func (s *Service) record(log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	s.notify.enqueue("audit:"+log.Action, func(ctx context.Context) error {
		return s.audit.Record(ctx, log)
	})
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// lockRecord loads a record for update, starting from zero when absent.
func lockRecord(ctx context.Context, tx TxRepository, productID, warehouseID int64) (Record, error) {
	rec, err := tx.GetRecordForUpdate(ctx, productID, warehouseID)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{ProductID: productID, WarehouseID: warehouseID, AverageCost: decimal.Zero}, nil
	}
	return rec, err
}

// lockPair locks both warehouses of a transfer in ascending id order.
// Missing records are absent from the map.
func lockPair(ctx context.Context, tx TxRepository, productID, a, b int64) (map[int64]Record, error) {
	if a > b {
		a, b = b, a
	}
	records := make(map[int64]Record, 2)
	for _, warehouseID := range []int64{a, b} {
		rec, err := tx.GetRecordForUpdate(ctx, productID, warehouseID)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records[warehouseID] = rec
	}
	return records, nil
}

func asFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func recordKey(productID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", productID, warehouseID)
}

func validateTransfer(input TransferInput) *Failure {
	if input.ProductID == 0 || input.SourceWarehouseID == 0 || input.TargetWarehouseID == 0 {
		return validationFailure("product, source and target warehouse required")
	}
	if input.Quantity <= 0 {
		return validationFailure("quantity must be positive, got %d", input.Quantity)
	}
	if input.SourceWarehouseID == input.TargetWarehouseID {
		return validationFailure("source and target warehouse must differ")
	}
	return nil
}

func validateAdjust(input AdjustInput) *Failure {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return validationFailure("product and warehouse required")
	}
	if input.QuantityDelta == 0 {
		return validationFailure("quantity delta must be non zero")
	}
	return nil
}

func validateAddStock(input AddStockInput) *Failure {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return validationFailure("product and warehouse required")
	}
	if input.Quantity <= 0 {
		return validationFailure("quantity must be positive, got %d", input.Quantity)
	}
	if input.UnitCost.IsNegative() {
		return validationFailure("unit cost must be >= 0, got %s", input.UnitCost)
	}
	return nil
}

func validateDeduct(input DeductInput) *Failure {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return validationFailure("product and warehouse required")
	}
	if input.Quantity <= 0 {
		return validationFailure("quantity must be positive, got %d", input.Quantity)
	}
	return nil
}
