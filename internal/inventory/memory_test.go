package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var errInjected = errors.New("injected failure")

type memoryRepo struct {
	mu           sync.Mutex
	records      map[string]Record
	ledger       []LedgerEntry
	reservations map[uuid.UUID]Reservation
	lots         []Lot
	products     map[int64]Product
	nextID       int64

	failOn   string
	txCount  atomic.Int64
	inflight atomic.Int32
	maxSeen  atomic.Int32
	txDelay  time.Duration
}

type memoryTx struct {
	repo *memoryRepo
}

type memorySnapshot struct {
	records      map[string]Record
	ledger       int
	reservations map[uuid.UUID]Reservation
	lots         int
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records:      make(map[string]Record),
		reservations: make(map[uuid.UUID]Reservation),
		products:     make(map[int64]Product),
	}
}

func (r *memoryRepo) snapshot() memorySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := memorySnapshot{
		records:      make(map[string]Record, len(r.records)),
		ledger:       len(r.ledger),
		reservations: make(map[uuid.UUID]Reservation, len(r.reservations)),
		lots:         len(r.lots),
		nextID:       r.nextID,
	}
	for k, v := range r.records {
		snap.records[k] = v
	}
	for k, v := range r.reservations {
		snap.reservations[k] = v
	}
	return snap
}

func (r *memoryRepo) restore(snap memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = snap.records
	r.ledger = r.ledger[:snap.ledger]
	r.reservations = snap.reservations
	r.lots = r.lots[:snap.lots]
	r.nextID = snap.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCount.Add(1)
	n := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	snap := r.snapshot()
	if r.txDelay > 0 {
		time.Sleep(r.txDelay)
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey(productID, warehouseID)]
	if !ok {
		return Record{ProductID: productID, WarehouseID: warehouseID}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ReservedQuantity(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumReservations(productID, warehouseID, asOf), nil
}

func (r *memoryRepo) InventoryValue(ctx context.Context, warehouseID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, rec := range r.records {
		if warehouseID != 0 && rec.WarehouseID != warehouseID {
			continue
		}
		total = total.Add(rec.Value())
	}
	return total, nil
}

func (r *memoryRepo) LowStock(ctx context.Context, warehouseID int64) ([]LowStockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := []LowStockItem{}
	for _, rec := range r.records {
		product, ok := r.products[rec.ProductID]
		if !ok || (warehouseID != 0 && rec.WarehouseID != warehouseID) {
			continue
		}
		if rec.Quantity > 0 && rec.Quantity < product.MinimumStock {
			items = append(items, LowStockItem{
				ProductID:    rec.ProductID,
				ProductName:  product.Name,
				WarehouseID:  rec.WarehouseID,
				Quantity:     rec.Quantity,
				MinimumStock: product.MinimumStock,
				Unit:         product.Unit,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].WarehouseID != items[j].WarehouseID {
			return items[i].WarehouseID < items[j].WarehouseID
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items, nil
}

func (r *memoryRepo) ExpiringLots(ctx context.Context, filter ExpiringFilter) ([]ExpiringLot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lots := []ExpiringLot{}
	for _, lot := range r.lots {
		if lot.ExpiresAt == nil || lot.ExpiresAt.Before(filter.Since) || lot.ExpiresAt.After(filter.Until) {
			continue
		}
		if filter.WarehouseID != 0 && lot.WarehouseID != filter.WarehouseID {
			continue
		}
		rec, ok := r.records[recordKey(lot.ProductID, lot.WarehouseID)]
		if !ok || rec.Quantity <= 0 {
			continue
		}
		lots = append(lots, ExpiringLot{Lot: lot, Quantity: rec.Quantity})
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].ExpiresAt.Before(*lots[j].ExpiresAt) })
	if filter.Limit > 0 && len(lots) > filter.Limit {
		lots = lots[:filter.Limit]
	}
	return lots, nil
}

func (r *memoryRepo) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []LedgerEntry{}
	for i := len(r.ledger) - 1; i >= 0; i-- {
		e := r.ledger[i]
		if filter.ProductID != 0 && e.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && e.SourceWarehouseID != filter.WarehouseID && e.TargetWarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.From.IsZero() && e.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.PostedAt.After(filter.To) {
			continue
		}
		matched = append(matched, e)
	}
	p := shared.NewPagination(filter.Page, filter.PerPage, len(matched))
	start := min(p.Offset(), len(matched))
	end := min(start+p.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) LedgerNet(ctx context.Context, productID, warehouseID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var net int64
	for _, e := range r.ledger {
		if e.ProductID != productID {
			continue
		}
		delta, err := e.NetEffect(warehouseID)
		if err != nil {
			return 0, err
		}
		net += delta
	}
	return net, nil
}

func (r *memoryRepo) sumReservations(productID, warehouseID int64, asOf time.Time) int64 {
	var sum int64
	for _, res := range r.reservations {
		if res.ProductID == productID && res.WarehouseID == warehouseID && res.CountsAt(asOf) {
			sum += res.Quantity
		}
	}
	return sum
}

func (r *memoryRepo) entries() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	return out
}

func (r *memoryRepo) record(productID, warehouseID int64) Record {
	rec, _ := r.GetRecord(context.Background(), productID, warehouseID)
	return rec
}

func (tx *memoryTx) fail(op string) error {
	if tx.repo.failOn == op {
		return errInjected
	}
	return nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error) {
	if err := tx.fail("GetRecordForUpdate"); err != nil {
		return Record{}, err
	}
	return tx.repo.GetRecord(ctx, productID, warehouseID)
}

func (tx *memoryTx) UpsertRecord(ctx context.Context, rec Record) error {
	if err := tx.fail("UpsertRecord"); err != nil {
		return err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.records[recordKey(rec.ProductID, rec.WarehouseID)] = rec
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	if err := tx.fail("InsertLedgerEntry"); err != nil {
		return 0, err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return entry.ID, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	if err := tx.fail("InsertLot"); err != nil {
		return 0, err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	lot.ID = tx.repo.nextID
	tx.repo.lots = append(tx.repo.lots, lot)
	return lot.ID, nil
}

func (tx *memoryTx) SumActiveReservations(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error) {
	if err := tx.fail("SumActiveReservations"); err != nil {
		return 0, err
	}
	return tx.repo.ReservedQuantity(ctx, productID, warehouseID, asOf)
}

func (tx *memoryTx) InsertReservation(ctx context.Context, res Reservation) error {
	if err := tx.fail("InsertReservation"); err != nil {
		return err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.reservations[res.ID] = res
	return nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	if err := tx.fail("GetReservationForUpdate"); err != nil {
		return Reservation{}, err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	res, ok := tx.repo.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (tx *memoryTx) CloseReservation(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	if err := tx.fail("CloseReservation"); err != nil {
		return err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	res, ok := tx.repo.reservations[id]
	if !ok || !res.Active {
		return ErrReservationNotFound
	}
	res.Active = false
	res.Status = status
	res.ClosedAt = &at
	tx.repo.reservations[id] = res
	return nil
}

func (tx *memoryTx) ExpireReservations(ctx context.Context, asOf time.Time) (int64, error) {
	if err := tx.fail("ExpireReservations"); err != nil {
		return 0, err
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	var n int64
	for id, res := range tx.repo.reservations {
		if res.Active && res.ExpiresAt != nil && !res.ExpiresAt.After(asOf) {
			res.Active = false
			res.Status = ReservationExpired
			res.ClosedAt = &asOf
			tx.repo.reservations[id] = res
			n++
		}
	}
	return n, nil
}

// captureSink records published events.
type captureSink struct {
	mu     sync.Mutex
	events []MovementEvent
	err    error
}

func (s *captureSink) Publish(ctx context.Context, evt MovementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *captureSink) all() []MovementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MovementEvent(nil), s.events...)
}

type captureAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *captureAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *captureAudit) all() []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditLog(nil), a.logs...)
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
