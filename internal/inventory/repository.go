package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error)
	UpsertRecord(ctx context.Context, rec Record) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	SumActiveReservations(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error)
	InsertReservation(ctx context.Context, r Reservation) error
	GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	CloseReservation(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error
	ExpireReservations(ctx context.Context, asOf time.Time) (int64, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

const (
	recordColumns      = `product_id, warehouse_id, qty, avg_cost, updated_at`
	reservationColumns = `id, product_id, warehouse_id, qty, reference_type, reference_id, expires_at, active, status, holder, created_at, closed_at`
	ledgerColumns      = `id, posted_at, product_id, source_warehouse_id, target_warehouse_id, qty, unit_cost, kind, description, reference_id, actor`
)

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetRecord loads a record without locking it.
func (r *Repository) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	return getRecord(ctx, r.pool, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID)
}

// ReservedQuantity sums reservations counting at asOf.
func (r *Repository) ReservedQuantity(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error) {
	return sumReservations(ctx, r.pool, productID, warehouseID, asOf)
}

// InventoryValue sums qty × avg_cost, optionally for one warehouse.
func (r *Repository) InventoryValue(ctx context.Context, warehouseID int64) (decimal.Decimal, error) {
	var value decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty * avg_cost), 0)
FROM inventory_records
WHERE ($1::bigint IS NULL OR warehouse_id = $1)`, nullInt(warehouseID)).Scan(&value)
	return value, err
}

// LowStock lists records with 0 < qty < products.min_stock.
func (r *Repository) LowStock(ctx context.Context, warehouseID int64) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.product_id, p.name, r.warehouse_id, r.qty, p.min_stock, p.unit
FROM inventory_records r
JOIN products p ON p.id = r.product_id
WHERE r.qty > 0 AND r.qty < p.min_stock AND ($1::bigint IS NULL OR r.warehouse_id = $1)
ORDER BY r.warehouse_id, r.product_id`, nullInt(warehouseID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []LowStockItem{}
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.WarehouseID, &item.Quantity, &item.MinimumStock, &item.Unit); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ExpiringLots lists lots expiring inside the filter window whose record is
// still positive.
func (r *Repository) ExpiringLots(ctx context.Context, filter ExpiringFilter) ([]ExpiringLot, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.product_id, l.warehouse_id, l.lot_number, l.serial_number, l.expires_at, l.received_at, r.qty
FROM stock_lots l
JOIN inventory_records r ON r.product_id = l.product_id AND r.warehouse_id = l.warehouse_id
WHERE l.expires_at IS NOT NULL AND l.expires_at >= $1 AND l.expires_at <= $2
  AND r.qty > 0 AND ($3::bigint IS NULL OR l.warehouse_id = $3)
ORDER BY l.expires_at ASC, l.id ASC
LIMIT $4`, filter.Since, filter.Until, nullInt(filter.WarehouseID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lots := []ExpiringLot{}
	for rows.Next() {
		var lot ExpiringLot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.WarehouseID, &lot.LotNumber, &lot.SerialNumber, &lot.ExpiresAt, &lot.ReceivedAt, &lot.Quantity); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListLedger returns one page of ledger entries, newest first, and the total
// number of matching entries.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	where := `WHERE ($1::bigint IS NULL OR product_id = $1)
  AND ($2::bigint IS NULL OR source_warehouse_id = $2 OR target_warehouse_id = $2)
  AND ($3::text IS NULL OR kind = $3)
  AND posted_at BETWEEN COALESCE($4::timestamptz, '-infinity') AND COALESCE($5::timestamptz, 'infinity')`
	args := []any{nullInt(filter.ProductID), nullInt(filter.WarehouseID), nullString(string(filter.Kind)), nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ledger `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, perPage := filter.Page, filter.PerPage
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM stock_ledger `+where+`
ORDER BY posted_at DESC, id DESC
LIMIT $6 OFFSET $7`, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// LedgerNet returns target quantity minus source quantity for the pair.
func (r *Repository) LedgerNet(ctx context.Context, productID, warehouseID int64) (int64, error) {
	var net int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN target_warehouse_id = $2 THEN qty ELSE 0 END)
  - SUM(CASE WHEN source_warehouse_id = $2 THEN qty ELSE 0 END), 0)::bigint
FROM stock_ledger
WHERE product_id = $1 AND (source_warehouse_id = $2 OR target_warehouse_id = $2)`, productID, warehouseID).Scan(&net)
	return net, err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error) {
	return getRecord(ctx, r.tx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID)
}

func (r *txRepository) UpsertRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_records (product_id, warehouse_id, qty, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=EXCLUDED.updated_at`,
		rec.ProductID, rec.WarehouseID, rec.Quantity, rec.AverageCost, rec.UpdatedAt)
	return err
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (posted_at, product_id, source_warehouse_id, target_warehouse_id, qty, unit_cost, kind, description, reference_id, actor)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.PostedAt, entry.ProductID, nullInt(entry.SourceWarehouseID), nullInt(entry.TargetWarehouseID), entry.Quantity,
		entry.UnitCost, string(entry.Kind), entry.Description, entry.ReferenceID, entry.Actor).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_lots (product_id, warehouse_id, lot_number, serial_number, expires_at, received_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		lot.ProductID, lot.WarehouseID, lot.LotNumber, lot.SerialNumber, lot.ExpiresAt, lot.ReceivedAt).Scan(&id)
	return id, err
}

func (r *txRepository) SumActiveReservations(ctx context.Context, productID, warehouseID int64, asOf time.Time) (int64, error) {
	return sumReservations(ctx, r.tx, productID, warehouseID, asOf)
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_reservations (`+reservationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		res.ID, res.ProductID, res.WarehouseID, res.Quantity, res.ReferenceType, res.ReferenceID, res.ExpiresAt,
		res.Active, string(res.Status), res.Holder, res.CreatedAt, res.ClosedAt)
	return err
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	var res Reservation
	var status string
	err := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id=$1 FOR UPDATE`, id).
		Scan(&res.ID, &res.ProductID, &res.WarehouseID, &res.Quantity, &res.ReferenceType, &res.ReferenceID, &res.ExpiresAt,
			&res.Active, &status, &res.Holder, &res.CreatedAt, &res.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	res.Status = ReservationStatus(status)
	return res, nil
}

func (r *txRepository) CloseReservation(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET active=false, status=$2, closed_at=$3 WHERE id=$1 AND active`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close reservation %s: %w", id, ErrReservationNotFound)
	}
	return nil
}

func (r *txRepository) ExpireReservations(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET active=false, status=$2, closed_at=$1
WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`, asOf, string(ReservationExpired))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func getRecord(ctx context.Context, q querier, sql string, productID, warehouseID int64) (Record, error) {
	var rec Record
	err := q.QueryRow(ctx, sql, productID, warehouseID).
		Scan(&rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.AverageCost, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{ProductID: productID, WarehouseID: warehouseID}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func sumReservations(ctx context.Context, q querier, productID, warehouseID int64, asOf time.Time) (int64, error) {
	var reserved int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0)::bigint
FROM stock_reservations
WHERE product_id=$1 AND warehouse_id=$2 AND active AND (expires_at IS NULL OR expires_at > $3)`,
		productID, warehouseID, asOf).Scan(&reserved)
	return reserved, err
}

func scanLedgerEntry(row pgx.Row) (LedgerEntry, error) {
	var entry LedgerEntry
	var source, target *int64
	var kind string
	if err := row.Scan(&entry.ID, &entry.PostedAt, &entry.ProductID, &source, &target, &entry.Quantity,
		&entry.UnitCost, &kind, &entry.Description, &entry.ReferenceID, &entry.Actor); err != nil {
		return LedgerEntry{}, err
	}
	if source != nil {
		entry.SourceWarehouseID = *source
	}
	if target != nil {
		entry.TargetWarehouseID = *target
	}
	entry.Kind = MovementKind(kind)
	return entry, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
