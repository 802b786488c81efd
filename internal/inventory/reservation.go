package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReserveStock allocates net available stock to a pending demand. The
// physical record is never touched.
func (s *Service) ReserveStock(ctx context.Context, input ReserveInput) (ReservationResult, error) {
	actor := s.identity.CurrentActor(ctx)
	subject := recordKey(input.ProductID, input.WarehouseID)
	if f := s.validateReserve(input); f != nil {
		s.rejected(opReserve, subject, actor, f)
		return ReservationResult{Failure: f}, nil
	}
	var reservation Reservation
	err := s.mutate(ctx, opReserve, func(ctx context.Context, tx TxRepository) error {
		rec, err := lockRecord(ctx, tx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		now := s.now()
		reserved, err := tx.SumActiveReservations(ctx, input.ProductID, input.WarehouseID, now)
		if err != nil {
			return err
		}
		net := rec.Quantity - reserved
		if input.Quantity > net {
			return insufficientAvailable(input.Quantity, net)
		}
		reservation = Reservation{
			ID:            uuid.New(),
			ProductID:     input.ProductID,
			WarehouseID:   input.WarehouseID,
			Quantity:      input.Quantity,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			ExpiresAt:     input.ExpiresAt,
			Active:        true,
			Status:        ReservationActive,
			Holder:        actor,
			CreatedAt:     now,
		}
		return tx.InsertReservation(ctx, reservation)
	})
	if f, ok := asFailure(err); ok {
		s.rejected(opReserve, subject, actor, f)
		return ReservationResult{Failure: f}, nil
	}
	if err != nil {
		return ReservationResult{}, s.failed(opReserve, subject, actor, err)
	}
	s.metrics.observe(opReserve, outcomeSuccess)
	s.record(shared.AuditLog{
		Actor:    actor,
		Action:   "inventory:reserve",
		Entity:   "stock_reservation",
		EntityID: reservation.ID.String(),
		Outcome:  outcomeSuccess,
		Meta: map[string]any{
			"product_id":     reservation.ProductID,
			"warehouse_id":   reservation.WarehouseID,
			"qty":            reservation.Quantity,
			"reference_type": reservation.ReferenceType,
			"reference_id":   reservation.ReferenceID,
		},
		At: reservation.CreatedAt,
	})
	return ReservationResult{Success: true, Reservation: reservation}, nil
}

// CancelReservation deactivates a reservation. It returns false when the
// reservation does not exist or is already inactive.
func (s *Service) CancelReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.closeReservation(ctx, opCancel, id, ReservationCancelled)
}

// FulfillReservation deactivates a reservation whose demand was shipped.
// Expired reservations cannot be fulfilled.
func (s *Service) FulfillReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.closeReservation(ctx, opFulfil, id, ReservationFulfilled)
}

func (s *Service) closeReservation(ctx context.Context, op string, id uuid.UUID, status ReservationStatus) (bool, error) {
	actor := s.identity.CurrentActor(ctx)
	var closed bool
	err := s.mutate(ctx, op, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		if !r.Active || (status == ReservationFulfilled && !r.CountsAt(now)) {
			return nil
		}
		if err := tx.CloseReservation(ctx, id, status, now); err != nil {
			return err
		}
		closed = true
		return nil
	})
	if err != nil {
		return false, s.failed(op, id.String(), actor, err)
	}
	if !closed {
		s.metrics.observe(op, outcomeRejected)
		return false, nil
	}
	s.metrics.observe(op, outcomeSuccess)
	s.record(shared.AuditLog{
		Actor:    actor,
		Action:   "inventory:" + op,
		Entity:   "stock_reservation",
		EntityID: id.String(),
		Outcome:  outcomeSuccess,
		Meta:     map[string]any{"status": string(status)},
		At:       s.now(),
	})
	return true, nil
}

// GetReservedQuantity sums active reservations that have not expired. Expired
// rows are filtered here, not deactivated.
func (s *Service) GetReservedQuantity(ctx context.Context, productID, warehouseID int64) (int64, error) {
	reserved, err := s.repo.ReservedQuantity(ctx, productID, warehouseID, s.now())
	if err != nil {
		return 0, fmt.Errorf("inventory: reserved quantity: %w", err)
	}
	return reserved, nil
}

// GetAvailableStock reports physical, reserved and net available stock. A
// missing record reads as zero.
func (s *Service) GetAvailableStock(ctx context.Context, productID, warehouseID int64) (Availability, error) {
	rec, err := s.repo.GetRecord(ctx, productID, warehouseID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Availability{}, fmt.Errorf("inventory: available stock: %w", err)
	}
	reserved, err := s.GetReservedQuantity(ctx, productID, warehouseID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		ProductID:    productID,
		WarehouseID:  warehouseID,
		Physical:     rec.Quantity,
		Reserved:     reserved,
		NetAvailable: rec.Quantity - reserved,
	}, nil
}

// SweepExpiredReservations marks active reservations past their expiry as
// expired. Reserved sums are the same before and after.
func (s *Service) SweepExpiredReservations(ctx context.Context) (int64, error) {
	var swept int64
	err := s.mutate(ctx, opSweep, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.ExpireReservations(ctx, s.now())
		swept = n
		return err
	})
	if err != nil {
		return 0, s.failed(opSweep, "reservations", shared.SystemActor, err)
	}
	s.metrics.observe(opSweep, outcomeSuccess)
	if swept > 0 {
		s.logger.Info("reservations expired", slog.Int64("count", swept))
		s.record(shared.AuditLog{
			Actor:    shared.SystemActor,
			Action:   "inventory:" + opSweep,
			Entity:   "stock_reservation",
			EntityID: "*",
			Outcome:  outcomeSuccess,
			Meta:     map[string]any{"count": swept},
			At:       s.now(),
		})
	}
	return swept, nil
}

func (s *Service) validateReserve(input ReserveInput) *Failure {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return validationFailure("product and warehouse required")
	}
	if input.Quantity <= 0 {
		return validationFailure("quantity must be positive, got %d", input.Quantity)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return validationFailure("expiry must be in the future")
	}
	return nil
}
