package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/receipts", h.handleReceipt)
	r.Post("/receipts/batch", h.handleReceiptBatch)
	r.Post("/sales", h.handleSale)
	r.Get("/stock/{productID}/{warehouseID}", h.handleAvailability)
	r.Get("/reconcile/{productID}/{warehouseID}", h.handleReconcile)

	r.Post("/reservations", h.handleReserve)
	r.Delete("/reservations/{id}", h.handleCancelReservation)
	r.Post("/reservations/{id}/fulfil", h.handleFulfilReservation)

	r.Get("/valuation", h.handleValuation)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/expiring", h.handleExpiring)
	r.Get("/history", h.handleHistory)
}

type transferRequest struct {
	ProductID         int64  `json:"product_id" validate:"required,gt=0"`
	SourceWarehouseID int64  `json:"source_warehouse_id" validate:"required,gt=0"`
	TargetWarehouseID int64  `json:"target_warehouse_id" validate:"required,gt=0"`
	Quantity          int64  `json:"quantity" validate:"required,gt=0"`
	Description       string `json:"description" validate:"max=255"`
	ReferenceID       string `json:"reference_id" validate:"max=64"`
}

type adjustmentRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64  `json:"warehouse_id" validate:"required,gt=0"`
	QuantityDelta int64  `json:"quantity_delta" validate:"required"`
	Reason        string `json:"reason" validate:"required,max=255"`
	ReferenceID   string `json:"reference_id" validate:"max=64"`
}

type receiptRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID  int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity     int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ReferenceID  string          `json:"reference_id" validate:"max=64"`
	Description  string          `json:"description" validate:"max=255"`
	LotNumber    string          `json:"lot_number" validate:"max=64"`
	SerialNumber string          `json:"serial_number" validate:"max=64"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

func (r receiptRequest) input() AddStockInput {
	return AddStockInput{
		ProductID:    r.ProductID,
		WarehouseID:  r.WarehouseID,
		Quantity:     r.Quantity,
		UnitCost:     r.UnitCost,
		ReferenceID:  r.ReferenceID,
		Description:  r.Description,
		LotNumber:    r.LotNumber,
		SerialNumber: r.SerialNumber,
		ExpiresAt:    r.ExpiresAt,
	}
}

type batchRequest struct {
	Items []receiptRequest `json:"items" validate:"required,min=1,dive"`
}

type saleRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	ReferenceID string `json:"reference_id" validate:"max=64"`
	Description string `json:"description" validate:"max=255"`
}

type reserveRequest struct {
	ProductID     int64      `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64      `json:"warehouse_id" validate:"required,gt=0"`
	Quantity      int64      `json:"quantity" validate:"required,gt=0"`
	ReferenceType string     `json:"reference_type" validate:"required,max=32"`
	ReferenceID   string     `json:"reference_id" validate:"required,max=64"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type mutationResponse struct {
	LedgerEntryID int64   `json:"ledger_entry_id"`
	Record        *Record `json:"record,omitempty"`
	Source        *Record `json:"source,omitempty"`
	Target        *Record `json:"target,omitempty"`
}

type batchFailureResponse struct {
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type batchResponse struct {
	Succeeded []mutationResponse     `json:"succeeded"`
	Failures  []batchFailureResponse `json:"failures"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.TransferStock(r.Context(), TransferInput(req))
	if err != nil {
		h.respondInfra(w, "transfer", err)
		return
	}
	if res.Failure != nil {
		respondFailure(w, res.Failure)
		return
	}
	httpx.JSON(w, http.StatusCreated, mutationResponse{LedgerEntryID: res.LedgerEntryID, Source: &res.Source, Target: &res.Target})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.AdjustStock(r.Context(), AdjustInput(req))
	h.respondMutation(w, "adjust", res, err)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.AddStock(r.Context(), req.input())
	h.respondMutation(w, "receive", res, err)
}

func (h *Handler) handleReceiptBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]AddStockInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.input())
	}
	batch, err := h.service.AddStockBatch(r.Context(), items)
	if err != nil {
		h.respondInfra(w, "receive batch", err)
		return
	}
	if batch.Failure != nil {
		respondFailure(w, batch.Failure)
		return
	}
	resp := batchResponse{Succeeded: []mutationResponse{}, Failures: []batchFailureResponse{}}
	for _, ok := range batch.Succeeded {
		rec := ok.Record
		resp.Succeeded = append(resp.Succeeded, mutationResponse{LedgerEntryID: ok.LedgerEntryID, Record: &rec})
	}
	for _, f := range batch.Failures {
		item := batchFailureResponse{Index: f.Index}
		if f.Failure != nil {
			item.Reason = string(f.Failure.Reason)
			item.Message = f.Failure.Message
		} else {
			h.logger.Error("batch receipt item failed", slog.Int("index", f.Index), slog.Any("error", f.Err))
			item.Reason = "ERROR"
			item.Message = "internal error"
		}
		resp.Failures = append(resp.Failures, item)
	}
	status := http.StatusCreated
	if len(resp.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.DeductStock(r.Context(), DeductInput(req))
	h.respondMutation(w, "deduct", res, err)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := pairParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	availability, err := h.service.GetAvailableStock(r.Context(), productID, warehouseID)
	if err != nil {
		h.respondInfra(w, "availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := pairParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), productID, warehouseID)
	if err != nil {
		h.respondInfra(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"report": report, "balanced": report.Balanced()})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ReserveStock(r.Context(), ReserveInput(req))
	if err != nil {
		h.respondInfra(w, "reserve", err)
		return
	}
	if res.Failure != nil {
		respondFailure(w, res.Failure)
		return
	}
	httpx.JSON(w, http.StatusCreated, res.Reservation)
}

func (h *Handler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	h.closeReservation(w, r, h.service.CancelReservation)
}

func (h *Handler) handleFulfilReservation(w http.ResponseWriter, r *http.Request) {
	h.closeReservation(w, r, h.service.FulfillReservation)
}

func (h *Handler) closeReservation(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (bool, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: reservation id", httpx.ErrValidation))
		return
	}
	closed, err := op(r.Context(), id)
	if err != nil {
		h.respondInfra(w, "close reservation", err)
		return
	}
	if !closed {
		httpx.RespondError(w, fmt.Errorf("%w: active reservation %s", httpx.ErrNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := queryInt(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	value, err := h.service.TotalInventoryValue(r.Context(), warehouseID)
	if err != nil {
		h.respondInfra(w, "valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouse_id": warehouseID, "total_value": value.StringFixed(MoneyPlaces)})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := queryInt(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.LowStockProducts(r.Context(), warehouseID)
	if err != nil {
		h.respondInfra(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := queryInt(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	days, err := queryInt(r, "days")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("days") == "" {
		days = 30
	}
	lots, err := h.service.ExpiringStock(r.Context(), int(days), warehouseID)
	if err != nil {
		if errors.Is(err, ErrInvalidThreshold) {
			httpx.RespondError(w, err)
			return
		}
		h.respondInfra(w, "expiring", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	var filter LedgerFilter
	var err error
	if filter.ProductID, err = queryInt(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = queryInt(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page, filter.PerPage = int(page), int(perPage)
	filter.Kind = MovementKind(r.URL.Query().Get("kind"))
	if filter.From, err = queryTime(r, "from", false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = queryTime(r, "to", true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, pagination, err := h.service.StockTransactionHistory(r.Context(), filter)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidInput) {
			httpx.RespondError(w, err)
			return
		}
		h.respondInfra(w, "history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": pagination})
}

func (h *Handler) respondMutation(w http.ResponseWriter, op string, res MutationResult, err error) {
	if err != nil {
		h.respondInfra(w, op, err)
		return
	}
	if res.Failure != nil {
		respondFailure(w, res.Failure)
		return
	}
	rec := res.Record
	httpx.JSON(w, http.StatusCreated, mutationResponse{LedgerEntryID: res.LedgerEntryID, Record: &rec})
}

func (h *Handler) respondInfra(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrAborted) {
		h.logger.Error("inventory request failed", slog.String("operation", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func respondFailure(w http.ResponseWriter, f *Failure) {
	problem := httpx.ProblemDetail{
		Type:   "stockledger/" + string(f.Reason),
		Status: http.StatusConflict,
		Title:  "Stock Rule Violated",
		Detail: f.Message,
	}
	switch f.Reason {
	case FailureValidation:
		problem.Status = http.StatusBadRequest
		problem.Title = "Validation Failed"
	case FailureInsufficientStock, FailureInsufficientAvailable:
		problem.Extra = map[string]any{"requested": f.Requested, "available": f.Available}
	case FailureDuplicate:
		problem.Title = "Duplicate"
	}
	httpx.ProblemWith(w, problem)
}

func pairParams(r *http.Request) (int64, int64, error) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		return 0, 0, fmt.Errorf("%w: product id", httpx.ErrValidation)
	}
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil || warehouseID <= 0 {
		return 0, 0, fmt.Errorf("%w: warehouse id", httpx.ErrValidation)
	}
	return productID, warehouseID, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", httpx.ErrValidation, name)
	}
	return value, nil
}

// queryTime accepts RFC3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date", httpx.ErrValidation, name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
