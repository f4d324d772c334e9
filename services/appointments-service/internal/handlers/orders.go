package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/outbox"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
)

type ProductPaymentRecorder interface {
	RecordProductPayment(ctx context.Context, req payments.RecordPaymentRequest) (model.Payment, error)
}

type eventWriter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type OrdersHandler struct {
	recorder ProductPaymentRecorder
	db       eventWriter
	events   EventSink
	logger   *slog.Logger
}

func NewOrdersHandler(recorder ProductPaymentRecorder, db eventWriter, events EventSink, logger *slog.Logger) *OrdersHandler {
	return &OrdersHandler{recorder: recorder, db: db, events: events, logger: logger}
}

type recordOrderPaymentRequest struct {
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
}

type recordOrderPaymentResponse struct {
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// RecordPayment stores a settled product-order payment. Retries with the
// same transaction id return the original row.
func (h *OrdersHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req recordOrderPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.OrderID = trimmed(req.OrderID)
	req.TransactionID = trimmed(req.TransactionID)
	if req.OrderID == "" || req.TransactionID == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "order_id, transaction_id and amount_cents required")
		return
	}

	payment, err := h.recorder.RecordProductPayment(r.Context(), payments.RecordPaymentRequest{
		ClientID:      clientID(r),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
		Target:        model.OrderTarget(req.OrderID),
	})
	if err != nil {
		h.logger.Error("order payment record failed", "order_id", req.OrderID, "error", err)
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	h.recordEvent(r.Context(), payment)

	writeJSON(w, http.StatusCreated, recordOrderPaymentResponse{
		PaymentID:     payment.ID,
		OrderID:       req.OrderID,
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		TransactionID: payment.TransactionID,
		Status:        string(payment.Status),
	})
}

// recordEvent emits the order-recorded event. Best effort; the payment row
// is already durable.
func (h *OrdersHandler) recordEvent(ctx context.Context, payment model.Payment) {
	tx, err := h.db.Begin(ctx)
	if err != nil {
		h.logger.Error("order event tx", "payment_id", payment.ID, "error", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := h.events.Insert(ctx, tx, outbox.OrderRecorded(payment, time.Now())); err != nil {
		h.logger.Error("order event insert", "payment_id", payment.ID, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("order event commit", "payment_id", payment.ID, "error", err)
	}
}
