package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/fees"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/lifecycle"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
)

type LifecycleService interface {
	Book(ctx context.Context, req lifecycle.BookRequest) (lifecycle.BookResult, error)
	Cancel(ctx context.Context, req lifecycle.CancelRequest) (lifecycle.CancelResult, error)
	Modify(ctx context.Context, req lifecycle.ModifyRequest) (lifecycle.ModifyResult, error)
	Confirm(ctx context.Context, appointmentID string) (model.Appointment, error)
	Complete(ctx context.Context, appointmentID string) (model.Appointment, error)
}

type AppointmentReader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByClient(ctx context.Context, clientID, scope, today string) ([]model.Appointment, error)
}

type BookingPaymentRecorder interface {
	RecordBookingPayment(ctx context.Context, req payments.RecordPaymentRequest) (model.Payment, error)
}

type AppointmentsHandler struct {
	svc      LifecycleService
	reader   AppointmentReader
	recorder BookingPaymentRecorder
	policy   fees.Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewAppointmentsHandler(svc LifecycleService, reader AppointmentReader, recorder BookingPaymentRecorder, policy fees.Policy, logger *slog.Logger) *AppointmentsHandler {
	return &AppointmentsHandler{
		svc:      svc,
		reader:   reader,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

type createAppointmentRequest struct {
	ServiceID string `json:"service_id"`
	SlotID    string `json:"slot_id"`
	Notes     string `json:"notes"`
	Confirm   bool   `json:"confirm"`
}

// Create books an appointment. The Idempotency-Key header makes retried
// requests return the original booking.
func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ServiceID = trimmed(req.ServiceID)
	req.SlotID = trimmed(req.SlotID)
	if req.ServiceID == "" || req.SlotID == "" {
		writeError(w, http.StatusBadRequest, "service_id and slot_id required")
		return
	}

	res, err := h.svc.Book(r.Context(), lifecycle.BookRequest{
		ClientID:       clientID(r),
		ServiceID:      req.ServiceID,
		SlotID:         req.SlotID,
		Notes:          trimmed(req.Notes),
		Confirm:        req.Confirm,
		IdempotencyKey: trimmed(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.logFailure(r, "book", err)
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toAppointmentResponse(res.Appointment))
}

// List returns the caller's appointments, scope=upcoming (default) or past.
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	scope := trimmed(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = "upcoming"
	}
	if scope != "upcoming" && scope != "past" {
		writeError(w, http.StatusBadRequest, "scope must be upcoming or past")
		return
	}

	today := h.now().UTC().Format(model.DateLayout)
	appts, err := h.reader.ListByClient(r.Context(), clientID(r), scope, today)
	if err != nil {
		h.logFailure(r, "list", err)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

type cancelAppointmentRequest struct {
	AppointmentID    string `json:"appointment_id"`
	PaymentMethodRef string `json:"payment_method_ref"`
	ReceiptEmail     string `json:"receipt_email"`
}

type changeOutcomeResponse struct {
	Appointment   appointmentResponse `json:"appointment"`
	Outcome       string              `json:"outcome"`
	FeeCharged    bool                `json:"fee_charged"`
	FeeCents      int64               `json:"fee_cents,omitempty"`
	Currency      string              `json:"currency,omitempty"`
	RefundID      string              `json:"refund_id,omitempty"`
	RefundWarning string              `json:"refund_warning,omitempty"`
}

func (h *AppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = trimmed(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	if !h.authorizeAppointment(w, r, req.AppointmentID) {
		return
	}

	res, err := h.svc.Cancel(r.Context(), lifecycle.CancelRequest{
		AppointmentID:    req.AppointmentID,
		PaymentMethodRef: trimmed(req.PaymentMethodRef),
		ReceiptEmail:     trimmed(req.ReceiptEmail),
	})
	if err != nil {
		h.writeChangeError(w, r, "cancel", err)
		return
	}

	resp := changeOutcomeResponse{
		Appointment:   toAppointmentResponse(res.Appointment),
		Outcome:       string(res.Outcome),
		FeeCharged:    res.FeeCharged,
		RefundID:      res.RefundID,
		RefundWarning: res.RefundWarning,
	}
	if res.FeeCharged {
		resp.FeeCents = res.FeePayment.AmountCents
		resp.Currency = res.FeePayment.Currency
	}
	writeJSON(w, http.StatusOK, resp)
}

type modifyAppointmentRequest struct {
	AppointmentID    string `json:"appointment_id"`
	NewSlotID        string `json:"new_slot_id"`
	PaymentMethodRef string `json:"payment_method_ref"`
	ReceiptEmail     string `json:"receipt_email"`
}

func (h *AppointmentsHandler) Modify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req modifyAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = trimmed(req.AppointmentID)
	req.NewSlotID = trimmed(req.NewSlotID)
	if req.AppointmentID == "" || req.NewSlotID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id and new_slot_id required")
		return
	}
	if !h.authorizeAppointment(w, r, req.AppointmentID) {
		return
	}

	res, err := h.svc.Modify(r.Context(), lifecycle.ModifyRequest{
		AppointmentID:    req.AppointmentID,
		NewSlotID:        req.NewSlotID,
		PaymentMethodRef: trimmed(req.PaymentMethodRef),
		ReceiptEmail:     trimmed(req.ReceiptEmail),
	})
	if err != nil {
		h.writeChangeError(w, r, "modify", err)
		return
	}

	resp := changeOutcomeResponse{
		Appointment:   toAppointmentResponse(res.Appointment),
		Outcome:       string(res.Outcome),
		FeeCharged:    res.FeeCharged,
		RefundID:      res.RefundID,
		RefundWarning: res.RefundWarning,
	}
	if res.FeeCharged {
		resp.FeeCents = res.FeePayment.AmountCents
		resp.Currency = res.FeePayment.Currency
	}
	writeJSON(w, http.StatusOK, resp)
}

type completeAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *AppointmentsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req completeAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = trimmed(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	if !h.authorizeAppointment(w, r, req.AppointmentID) {
		return
	}

	appt, err := h.svc.Complete(r.Context(), req.AppointmentID)
	if err != nil {
		h.logFailure(r, "complete", err)
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type recordBookingPaymentRequest struct {
	AppointmentID string `json:"appointment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
}

// RecordPayment stores the booking payment for a pending appointment and
// confirms it.
func (h *AppointmentsHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req recordBookingPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = trimmed(req.AppointmentID)
	req.TransactionID = trimmed(req.TransactionID)
	if req.AppointmentID == "" || req.TransactionID == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "appointment_id, transaction_id and amount_cents required")
		return
	}
	if !h.authorizeAppointment(w, r, req.AppointmentID) {
		return
	}

	payment, err := h.recorder.RecordBookingPayment(r.Context(), payments.RecordPaymentRequest{
		ClientID:      clientID(r),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		TransactionID: req.TransactionID,
		Target:        model.AppointmentTarget(req.AppointmentID),
	})
	if err != nil {
		h.logFailure(r, "record booking payment", err)
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	appt, err := h.svc.Confirm(r.Context(), req.AppointmentID)
	if err != nil {
		h.logFailure(r, "confirm after payment", err)
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":  payment.ID,
		"appointment": toAppointmentResponse(appt),
	})
}

// authorizeAppointment ensures the caller owns the appointment before any
// state change.
func (h *AppointmentsHandler) authorizeAppointment(w http.ResponseWriter, r *http.Request, appointmentID string) bool {
	appt, err := h.reader.Get(r.Context(), appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return false
	}
	if err != nil {
		h.logFailure(r, "load appointment", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if appt.ClientID != clientID(r) {
		writeError(w, http.StatusForbidden, "not your appointment")
		return false
	}
	return true
}

// writeChangeError renders cancel/modify failures. A missing fee payment
// method gets a 402 carrying the fee amount so the UI can prompt for it.
func (h *AppointmentsHandler) writeChangeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, lifecycle.ErrFeeRequired) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "late change fee payment required",
			"fee_cents": h.policy.FeeAmountCents(),
			"currency":  h.policy.Currency,
		})
		return
	}
	h.logFailure(r, op, err)
	status, msg := statusForError(err)
	writeError(w, status, msg)
}

func (h *AppointmentsHandler) logFailure(r *http.Request, op string, err error) {
	h.logger.Error("appointment operation failed",
		"op", op,
		"path", r.URL.Path,
		"client_id", clientID(r),
		"error", err)
}
