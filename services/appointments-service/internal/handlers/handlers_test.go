package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mcruz90/wellnessbook/libs/auth"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/availability"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/fees"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/lifecycle"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/outbox"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
)

type fakeLifecycle struct {
	bookResult   lifecycle.BookResult
	bookErr      error
	cancelResult lifecycle.CancelResult
	cancelErr    error
	modifyResult lifecycle.ModifyResult
	modifyErr    error
	confirmAppt  model.Appointment
	completeAppt model.Appointment
	completeErr  error
	deleteErr    error
}

func (f *fakeLifecycle) Book(_ context.Context, _ lifecycle.BookRequest) (lifecycle.BookResult, error) {
	return f.bookResult, f.bookErr
}

func (f *fakeLifecycle) Cancel(_ context.Context, _ lifecycle.CancelRequest) (lifecycle.CancelResult, error) {
	return f.cancelResult, f.cancelErr
}

func (f *fakeLifecycle) Modify(_ context.Context, _ lifecycle.ModifyRequest) (lifecycle.ModifyResult, error) {
	return f.modifyResult, f.modifyErr
}

func (f *fakeLifecycle) Confirm(_ context.Context, _ string) (model.Appointment, error) {
	return f.confirmAppt, nil
}

func (f *fakeLifecycle) Complete(_ context.Context, _ string) (model.Appointment, error) {
	return f.completeAppt, f.completeErr
}

func (f *fakeLifecycle) DeleteSlot(_ context.Context, _ string) error {
	return f.deleteErr
}

type fakeReader struct {
	appts map[string]model.Appointment
	list  []model.Appointment
}

func (f *fakeReader) Get(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (f *fakeReader) ListByClient(_ context.Context, _, _, _ string) ([]model.Appointment, error) {
	return f.list, nil
}

type fakeRecorder struct {
	payment model.Payment
	err     error
}

func (f *fakeRecorder) RecordBookingPayment(_ context.Context, _ payments.RecordPaymentRequest) (model.Payment, error) {
	return f.payment, f.err
}

func (f *fakeRecorder) RecordProductPayment(_ context.Context, req payments.RecordPaymentRequest) (model.Payment, error) {
	if f.err != nil {
		return model.Payment{}, f.err
	}
	p := f.payment
	p.Target = req.Target
	p.TransactionID = req.TransactionID
	p.AmountCents = req.AmountCents
	return p, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAppointment(status model.AppointmentStatus) model.Appointment {
	return model.Appointment{
		ID:              "appt-1",
		ClientID:        "client-1",
		ProviderID:      "prov-1",
		ServiceID:       "svc-1",
		SlotID:          "slot-1",
		Date:            "2026-09-10",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          status,
	}
}

func newApptHandler(svc *fakeLifecycle, reader *fakeReader) *AppointmentsHandler {
	return NewAppointmentsHandler(svc, reader, &fakeRecorder{}, fees.NewPolicy("CAD"), discardLogger())
}

func asClient(r *http.Request, clientID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), clientIDKey, clientID))
}

func TestWithAuth(t *testing.T) {
	secret := "test-secret"
	var seen string
	handler := WithAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = clientID(r)
		w.WriteHeader(http.StatusOK)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", rec.Code)
	}

	// Valid token.
	token, err := auth.SignHS256(auth.Claims{
		Sub: "client-1",
		Exp: time.Now().Add(time.Hour).Unix(),
		Iat: time.Now().Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with token", rec.Code)
	}
	if seen != "client-1" {
		t.Fatalf("client id = %q, want client-1", seen)
	}
}

func TestCreateAppointment(t *testing.T) {
	svc := &fakeLifecycle{bookResult: lifecycle.BookResult{Appointment: sampleAppointment(model.StatusPending)}}
	h := newApptHandler(svc, &fakeReader{})

	body := `{"service_id":"svc-1","slot_id":"slot-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID != "appt-1" || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateAppointmentReplayReturns200(t *testing.T) {
	svc := &fakeLifecycle{bookResult: lifecycle.BookResult{
		Appointment: sampleAppointment(model.StatusPending),
		Replayed:    true,
	}}
	h := newApptHandler(svc, &fakeReader{})

	body := `{"service_id":"svc-1","slot_id":"slot-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body)), "client-1")
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for replay", rec.Code)
	}
}

func TestCreateAppointmentSlotConflict(t *testing.T) {
	svc := &fakeLifecycle{bookErr: lifecycle.ErrSlotUnavailable}
	h := newApptHandler(svc, &fakeReader{})

	body := `{"service_id":"svc-1","slot_id":"slot-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCancelFeeRequiredReturns402(t *testing.T) {
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": sampleAppointment(model.StatusConfirmed)}}
	svc := &fakeLifecycle{cancelErr: lifecycle.ErrFeeRequired}
	h := newApptHandler(svc, reader)

	body := `{"appointment_id":"appt-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int64(resp["fee_cents"].(float64)) != fees.LateChangeFeeCents {
		t.Fatalf("fee_cents = %v, want %d", resp["fee_cents"], fees.LateChangeFeeCents)
	}
	if resp["currency"] != "CAD" {
		t.Fatalf("currency = %v, want CAD", resp["currency"])
	}
}

func TestCancelCarriesRefundWarning(t *testing.T) {
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": sampleAppointment(model.StatusConfirmed)}}
	svc := &fakeLifecycle{cancelResult: lifecycle.CancelResult{
		Appointment:   sampleAppointment(model.StatusCancelled),
		Outcome:       lifecycle.OutcomeFullySucceeded,
		RefundWarning: "refund could not be completed: gateway down",
	}}
	h := newApptHandler(svc, reader)

	body := `{"appointment_id":"appt-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var resp changeOutcomeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RefundWarning == "" {
		t.Fatalf("refund warning dropped from response")
	}
	if resp.Appointment.Status != "cancelled" {
		t.Fatalf("status = %q, want cancelled", resp.Appointment.Status)
	}
}

func TestCancelForeignAppointmentForbidden(t *testing.T) {
	other := sampleAppointment(model.StatusConfirmed)
	other.ClientID = "someone-else"
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": other}}
	h := newApptHandler(&fakeLifecycle{}, reader)

	body := `{"appointment_id":"appt-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCompleteForeignAppointmentForbidden(t *testing.T) {
	other := sampleAppointment(model.StatusConfirmed)
	other.ClientID = "someone-else"
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": other}}
	svc := &fakeLifecycle{completeAppt: sampleAppointment(model.StatusCompleted)}
	h := newApptHandler(svc, reader)

	body := `{"appointment_id":"appt-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for another client's appointment", rec.Code)
	}
}

func TestCompleteOwnAppointment(t *testing.T) {
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": sampleAppointment(model.StatusConfirmed)}}
	svc := &fakeLifecycle{completeAppt: sampleAppointment(model.StatusCompleted)}
	h := newApptHandler(svc, reader)

	body := `{"appointment_id":"appt-1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
}

func TestModifyOutcomeInResponse(t *testing.T) {
	reader := &fakeReader{appts: map[string]model.Appointment{"appt-1": sampleAppointment(model.StatusConfirmed)}}
	svc := &fakeLifecycle{modifyResult: lifecycle.ModifyResult{
		Appointment: sampleAppointment(model.StatusPending),
		FeeCharged:  true,
		FeePayment:  model.Payment{AmountCents: fees.LateChangeFeeCents, Currency: "CAD"},
		Outcome:     lifecycle.OutcomeFeeChargedRefundFailed,
	}}
	h := newApptHandler(svc, reader)

	body := `{"appointment_id":"appt-1","new_slot_id":"slot-2"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/modify", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.Modify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp changeOutcomeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != string(lifecycle.OutcomeFeeChargedRefundFailed) {
		t.Fatalf("outcome = %q, want fee_charged_refund_failed", resp.Outcome)
	}
	if resp.FeeCents != fees.LateChangeFeeCents {
		t.Fatalf("fee_cents = %d, want %d", resp.FeeCents, fees.LateChangeFeeCents)
	}
}

func TestAvailabilityInvalidQuery(t *testing.T) {
	h := NewAvailabilityHandler(&fakeResolver{err: availability.ErrInvalidQuery})
	rec := httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/availability", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAvailabilityEmptyIsOK(t *testing.T) {
	h := NewAvailabilityHandler(&fakeResolver{})
	rec := httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/availability?service_id=svc-1&date=2026-09-10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp availabilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Options == nil || len(resp.Options) != 0 {
		t.Fatalf("want empty options list, got %v", resp.Options)
	}
}

type fakeResolver struct {
	options []availability.Option
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, _ availability.Query) ([]availability.Option, error) {
	return f.options, f.err
}

type fakeSlotWriter struct {
	created model.Slot
}

func (f *fakeSlotWriter) CreateSlot(_ context.Context, s model.Slot) (model.Slot, error) {
	f.created = s
	return s, nil
}

func TestSlotCreateValidation(t *testing.T) {
	h := NewSlotsHandler(&fakeSlotWriter{}, &fakeLifecycle{}, discardLogger())

	body := `{"provider_id":"prov-1","date":"2026-9-1","start_time":"10:00","end_time":"11:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed date", rec.Code)
	}
}

func TestSlotCreateAndDelete(t *testing.T) {
	writer := &fakeSlotWriter{}
	h := NewSlotsHandler(writer, &fakeLifecycle{}, discardLogger())

	body := `{"provider_id":"prov-1","date":"2026-09-10","start_time":"10:00","end_time":"11:00"}`
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	if !writer.created.Available {
		t.Fatalf("new slot should start available")
	}

	rec = httptest.NewRecorder()
	h.Delete(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/slots/slot-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestSlotDeleteBlocked(t *testing.T) {
	h := NewSlotsHandler(&fakeSlotWriter{}, &fakeLifecycle{deleteErr: lifecycle.ErrSlotInUse}, discardLogger())

	rec := httptest.NewRecorder()
	h.Delete(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/slots/slot-1", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 when slot is referenced", rec.Code)
	}
}

type fakeEventSink struct{}

func (fakeEventSink) Insert(_ context.Context, _ pgx.Tx, _ outbox.Event) error { return nil }

type fakeBeginner struct{}

func (fakeBeginner) Begin(_ context.Context) (pgx.Tx, error) { return nil, context.Canceled }

func TestOrderPaymentRecorded(t *testing.T) {
	recorder := &fakeRecorder{payment: model.Payment{
		ID:       "pay-1",
		Currency: "CAD",
		Status:   model.PaymentSucceeded,
		Purpose:  model.PurposeOrder,
	}}
	h := NewOrdersHandler(recorder, fakeBeginner{}, fakeEventSink{}, discardLogger())

	body := `{"order_id":"order-1","amount_cents":2599,"currency":"CAD","transaction_id":"txn_1"}`
	req := asClient(httptest.NewRequest(http.MethodPost, "/api/v1/orders/payments", strings.NewReader(body)), "client-1")
	rec := httptest.NewRecorder()
	h.RecordPayment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	var resp recordOrderPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderID != "order-1" || resp.AmountCents != 2599 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
