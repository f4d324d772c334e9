// Package lifecycle drives appointments through their status transitions
// and coordinates the fee and refund side effects around them.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/fees"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/outbox"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/storage"
)

var (
	// ErrSlotUnavailable reports a booking or reschedule that lost the slot,
	// either before or during the transaction.
	ErrSlotUnavailable = errors.New("lifecycle: slot no longer available")
	// ErrInvalidTransition reports a status change the state machine forbids.
	ErrInvalidTransition = errors.New("lifecycle: invalid status transition")
	// ErrFeeRequired reports a late change attempted without a payment method.
	ErrFeeRequired = errors.New("lifecycle: late change fee payment required")
	// ErrFeeChargeFailed reports a late change abandoned because the fee
	// charge was declined. The appointment is untouched.
	ErrFeeChargeFailed = errors.New("lifecycle: late change fee charge failed")
	// ErrSlotInUse reports a slot delete blocked by an active appointment.
	ErrSlotInUse = errors.New("lifecycle: slot has an active appointment")
	// ErrServiceUnavailable reports a booking against an inactive service.
	ErrServiceUnavailable = errors.New("lifecycle: service not offered")
)

// FeeOutcome names the terminal state of a fee-gated cancel or modify.
type FeeOutcome string

const (
	// OutcomeFullySucceeded: the change and every payment side effect landed.
	OutcomeFullySucceeded FeeOutcome = "fully_succeeded"
	// OutcomeFeeChargedRefundFailed: the fee was charged and the change
	// completed, but refunding the original payment failed.
	OutcomeFeeChargedRefundFailed FeeOutcome = "fee_charged_refund_failed"
	// OutcomeFeeChargeFailed: the fee charge was declined and the change was
	// abandoned before touching the appointment.
	OutcomeFeeChargeFailed FeeOutcome = "fee_charge_failed"
)

type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	ReserveIdempotencyKey(ctx context.Context, tx pgx.Tx, clientID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, clientID, key, appointmentID string, statusCode int, response []byte) error
	CreateTx(ctx context.Context, tx pgx.Tx, appt model.Appointment) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status model.AppointmentStatus) error
	RescheduleTx(ctx context.Context, tx pgx.Tx, appt model.Appointment) error
}

type SlotStore interface {
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	DeleteIfUnreferenced(ctx context.Context, id string) error
}

type ServiceCatalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
}

// PaymentCoordinator is the slice of the payments coordinator the lifecycle
// needs. RefundOriginalPayment reports failure in the result, never as an
// error, so a cancellation always completes.
type PaymentCoordinator interface {
	ChargeFee(ctx context.Context, req payments.ChargeFeeRequest) (model.Payment, error)
	RefundOriginalPayment(ctx context.Context, appointmentID string) payments.RefundResult
}

type EventRecorder interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Service struct {
	appts    AppointmentStore
	slots    SlotStore
	catalog  ServiceCatalog
	payments PaymentCoordinator
	policy   fees.Policy
	events   EventRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(appts AppointmentStore, slots SlotStore, catalog ServiceCatalog, coordinator PaymentCoordinator, policy fees.Policy, events EventRecorder, logger *slog.Logger) *Service {
	return &Service{
		appts:    appts,
		slots:    slots,
		catalog:  catalog,
		payments: coordinator,
		policy:   policy,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type BookRequest struct {
	ClientID       string
	ServiceID      string
	SlotID         string
	Notes          string
	Confirm        bool
	IdempotencyKey string
}

type BookResult struct {
	Appointment model.Appointment
	// Replayed is true when an Idempotency-Key matched a previous booking
	// and that booking was returned instead of creating a new one.
	Replayed bool
}

// Book places an appointment on a slot. The final word on double booking is
// the active-appointment unique index, checked inside the insert; the slot
// lookup beforehand only produces friendlier errors.
func (s *Service) Book(ctx context.Context, req BookRequest) (BookResult, error) {
	if req.ClientID == "" || req.ServiceID == "" || req.SlotID == "" {
		return BookResult{}, fmt.Errorf("lifecycle: client, service and slot are required")
	}

	svc, err := s.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return BookResult{}, fmt.Errorf("lifecycle: load service: %w", err)
	}
	if !svc.Active {
		return BookResult{}, ErrServiceUnavailable
	}

	slot, err := s.slots.GetSlot(ctx, req.SlotID)
	if err != nil {
		return BookResult{}, fmt.Errorf("lifecycle: load slot: %w", err)
	}
	if !slot.Available {
		return BookResult{}, ErrSlotUnavailable
	}
	if slot.ServiceID != "" && slot.ServiceID != req.ServiceID {
		return BookResult{}, ErrSlotUnavailable
	}

	status := model.StatusPending
	if req.Confirm {
		status = model.StatusConfirmed
	}
	appt := model.Appointment{
		ID:              uuid.NewString(),
		ClientID:        req.ClientID,
		ProviderID:      slot.ProviderID,
		ServiceID:       req.ServiceID,
		SlotID:          slot.ID,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		DurationMinutes: svc.DurationMinutes,
		Notes:           req.Notes,
		Status:          status,
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return BookResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.IdempotencyKey != "" {
		rec, replay, err := s.appts.ReserveIdempotencyKey(ctx, tx, req.ClientID, req.IdempotencyKey)
		if err != nil {
			return BookResult{}, err
		}
		if replay && rec.AppointmentID != "" {
			if err := tx.Commit(ctx); err != nil {
				return BookResult{}, err
			}
			prior, err := s.appts.Get(ctx, rec.AppointmentID)
			if err != nil {
				return BookResult{}, err
			}
			return BookResult{Appointment: prior, Replayed: true}, nil
		}
	}

	created, err := s.appts.CreateTx(ctx, tx, appt)
	if errors.Is(err, storage.ErrSlotTaken) {
		return BookResult{}, ErrSlotUnavailable
	}
	if err != nil {
		return BookResult{}, err
	}

	if err := s.events.Insert(ctx, tx, outbox.AppointmentBooked(created, s.now())); err != nil {
		return BookResult{}, err
	}

	if req.IdempotencyKey != "" {
		payload, _ := json.Marshal(created)
		if err := s.appts.FinalizeIdempotency(ctx, tx, req.ClientID, req.IdempotencyKey, created.ID, 201, payload); err != nil {
			return BookResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BookResult{}, err
	}
	return BookResult{Appointment: created}, nil
}

type CancelRequest struct {
	AppointmentID    string
	PaymentMethodRef string
	ReceiptEmail     string
}

type CancelResult struct {
	Appointment      model.Appointment
	AlreadyCancelled bool
	FeeCharged       bool
	FeePayment       model.Payment
	RefundID         string
	// RefundWarning is set when the cancellation completed but the original
	// payment could not be refunded.
	RefundWarning string
	Outcome       FeeOutcome
}

// Cancel cancels the appointment, charging the late-change fee first when
// the appointment starts inside the fee window. A declined fee aborts the
// cancellation; a failed refund never does.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	appt, err := s.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return CancelResult{}, err
	}
	switch appt.Status {
	case model.StatusCancelled:
		// Cancelling twice is a no-op, not an error.
		return CancelResult{Appointment: appt, AlreadyCancelled: true, Outcome: OutcomeFullySucceeded}, nil
	case model.StatusCompleted:
		return CancelResult{}, ErrInvalidTransition
	}

	now := s.now()
	feePayment, feeCharged, err := s.chargeLateFeeIfDue(ctx, appt, req.PaymentMethodRef, req.ReceiptEmail, "cancel", now)
	if err != nil {
		if errors.Is(err, ErrFeeChargeFailed) {
			return CancelResult{Appointment: appt, Outcome: OutcomeFeeChargeFailed}, err
		}
		return CancelResult{}, err
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return CancelResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.appts.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		return CancelResult{}, err
	}
	if current.Status == model.StatusCancelled {
		// A concurrent cancel won the race. If our fee already went
		// through, it still has to land in the books and the refund flow
		// still has to run; the refund itself is idempotent.
		result := CancelResult{Appointment: current, AlreadyCancelled: true, FeeCharged: feeCharged, FeePayment: feePayment, Outcome: OutcomeFullySucceeded}
		if !feeCharged {
			return result, nil
		}
		if err := s.events.Insert(ctx, tx, outbox.FeeCharged(feePayment, now)); err != nil {
			return CancelResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return CancelResult{}, err
		}
		return s.settleCancelRefund(ctx, result, now), nil
	}
	if current.Status == model.StatusCompleted {
		return CancelResult{}, ErrInvalidTransition
	}

	if err := s.appts.UpdateStatusTx(ctx, tx, current.ID, model.StatusCancelled); err != nil {
		return CancelResult{}, err
	}
	current.Status = model.StatusCancelled

	if feeCharged {
		if err := s.events.Insert(ctx, tx, outbox.FeeCharged(feePayment, now)); err != nil {
			return CancelResult{}, err
		}
	}
	if err := s.events.Insert(ctx, tx, outbox.AppointmentCancelled(current, now)); err != nil {
		return CancelResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CancelResult{}, err
	}

	result := CancelResult{Appointment: current, FeeCharged: feeCharged, FeePayment: feePayment, Outcome: OutcomeFullySucceeded}
	return s.settleCancelRefund(ctx, result, now), nil
}

// settleCancelRefund runs the original-payment refund after the cancel
// committed. The cancellation stands even when the refund fails; the
// failure becomes a warning, an outcome downgrade and a reconciliation
// event.
func (s *Service) settleCancelRefund(ctx context.Context, result CancelResult, now time.Time) CancelResult {
	refund := s.payments.RefundOriginalPayment(ctx, result.Appointment.ID)
	if refund.Success {
		result.RefundID = refund.RefundID
		return result
	}

	result.RefundWarning = refundWarning(refund.Err)
	if result.FeeCharged {
		result.Outcome = OutcomeFeeChargedRefundFailed
	}
	s.logger.Warn("appointment cancelled but refund failed",
		"appointment_id", result.Appointment.ID,
		"error", refund.Err)
	s.recordRefundFailure(ctx, result.Appointment.ID, result.Appointment.ClientID, result.RefundWarning, now)
	return result
}

type ModifyRequest struct {
	AppointmentID    string
	NewSlotID        string
	PaymentMethodRef string
	ReceiptEmail     string
}

type ModifyResult struct {
	Appointment   model.Appointment
	FeeCharged    bool
	FeePayment    model.Payment
	RefundID      string
	RefundWarning string
	Outcome       FeeOutcome
}

// Modify moves the appointment to a new slot and drops it back to pending
// for re-payment. The fee window is judged against the original start time.
func (s *Service) Modify(ctx context.Context, req ModifyRequest) (ModifyResult, error) {
	if req.NewSlotID == "" {
		return ModifyResult{}, fmt.Errorf("lifecycle: new slot is required")
	}

	appt, err := s.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return ModifyResult{}, err
	}
	if !appt.Status.Changeable() {
		return ModifyResult{}, ErrInvalidTransition
	}

	slot, err := s.slots.GetSlot(ctx, req.NewSlotID)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("lifecycle: load slot: %w", err)
	}
	if !slot.Available {
		return ModifyResult{}, ErrSlotUnavailable
	}
	if slot.ServiceID != "" && slot.ServiceID != appt.ServiceID {
		return ModifyResult{}, ErrSlotUnavailable
	}

	now := s.now()
	feePayment, feeCharged, err := s.chargeLateFeeIfDue(ctx, appt, req.PaymentMethodRef, req.ReceiptEmail, "modify-"+slot.ID, now)
	if err != nil {
		if errors.Is(err, ErrFeeChargeFailed) {
			return ModifyResult{Appointment: appt, Outcome: OutcomeFeeChargeFailed}, err
		}
		return ModifyResult{}, err
	}

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return ModifyResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.appts.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		return ModifyResult{}, err
	}
	if !current.Status.Changeable() {
		return ModifyResult{}, ErrInvalidTransition
	}

	current.ProviderID = slot.ProviderID
	current.SlotID = slot.ID
	current.Date = slot.Date
	current.StartTime = slot.StartTime
	current.Status = model.StatusPending

	if err := s.appts.RescheduleTx(ctx, tx, current); err != nil {
		if errors.Is(err, storage.ErrSlotTaken) {
			return ModifyResult{}, ErrSlotUnavailable
		}
		return ModifyResult{}, err
	}

	if feeCharged {
		if err := s.events.Insert(ctx, tx, outbox.FeeCharged(feePayment, now)); err != nil {
			return ModifyResult{}, err
		}
	}
	if err := s.events.Insert(ctx, tx, outbox.AppointmentModified(current, now)); err != nil {
		return ModifyResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ModifyResult{}, err
	}

	result := ModifyResult{Appointment: current, FeeCharged: feeCharged, FeePayment: feePayment, Outcome: OutcomeFullySucceeded}
	refund := s.payments.RefundOriginalPayment(ctx, current.ID)
	if refund.Success {
		result.RefundID = refund.RefundID
		return result, nil
	}

	result.RefundWarning = refundWarning(refund.Err)
	if feeCharged {
		result.Outcome = OutcomeFeeChargedRefundFailed
	}
	s.logger.Warn("appointment modified but refund failed",
		"appointment_id", current.ID,
		"error", refund.Err)
	s.recordRefundFailure(ctx, current.ID, current.ClientID, result.RefundWarning, now)
	return result, nil
}

// Confirm moves a pending appointment to confirmed, typically after its
// booking payment lands. Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, appointmentID string) (model.Appointment, error) {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusConfirmed {
		return appt, tx.Commit(ctx)
	}
	if appt.Status != model.StatusPending {
		return model.Appointment{}, ErrInvalidTransition
	}
	if err := s.appts.UpdateStatusTx(ctx, tx, appt.ID, model.StatusConfirmed); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusConfirmed
	return appt, tx.Commit(ctx)
}

// Complete marks a confirmed appointment as delivered. Completing twice is a
// no-op; completing from pending or cancelled is an invalid transition.
func (s *Service) Complete(ctx context.Context, appointmentID string) (model.Appointment, error) {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCompleted {
		return appt, tx.Commit(ctx)
	}
	if appt.Status != model.StatusConfirmed {
		return model.Appointment{}, ErrInvalidTransition
	}
	if err := s.appts.UpdateStatusTx(ctx, tx, appt.ID, model.StatusCompleted); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCompleted
	if err := s.events.Insert(ctx, tx, outbox.AppointmentCompleted(appt, s.now())); err != nil {
		return model.Appointment{}, err
	}
	return appt, tx.Commit(ctx)
}

// DeleteSlot removes an availability slot unless an active appointment sits
// on it. The reference check runs inside the delete statement, so it holds
// at delete time, not at request time.
func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	err := s.slots.DeleteIfUnreferenced(ctx, slotID)
	if errors.Is(err, storage.ErrSlotReferenced) {
		return ErrSlotInUse
	}
	return err
}

// FeeDue reports whether changing the appointment now would incur the
// late-change fee, and the fee amount.
func (s *Service) FeeDue(appt model.Appointment) (bool, int64, error) {
	scheduledAt, err := appt.ScheduledAt()
	if err != nil {
		return false, 0, err
	}
	return s.policy.RequiresFee(scheduledAt, s.now()), s.policy.FeeAmountCents(), nil
}

func (s *Service) chargeLateFeeIfDue(ctx context.Context, appt model.Appointment, paymentMethodRef, receiptEmail, op string, now time.Time) (model.Payment, bool, error) {
	scheduledAt, err := appt.ScheduledAt()
	if err != nil {
		return model.Payment{}, false, err
	}
	if !s.policy.RequiresFee(scheduledAt, now) {
		return model.Payment{}, false, nil
	}
	if paymentMethodRef == "" {
		return model.Payment{}, false, ErrFeeRequired
	}

	payment, err := s.payments.ChargeFee(ctx, payments.ChargeFeeRequest{
		ClientID:         appt.ClientID,
		AmountCents:      s.policy.FeeAmountCents(),
		Currency:         s.policy.Currency,
		PaymentMethodRef: paymentMethodRef,
		ReceiptEmail:     receiptEmail,
		Target:           model.AppointmentTarget(appt.ID),
		Reference:        "late-fee-" + op + "-" + appt.ID,
	})
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("%w: %v", ErrFeeChargeFailed, err)
	}
	return payment, true, nil
}

// recordRefundFailure writes the refund-failed event in its own transaction
// so support tooling hears about it. Best effort; the warning is already in
// the response and the log.
func (s *Service) recordRefundFailure(ctx context.Context, appointmentID, clientID, reason string, now time.Time) {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		s.logger.Error("recording refund failure", "appointment_id", appointmentID, "error", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.events.Insert(ctx, tx, outbox.RefundFailed(appointmentID, clientID, reason, now)); err != nil {
		s.logger.Error("recording refund failure", "appointment_id", appointmentID, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("recording refund failure", "appointment_id", appointmentID, "error", err)
	}
}

func refundWarning(err error) string {
	if err == nil {
		return "refund could not be completed"
	}
	return "refund could not be completed: " + err.Error()
}
