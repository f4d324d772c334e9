package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

var (
	// ErrChargeDeclined reports a charge the processor rejected outright.
	ErrChargeDeclined = errors.New("payments: charge declined")
	// ErrDuplicateTransaction reports a payment row that already exists for
	// a transaction id.
	ErrDuplicateTransaction = errors.New("payments: duplicate transaction")
	// ErrAlreadyRefunded reports a payment that already has a refund row.
	ErrAlreadyRefunded = errors.New("payments: already refunded")
)

// Store is the persistence surface the coordinator needs. CreatePayment must
// enforce transaction-id uniqueness and CreateRefund must enforce one refund
// per payment, returning the sentinel errors above on conflict.
// GetPaymentByAppointmentID returns the original booking payment only, never
// a late-change fee charged against the same appointment.
type Store interface {
	CreatePayment(ctx context.Context, p model.Payment) (model.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (model.Payment, error)
	GetPaymentByAppointmentID(ctx context.Context, appointmentID string) (model.Payment, error)
	CreateRefund(ctx context.Context, r model.Refund) (model.Refund, error)
	GetRefundByPaymentID(ctx context.Context, paymentID string) (model.Refund, error)
	MarkPaymentRefunded(ctx context.Context, paymentID string) error
}

type ChargeFeeRequest struct {
	ClientID         string
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
	ReceiptEmail     string
	Target           model.PaymentTarget
	Reference        string
}

// RefundResult is a value, never an error: refund failures are reported in
// Err so callers can finish their own work and surface a warning.
type RefundResult struct {
	Success  bool
	RefundID string
	Err      error
}

type RecordPaymentRequest struct {
	ClientID      string
	AmountCents   int64
	Currency      string
	TransactionID string
	Target        model.PaymentTarget
}

// Coordinator owns the charge/refund/record flows against the external
// processor and the payment store.
type Coordinator struct {
	store     Store
	processor Processor
	logger    *slog.Logger
}

func NewCoordinator(store Store, processor Processor, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, processor: processor, logger: logger}
}

// ChargeFee charges the late-change fee and persists the resulting payment.
// The request reference doubles as the processor idempotency key, so a
// retried call re-lands on the same external transaction; the store's
// transaction-id uniqueness then collapses the duplicate row to the first.
func (c *Coordinator) ChargeFee(ctx context.Context, req ChargeFeeRequest) (model.Payment, error) {
	if err := req.Target.Validate(); err != nil {
		return model.Payment{}, err
	}
	if req.AmountCents <= 0 {
		return model.Payment{}, fmt.Errorf("payments: invalid fee amount %d", req.AmountCents)
	}
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	result, err := c.processor.CreateCharge(ctx, ChargeRequest{
		AmountCents:      req.AmountCents,
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
		Reference:        reference,
		Description:      "Late change fee",
		ReceiptEmail:     req.ReceiptEmail,
	})
	if err != nil {
		return model.Payment{}, err
	}
	if result.Status == ChargeRequiresConfirmation {
		result, err = c.processor.ConfirmCharge(ctx, result.TransactionID)
		if err != nil {
			return model.Payment{}, err
		}
	}
	if result.Status != ChargeSucceeded {
		return model.Payment{}, fmt.Errorf("%w: transaction %s status %s", ErrChargeDeclined, result.TransactionID, result.Status)
	}

	payment := model.Payment{
		ID:            uuid.NewString(),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Status:        model.PaymentSucceeded,
		Purpose:       model.PurposeLateFee,
		TransactionID: result.TransactionID,
		ClientID:      req.ClientID,
		Target:        req.Target,
	}
	created, err := c.store.CreatePayment(ctx, payment)
	if errors.Is(err, ErrDuplicateTransaction) {
		return c.store.GetPaymentByTransactionID(ctx, result.TransactionID)
	}
	if err != nil {
		return model.Payment{}, err
	}
	return created, nil
}

// RefundOriginalPayment refunds the payment attached to an appointment. It
// never returns a Go error: failures come back in RefundResult.Err so the
// caller's cancellation can complete regardless.
func (c *Coordinator) RefundOriginalPayment(ctx context.Context, appointmentID string) RefundResult {
	payment, err := c.store.GetPaymentByAppointmentID(ctx, appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		// Nothing was paid, nothing to refund.
		return RefundResult{Success: true}
	}
	if err != nil {
		return RefundResult{Err: fmt.Errorf("payments: load payment for appointment %s: %w", appointmentID, err)}
	}

	if payment.Status == model.PaymentRefunded {
		existing, err := c.store.GetRefundByPaymentID(ctx, payment.ID)
		if err == nil {
			return RefundResult{Success: true, RefundID: existing.ProviderRefundID}
		}
		return RefundResult{Success: true}
	}

	outcome, err := c.processor.CreateRefund(ctx, payment.TransactionID)
	if err != nil {
		return RefundResult{Err: err}
	}

	refundRow := model.Refund{
		ID:               uuid.NewString(),
		PaymentID:        payment.ID,
		ProviderRefundID: outcome.RefundID,
		Status:           outcome.Status,
	}
	if _, err := c.store.CreateRefund(ctx, refundRow); err != nil {
		if errors.Is(err, ErrAlreadyRefunded) {
			return RefundResult{Success: true, RefundID: outcome.RefundID}
		}
		// The money moved; a bookkeeping failure must not read as a failed
		// refund. Log it loudly and report success.
		c.logger.Error("refund succeeded but persisting refund row failed",
			"payment_id", payment.ID,
			"refund_id", outcome.RefundID,
			"error", err)
		return RefundResult{Success: true, RefundID: outcome.RefundID}
	}
	if err := c.store.MarkPaymentRefunded(ctx, payment.ID); err != nil {
		c.logger.Error("refund succeeded but marking payment refunded failed",
			"payment_id", payment.ID,
			"refund_id", outcome.RefundID,
			"error", err)
	}
	return RefundResult{Success: true, RefundID: outcome.RefundID}
}

// RecordProductPayment persists a payment collected out of band for a retail
// order. No charge is attempted here; the caller already holds a settled
// transaction id, and that id keeps retries idempotent.
func (c *Coordinator) RecordProductPayment(ctx context.Context, req RecordPaymentRequest) (model.Payment, error) {
	if _, ok := req.Target.OrderID(); !ok {
		return model.Payment{}, fmt.Errorf("payments: product payment requires an order target")
	}
	return c.recordPayment(ctx, req, model.PurposeOrder)
}

// RecordBookingPayment persists the payment a client made to confirm an
// appointment. This is the payment RefundOriginalPayment later returns.
func (c *Coordinator) RecordBookingPayment(ctx context.Context, req RecordPaymentRequest) (model.Payment, error) {
	if _, ok := req.Target.AppointmentID(); !ok {
		return model.Payment{}, fmt.Errorf("payments: booking payment requires an appointment target")
	}
	return c.recordPayment(ctx, req, model.PurposeBooking)
}

func (c *Coordinator) recordPayment(ctx context.Context, req RecordPaymentRequest, purpose model.PaymentPurpose) (model.Payment, error) {
	if err := req.Target.Validate(); err != nil {
		return model.Payment{}, err
	}
	if req.TransactionID == "" {
		return model.Payment{}, fmt.Errorf("payments: recorded payment requires a transaction id")
	}
	if req.AmountCents <= 0 {
		return model.Payment{}, fmt.Errorf("payments: invalid payment amount %d", req.AmountCents)
	}

	payment := model.Payment{
		ID:            uuid.NewString(),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Status:        model.PaymentSucceeded,
		Purpose:       purpose,
		TransactionID: req.TransactionID,
		ClientID:      req.ClientID,
		Target:        req.Target,
	}
	created, err := c.store.CreatePayment(ctx, payment)
	if errors.Is(err, ErrDuplicateTransaction) {
		return c.store.GetPaymentByTransactionID(ctx, req.TransactionID)
	}
	if err != nil {
		return model.Payment{}, err
	}
	return created, nil
}
