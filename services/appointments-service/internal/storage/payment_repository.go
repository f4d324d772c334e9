package storage

import (
	"context"

	"github.com/mcruz90/wellnessbook/libs/db"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/payments"
)

type PaymentRepository struct {
	db db.DBTX
}

func NewPaymentRepository(dbtx db.DBTX) *PaymentRepository {
	return &PaymentRepository{db: dbtx}
}

// CreatePayment inserts the payment row. Exactly one of appointment_id and
// order_id is set, enforced by a table CHECK; the transaction_id unique key
// makes retried charges collapse to one row.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p model.Payment) (model.Payment, error) {
	apptID, _ := p.Target.AppointmentID()
	orderID, _ := p.Target.OrderID()
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments
			(id, amount_cents, currency, status, purpose, transaction_id, client_id, appointment_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, NULLIF($9, '')::uuid)
		RETURNING created_at
	`, p.ID, p.AmountCents, p.Currency, p.Status, p.Purpose, p.TransactionID, p.ClientID, apptID, orderID).Scan(&p.CreatedAt)
	if isUniqueViolation(err, constraintPaymentTransaction) {
		return model.Payment{}, payments.ErrDuplicateTransaction
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

func (r *PaymentRepository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (model.Payment, error) {
	return r.scanOne(ctx, paymentSelect+` WHERE transaction_id = $1`, transactionID)
}

// GetPaymentByAppointmentID returns the original booking payment for an
// appointment. Late-change fees against the same appointment are excluded.
func (r *PaymentRepository) GetPaymentByAppointmentID(ctx context.Context, appointmentID string) (model.Payment, error) {
	return r.scanOne(ctx, paymentSelect+` WHERE appointment_id = $1 AND purpose = 'booking'`, appointmentID)
}

// CreateRefund inserts the refund row. refunds.payment_id is unique, so a
// payment can never accumulate a second refund.
func (r *PaymentRepository) CreateRefund(ctx context.Context, ref model.Refund) (model.Refund, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO refunds (id, payment_id, provider_refund_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, ref.ID, ref.PaymentID, ref.ProviderRefundID, ref.Status).Scan(&ref.CreatedAt)
	if isUniqueViolation(err, constraintRefundPayment) {
		return model.Refund{}, payments.ErrAlreadyRefunded
	}
	if err != nil {
		return model.Refund{}, err
	}
	return ref, nil
}

func (r *PaymentRepository) GetRefundByPaymentID(ctx context.Context, paymentID string) (model.Refund, error) {
	var ref model.Refund
	err := r.db.QueryRow(ctx, `
		SELECT id, payment_id, provider_refund_id, status, created_at
		FROM refunds
		WHERE payment_id = $1
	`, paymentID).Scan(&ref.ID, &ref.PaymentID, &ref.ProviderRefundID, &ref.Status, &ref.CreatedAt)
	if isNoRows(err) {
		return model.Refund{}, model.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return ref, nil
}

func (r *PaymentRepository) MarkPaymentRefunded(ctx context.Context, paymentID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET status = 'refunded' WHERE id = $1
	`, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

const paymentSelect = `
	SELECT id, amount_cents, currency, status, purpose, transaction_id, client_id,
		COALESCE(appointment_id::text, ''), COALESCE(order_id::text, ''), created_at
	FROM payments`

func (r *PaymentRepository) scanOne(ctx context.Context, sql string, args ...any) (model.Payment, error) {
	var (
		p       model.Payment
		apptID  string
		orderID string
	)
	err := r.db.QueryRow(ctx, sql, args...).Scan(
		&p.ID,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.Purpose,
		&p.TransactionID,
		&p.ClientID,
		&apptID,
		&orderID,
		&p.CreatedAt,
	)
	if isNoRows(err) {
		return model.Payment{}, model.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	switch {
	case apptID != "":
		p.Target = model.AppointmentTarget(apptID)
	case orderID != "":
		p.Target = model.OrderTarget(orderID)
	}
	return p, nil
}
