package model

import (
	"errors"
	"time"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentPurpose distinguishes what a charge was for. A cancelled
// appointment can carry both its original booking payment and a late-change
// fee, so the target alone is not enough to find "the original payment".
type PaymentPurpose string

const (
	PurposeBooking PaymentPurpose = "booking"
	PurposeLateFee PaymentPurpose = "late_fee"
	PurposeOrder   PaymentPurpose = "order"
)

// TargetKind distinguishes what a payment paid for.
type TargetKind string

const (
	TargetAppointment TargetKind = "appointment"
	TargetOrder       TargetKind = "order"
)

// PaymentTarget is the tagged form of the payments table's mutually
// exclusive appointment_id/order_id columns. A completed payment points at
// exactly one of the two; the zero value is invalid.
type PaymentTarget struct {
	kind TargetKind
	id   string
}

func AppointmentTarget(appointmentID string) PaymentTarget {
	return PaymentTarget{kind: TargetAppointment, id: appointmentID}
}

func OrderTarget(orderID string) PaymentTarget {
	return PaymentTarget{kind: TargetOrder, id: orderID}
}

func (t PaymentTarget) Kind() TargetKind { return t.kind }

func (t PaymentTarget) AppointmentID() (string, bool) {
	if t.kind != TargetAppointment {
		return "", false
	}
	return t.id, true
}

func (t PaymentTarget) OrderID() (string, bool) {
	if t.kind != TargetOrder {
		return "", false
	}
	return t.id, true
}

var ErrInvalidPaymentTarget = errors.New("payment must reference exactly one of appointment or order")

func (t PaymentTarget) Validate() error {
	if (t.kind != TargetAppointment && t.kind != TargetOrder) || t.id == "" {
		return ErrInvalidPaymentTarget
	}
	return nil
}

// Payment records a successful processor charge. Immutable once written,
// except for the refunded status flip when a linked refund lands.
type Payment struct {
	ID            string
	AmountCents   int64
	Currency      string
	Status        PaymentStatus
	Purpose       PaymentPurpose
	TransactionID string // processor charge reference; unique
	ClientID      string
	Target        PaymentTarget
	CreatedAt     time.Time
}

// Refund represents money returned for an original payment. The store
// enforces at most one refund per payment.
type Refund struct {
	ID               string
	PaymentID        string
	ProviderRefundID string
	Status           string
	CreatedAt        time.Time
}
