package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	// ChargeRequiresConfirmation means the processor wants a follow-up
	// confirmation call (e.g. after additional authentication) before the
	// charge settles.
	ChargeRequiresConfirmation ChargeStatus = "requires_confirmation"
	ChargeFailed               ChargeStatus = "failed"
)

type ChargeRequest struct {
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
	// Reference is a stable caller-chosen key; retried calls with the same
	// reference must not produce a second charge.
	Reference    string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
}

type ChargeResult struct {
	Status        ChargeStatus
	TransactionID string
}

type RefundOutcome struct {
	RefundID string
	Status   string
}

// Processor is the external payment system boundary. Implementations must
// honor the request context so a processor outage fails the call instead of
// hanging the lifecycle operation.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	ConfirmCharge(ctx context.Context, transactionID string) (ChargeResult, error)
	CreateRefund(ctx context.Context, transactionID string) (RefundOutcome, error)
}

// StripeProcessor implements Processor on Stripe PaymentIntents.
type StripeProcessor struct{}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeProcessor{}
}

func (p *StripeProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(req.Reference),
		},
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payments: stripe charge: %w", err)
	}
	return ChargeResult{Status: chargeStatusFromIntent(pi.Status), TransactionID: pi.ID}, nil
}

func (p *StripeProcessor) ConfirmCharge(ctx context.Context, transactionID string) (ChargeResult, error) {
	pi, err := paymentintent.Confirm(transactionID, &stripe.PaymentIntentConfirmParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payments: stripe confirm: %w", err)
	}
	return ChargeResult{Status: chargeStatusFromIntent(pi.Status), TransactionID: pi.ID}, nil
}

func (p *StripeProcessor) CreateRefund(ctx context.Context, transactionID string) (RefundOutcome, error) {
	ref, err := refund.New(&stripe.RefundParams{
		Params: stripe.Params{
			Context: ctx,
			// One refund per charge: retried refund calls reuse the key.
			IdempotencyKey: stripe.String("refund-" + transactionID),
		},
		PaymentIntent: stripe.String(transactionID),
	})
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("payments: stripe refund: %w", err)
	}
	if ref.Status == stripe.RefundStatusFailed {
		return RefundOutcome{}, fmt.Errorf("payments: stripe refund failed for %s", transactionID)
	}
	return RefundOutcome{RefundID: ref.ID, Status: string(ref.Status)}, nil
}

func chargeStatusFromIntent(status stripe.PaymentIntentStatus) ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeSucceeded
	case stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusRequiresAction:
		return ChargeRequiresConfirmation
	default:
		return ChargeFailed
	}
}
