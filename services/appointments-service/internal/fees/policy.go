// Package fees decides when a schedule change is close enough to the
// appointment to require a paid fee.
package fees

import (
	"strings"
	"time"
)

const (
	// LateChangeWindow is the threshold before a scheduled appointment
	// within which cancellations and modifications incur a fee.
	LateChangeWindow = 24 * time.Hour

	// LateChangeFeeCents is the flat fee charged for a late change.
	LateChangeFeeCents int64 = 5000

	DefaultCurrency = "CAD"
)

// RequiresFee reports whether a change to an appointment scheduled at
// scheduledAt is inside the late-change window as of now. Exactly at the
// boundary no fee is due.
func RequiresFee(scheduledAt, now time.Time) bool {
	return scheduledAt.Sub(now) < LateChangeWindow
}

// Policy carries the deployment's fee configuration. The amount and window
// are fixed; only the currency varies per deployment.
type Policy struct {
	Currency string
}

func NewPolicy(currency string) Policy {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Policy{Currency: currency}
}

func (p Policy) RequiresFee(scheduledAt, now time.Time) bool {
	return RequiresFee(scheduledAt, now)
}

func (p Policy) FeeAmountCents() int64 {
	return LateChangeFeeCents
}
