package model

import (
	"testing"
	"time"
)

func TestValidDateRequiresCanonicalForm(t *testing.T) {
	cases := map[string]bool{
		"2026-09-01": true,
		"2026-9-1":   false,
		"2026-13-01": false,
		"09-01-2026": false,
		"":           false,
	}
	for in, want := range cases {
		if got := ValidDate(in); got != want {
			t.Errorf("ValidDate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidClockTime(t *testing.T) {
	cases := map[string]bool{
		"10:00": true,
		"00:00": true,
		"9:00":  false,
		"24:00": false,
		"10:00:00": false,
	}
	for in, want := range cases {
		if got := ValidClockTime(in); got != want {
			t.Errorf("ValidClockTime(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCombineDateTime(t *testing.T) {
	got, err := CombineDateTime("2026-09-01", "14:30")
	if err != nil {
		t.Fatalf("CombineDateTime: %v", err)
	}
	want := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPaymentTargetIsExclusive(t *testing.T) {
	appt := AppointmentTarget("appt-1")
	if id, ok := appt.AppointmentID(); !ok || id != "appt-1" {
		t.Fatalf("AppointmentID = %q, %v", id, ok)
	}
	if _, ok := appt.OrderID(); ok {
		t.Fatalf("appointment target must not expose an order id")
	}

	order := OrderTarget("order-1")
	if id, ok := order.OrderID(); !ok || id != "order-1" {
		t.Fatalf("OrderID = %q, %v", id, ok)
	}
	if _, ok := order.AppointmentID(); ok {
		t.Fatalf("order target must not expose an appointment id")
	}

	if err := (PaymentTarget{}).Validate(); err == nil {
		t.Fatalf("zero target should fail validation")
	}
	if err := appt.Validate(); err != nil {
		t.Fatalf("appointment target should validate: %v", err)
	}
}

func TestStatusActiveMeansOccupiesSlot(t *testing.T) {
	if !StatusPending.Active() || !StatusConfirmed.Active() || !StatusCompleted.Active() {
		t.Fatalf("pending, confirmed and completed all occupy their slot")
	}
	if StatusCancelled.Active() {
		t.Fatalf("cancelled releases the slot")
	}
}

func TestStatusChangeable(t *testing.T) {
	if !StatusPending.Changeable() || !StatusConfirmed.Changeable() {
		t.Fatalf("pending and confirmed can still be changed")
	}
	if StatusCompleted.Changeable() || StatusCancelled.Changeable() {
		t.Fatalf("completed and cancelled are final")
	}
}
