// Package outbox persists domain events in the same transaction as the
// state change that caused them and publishes them to Kafka afterwards.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

// Kafka topic names. The topic equals the event type, one topic per event.
const (
	TopicAppointmentBooked    = "appointments.appointment.booked.v1"
	TopicAppointmentCancelled = "appointments.appointment.cancelled.v1"
	TopicAppointmentModified  = "appointments.appointment.modified.v1"
	TopicAppointmentCompleted = "appointments.appointment.completed.v1"
	TopicFeeCharged           = "payments.fee.charged.v1"
	TopicRefundFailed         = "payments.refund.failed.v1"
	TopicOrderRecorded        = "payments.order.recorded.v1"
)

// Event is the envelope written to the outbox table. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type appointmentPayload struct {
	AppointmentID   string `json:"appointment_id"`
	ClientID        string `json:"client_id"`
	ProviderID      string `json:"provider_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	OccurredAt      string `json:"occurred_at"`
}

func appointmentEvent(eventType string, appt model.Appointment, now time.Time) Event {
	payload, _ := json.Marshal(appointmentPayload{
		AppointmentID:   appt.ID,
		ClientID:        appt.ClientID,
		ProviderID:      appt.ProviderID,
		ServiceID:       appt.ServiceID,
		Date:            appt.Date,
		StartTime:       appt.StartTime,
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		OccurredAt:      now.UTC().Format(time.RFC3339),
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func AppointmentBooked(appt model.Appointment, now time.Time) Event {
	return appointmentEvent(TopicAppointmentBooked, appt, now)
}

func AppointmentCancelled(appt model.Appointment, now time.Time) Event {
	return appointmentEvent(TopicAppointmentCancelled, appt, now)
}

func AppointmentModified(appt model.Appointment, now time.Time) Event {
	return appointmentEvent(TopicAppointmentModified, appt, now)
}

func AppointmentCompleted(appt model.Appointment, now time.Time) Event {
	return appointmentEvent(TopicAppointmentCompleted, appt, now)
}

type paymentPayload struct {
	PaymentID     string `json:"payment_id"`
	ClientID      string `json:"client_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

func paymentEvent(eventType string, p model.Payment, now time.Time) Event {
	apptID, _ := p.Target.AppointmentID()
	orderID, _ := p.Target.OrderID()
	payload, _ := json.Marshal(paymentPayload{
		PaymentID:     p.ID,
		ClientID:      p.ClientID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		AppointmentID: apptID,
		OrderID:       orderID,
		OccurredAt:    now.UTC().Format(time.RFC3339),
	})
	return Event{
		AggregateType: "payment",
		AggregateID:   p.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func FeeCharged(p model.Payment, now time.Time) Event {
	return paymentEvent(TopicFeeCharged, p, now)
}

func OrderRecorded(p model.Payment, now time.Time) Event {
	return paymentEvent(TopicOrderRecorded, p, now)
}

type refundFailedPayload struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	Reason        string `json:"reason"`
	OccurredAt    string `json:"occurred_at"`
}

// RefundFailed flags a cancellation that completed without its refund, so
// support can follow up manually.
func RefundFailed(appointmentID, clientID, reason string, now time.Time) Event {
	payload, _ := json.Marshal(refundFailedPayload{
		AppointmentID: appointmentID,
		ClientID:      clientID,
		Reason:        reason,
		OccurredAt:    now.UTC().Format(time.RFC3339),
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     TopicRefundFailed,
		Payload:       payload,
	}
}
