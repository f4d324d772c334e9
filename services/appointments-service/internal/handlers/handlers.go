// Package handlers exposes the appointment, availability, slot and payment
// operations over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mcruz90/wellnessbook/libs/auth"
	"github.com/mcruz90/wellnessbook/libs/httpx"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/availability"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/lifecycle"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

type ctxKey string

const clientIDKey ctxKey = "client_id"

// WithAuth verifies the bearer token and stores the authenticated client id
// in the request context.
func WithAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := auth.ParseAndVerifyHS256(token, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), clientIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientID(r *http.Request) string {
	id, _ := r.Context().Value(clientIDKey).(string)
	return id
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForError maps domain sentinels to HTTP statuses. Unknown errors are
// internal.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, lifecycle.ErrSlotUnavailable):
		return http.StatusConflict, "slot no longer available"
	case errors.Is(err, lifecycle.ErrSlotInUse):
		return http.StatusConflict, "slot has an active appointment"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "appointment cannot change to that status"
	case errors.Is(err, lifecycle.ErrFeeChargeFailed):
		return http.StatusPaymentRequired, "late change fee charge failed"
	case errors.Is(err, lifecycle.ErrServiceUnavailable):
		return http.StatusUnprocessableEntity, "service not offered"
	case errors.Is(err, availability.ErrInvalidQuery):
		return http.StatusBadRequest, "service_id and date are required"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type appointmentResponse struct {
	AppointmentID   string `json:"appointment_id"`
	ClientID        string `json:"client_id"`
	ProviderID      string `json:"provider_id"`
	ServiceID       string `json:"service_id"`
	SlotID          string `json:"slot_id,omitempty"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:   a.ID,
		ClientID:        a.ClientID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		SlotID:          a.SlotID,
		Date:            a.Date,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Notes:           a.Notes,
		Status:          string(a.Status),
	}
	if !a.CreatedAt.IsZero() {
		resp.CreatedAt = a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

func trimmed(s string) string { return strings.TrimSpace(s) }
