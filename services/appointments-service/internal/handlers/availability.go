package handlers

import (
	"context"
	"net/http"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/availability"
)

type AvailabilityResolver interface {
	Resolve(ctx context.Context, q availability.Query) ([]availability.Option, error)
}

type AvailabilityHandler struct {
	resolver AvailabilityResolver
}

func NewAvailabilityHandler(resolver AvailabilityResolver) *AvailabilityHandler {
	return &AvailabilityHandler{resolver: resolver}
}

type availabilityOption struct {
	SlotID       string `json:"slot_id"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type availabilityResponse struct {
	Options []availabilityOption `json:"options"`
}

func (h *AvailabilityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := availability.Query{
		ProviderID:           trimmed(r.URL.Query().Get("provider_id")),
		ServiceID:            trimmed(r.URL.Query().Get("service_id")),
		Date:                 trimmed(r.URL.Query().Get("date")),
		ExcludeAppointmentID: trimmed(r.URL.Query().Get("exclude_appointment_id")),
	}

	options, err := h.resolver.Resolve(r.Context(), q)
	if err != nil {
		status, msg := statusForError(err)
		writeError(w, status, msg)
		return
	}

	// No openings is an ordinary empty list, not an error.
	resp := availabilityResponse{Options: make([]availabilityOption, 0, len(options))}
	for _, opt := range options {
		resp.Options = append(resp.Options, availabilityOption{
			SlotID:       opt.SlotID,
			ProviderID:   opt.ProviderID,
			ProviderName: opt.ProviderName,
			StartTime:    opt.StartTime,
			EndTime:      opt.EndTime,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
