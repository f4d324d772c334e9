package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

type SlotWriter interface {
	CreateSlot(ctx context.Context, s model.Slot) (model.Slot, error)
}

type SlotDeleter interface {
	DeleteSlot(ctx context.Context, slotID string) error
}

type SlotsHandler struct {
	writer  SlotWriter
	deleter SlotDeleter
	logger  *slog.Logger
}

func NewSlotsHandler(writer SlotWriter, deleter SlotDeleter, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{writer: writer, deleter: deleter, logger: logger}
}

type createSlotRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type slotResponse struct {
	SlotID     string `json:"slot_id"`
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id,omitempty"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Available  bool   `json:"available"`
}

func (h *SlotsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ProviderID = trimmed(req.ProviderID)
	req.Date = trimmed(req.Date)
	req.StartTime = trimmed(req.StartTime)
	req.EndTime = trimmed(req.EndTime)
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	if !model.ValidDate(req.Date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if !model.ValidClockTime(req.StartTime) || !model.ValidClockTime(req.EndTime) {
		writeError(w, http.StatusBadRequest, "start_time and end_time must be HH:MM")
		return
	}
	if req.EndTime <= req.StartTime {
		writeError(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}

	slot, err := h.writer.CreateSlot(r.Context(), model.Slot{
		ID:         uuid.NewString(),
		ProviderID: req.ProviderID,
		ServiceID:  trimmed(req.ServiceID),
		Date:       req.Date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Available:  true,
	})
	if err != nil {
		h.logger.Error("slot create failed", "provider_id", req.ProviderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create slot")
		return
	}

	writeJSON(w, http.StatusCreated, slotResponse{
		SlotID:     slot.ID,
		ProviderID: slot.ProviderID,
		ServiceID:  slot.ServiceID,
		Date:       slot.Date,
		StartTime:  slot.StartTime,
		EndTime:    slot.EndTime,
		Available:  slot.Available,
	})
}

// Delete handles DELETE /api/v1/slots/{id}. The active-appointment guard is
// enforced inside the delete statement, not at request parse time.
func (h *SlotsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	slotID := trimmed(strings.TrimPrefix(r.URL.Path, "/api/v1/slots/"))
	if slotID == "" || strings.Contains(slotID, "/") {
		writeError(w, http.StatusBadRequest, "slot id required")
		return
	}

	if err := h.deleter.DeleteSlot(r.Context(), slotID); err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("slot delete failed", "slot_id", slotID, "error", err)
		}
		writeError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
