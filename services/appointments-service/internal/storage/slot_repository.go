package storage

import (
	"context"
	"errors"

	"github.com/mcruz90/wellnessbook/libs/db"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

// ErrSlotReferenced reports a slot delete blocked by an active appointment.
var ErrSlotReferenced = errors.New("storage: slot has an active appointment")

type SlotRepository struct {
	db db.DBTX
}

func NewSlotRepository(dbtx db.DBTX) *SlotRepository {
	return &SlotRepository{db: dbtx}
}

func (r *SlotRepository) CreateSlot(ctx context.Context, s model.Slot) (model.Slot, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO availability_slots (id, provider_id, service_id, date, start_time, end_time, available)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING id, created_at
	`, s.ID, s.ProviderID, s.ServiceID, s.Date, s.StartTime, s.EndTime, s.Available).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

func (r *SlotRepository) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	var s model.Slot
	err := r.db.QueryRow(ctx, `
		SELECT id, provider_id, COALESCE(service_id, ''), date, start_time, end_time, available, created_at
		FROM availability_slots
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ProviderID, &s.ServiceID, &s.Date, &s.StartTime, &s.EndTime, &s.Available, &s.CreatedAt)
	if isNoRows(err) {
		return model.Slot{}, model.ErrNotFound
	}
	if err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

// ListOpenSlots returns the available slots on date for the given providers,
// restricted to slots that are generic or tied to serviceID.
func (r *SlotRepository) ListOpenSlots(ctx context.Context, providerIDs []string, serviceID, date string) ([]model.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, provider_id, COALESCE(service_id, ''), date, start_time, end_time, available, created_at
		FROM availability_slots
		WHERE provider_id = ANY($1)
			AND date = $2
			AND available = TRUE
			AND (service_id IS NULL OR service_id = $3)
		ORDER BY start_time ASC
	`, providerIDs, date, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.ServiceID, &s.Date, &s.StartTime, &s.EndTime, &s.Available, &s.CreatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

// DeleteIfUnreferenced deletes the slot only when no active appointment sits
// on its provider/date/start. The reference check and the delete run as one
// statement, so the guard cannot go stale between check and delete.
func (r *SlotRepository) DeleteIfUnreferenced(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM availability_slots s
		WHERE s.id = $1
			AND NOT EXISTS (
				SELECT 1 FROM appointments a
				WHERE a.provider_id = s.provider_id
					AND a.date = s.date
					AND a.start_time = s.start_time
					AND a.status <> 'cancelled'
			)
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish "gone" from "blocked" for the caller.
	if _, err := r.GetSlot(ctx, id); errors.Is(err, model.ErrNotFound) {
		return model.ErrNotFound
	} else if err != nil {
		return err
	}
	return ErrSlotReferenced
}
