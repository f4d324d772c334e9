package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mcruz90/wellnessbook/libs/db"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

// ErrSlotTaken reports the partial unique index on active appointments
// firing: another active appointment already holds the provider/date/start.
var ErrSlotTaken = errors.New("storage: provider slot already booked")

type AppointmentRepository struct {
	db db.DBTX
}

// IdempotencyRecord is a finalized (or in-flight) booking attempt keyed by
// client id and Idempotency-Key header.
type IdempotencyRecord struct {
	ClientID        string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewAppointmentRepository(dbtx db.DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: dbtx}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// ReserveIdempotencyKey locks the idempotency row for (clientID, key),
// inserting it first when absent. The second return reports replay: true
// means a previous attempt already owns the key and its record is returned.
func (r *AppointmentRepository) ReserveIdempotencyKey(ctx context.Context, tx pgx.Tx, clientID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, clientID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (client_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (client_id, idempotency_key) DO NOTHING
	`, clientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, clientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, clientID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE client_id = $1 AND idempotency_key = $2
	`, clientID, key, appointmentID, statusCode, response)
	return err
}

// CreateTx inserts the appointment inside tx. The partial unique index on
// (provider_id, date, start_time) for non-cancelled rows is the last word on
// double booking; a violation comes back as ErrSlotTaken.
func (r *AppointmentRepository) CreateTx(ctx context.Context, tx pgx.Tx, appt model.Appointment) (model.Appointment, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, client_id, provider_id, service_id, slot_id, date, start_time, duration_minutes, notes, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
		RETURNING created_at
	`, appt.ID, appt.ClientID, appt.ProviderID, appt.ServiceID, appt.SlotID,
		appt.Date, appt.StartTime, appt.DurationMinutes, appt.Notes, appt.Status).Scan(&appt.CreatedAt)
	if isUniqueViolation(err, constraintActiveAppointmentSlot) {
		return model.Appointment{}, ErrSlotTaken
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return r.scanOne(r.db.QueryRow(ctx, appointmentSelect+` WHERE id = $1`, id))
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	return r.scanOne(tx.QueryRow(ctx, appointmentSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *AppointmentRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status model.AppointmentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RescheduleTx moves the appointment to a new provider/slot/time and drops
// it back to pending. The same partial unique index guards the target slot.
func (r *AppointmentRepository) RescheduleTx(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET provider_id = $2,
			slot_id = NULLIF($3, '')::uuid,
			date = $4,
			start_time = $5,
			duration_minutes = $6,
			status = 'pending'
		WHERE id = $1
	`, appt.ID, appt.ProviderID, appt.SlotID, appt.Date, appt.StartTime, appt.DurationMinutes)
	if isUniqueViolation(err, constraintActiveAppointmentSlot) {
		return ErrSlotTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListActiveForDate returns the non-cancelled appointments on date for the
// given providers.
func (r *AppointmentRepository) ListActiveForDate(ctx context.Context, providerIDs []string, date string) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, appointmentSelect+`
		WHERE provider_id = ANY($1)
			AND date = $2
			AND status <> 'cancelled'
		ORDER BY start_time ASC
	`, providerIDs, date)
	if err != nil {
		return nil, err
	}
	return r.scanMany(rows)
}

// ListByClient returns a client's appointments split by scope. "upcoming" is
// active appointments today or later; "past" is everything else.
func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID, scope, today string) ([]model.Appointment, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch scope {
	case "past":
		rows, err = r.db.Query(ctx, appointmentSelect+`
			WHERE client_id = $1
				AND (date < $2 OR status IN ('completed', 'cancelled'))
			ORDER BY date DESC, start_time DESC
		`, clientID, today)
	default:
		rows, err = r.db.Query(ctx, appointmentSelect+`
			WHERE client_id = $1
				AND date >= $2
				AND status IN ('pending', 'confirmed')
			ORDER BY date ASC, start_time ASC
		`, clientID, today)
	}
	if err != nil {
		return nil, err
	}
	return r.scanMany(rows)
}

const appointmentSelect = `
	SELECT id, client_id, provider_id, service_id, COALESCE(slot_id::text, ''),
		date, start_time, duration_minutes, COALESCE(notes, ''), status, created_at
	FROM appointments`

func (r *AppointmentRepository) scanOne(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.ProviderID,
		&a.ServiceID,
		&a.SlotID,
		&a.Date,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Notes,
		&a.Status,
		&a.CreatedAt,
	)
	if isNoRows(err) {
		return model.Appointment{}, model.ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func (r *AppointmentRepository) scanMany(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID,
			&a.ClientID,
			&a.ProviderID,
			&a.ServiceID,
			&a.SlotID,
			&a.Date,
			&a.StartTime,
			&a.DurationMinutes,
			&a.Notes,
			&a.Status,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, clientID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT client_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE client_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, clientID, key).Scan(
		&rec.ClientID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
