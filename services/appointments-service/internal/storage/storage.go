// Package storage holds the Postgres repositories. Repositories take a
// db.DBTX so the handlers run against a pool and the tests run against
// pgxmock.
package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Named constraints the repositories translate into domain errors.
const (
	constraintActiveAppointmentSlot = "appointments_provider_date_start_active_key"
	constraintPaymentTransaction    = "payments_transaction_id_key"
	constraintRefundPayment         = "refunds_payment_id_key"
)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
