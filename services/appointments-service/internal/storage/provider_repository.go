package storage

import (
	"context"

	"github.com/mcruz90/wellnessbook/libs/db"
	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

type ProviderRepository struct {
	db db.DBTX
}

func NewProviderRepository(dbtx db.DBTX) *ProviderRepository {
	return &ProviderRepository{db: dbtx}
}

func (r *ProviderRepository) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := r.db.QueryRow(ctx, `
		SELECT id, name
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name)
	if isNoRows(err) {
		return model.Provider{}, model.ErrNotFound
	}
	if err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

// ProvidersForService returns the providers qualified to deliver a service,
// per the provider_services join table.
func (r *ProviderRepository) ProvidersForService(ctx context.Context, serviceID string) ([]model.Provider, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name
		FROM providers p
		JOIN provider_services ps ON ps.provider_id = p.id
		WHERE ps.service_id = $1
		ORDER BY p.name ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return providers, nil
}

func (r *ProviderRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.db.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents, active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
	if isNoRows(err) {
		return model.Service{}, model.ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return s, nil
}
