// Package availability computes the bookable time options for a
// service/date, excluding slots already consumed by active appointments.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mcruz90/wellnessbook/services/appointments-service/internal/model"
)

var ErrInvalidQuery = errors.New("availability: service id and date are required")

type Query struct {
	ProviderID           string // optional; empty means every provider qualified for the service
	ServiceID            string
	Date                 string // civil date, model.DateLayout
	ExcludeAppointmentID string // the "modifying my own appointment" case
}

// Option is a bookable start time offered to the client.
type Option struct {
	SlotID       string
	ProviderID   string
	ProviderName string
	StartTime    string
	EndTime      string
}

type SlotSource interface {
	// ListOpenSlots returns available slots on date for the given providers,
	// restricted to slots that are generic or tied to serviceID.
	ListOpenSlots(ctx context.Context, providerIDs []string, serviceID, date string) ([]model.Slot, error)
}

type AppointmentSource interface {
	// ListActiveForDate returns non-cancelled appointments on date for the
	// given providers.
	ListActiveForDate(ctx context.Context, providerIDs []string, date string) ([]model.Appointment, error)
}

type ProviderSource interface {
	ProvidersForService(ctx context.Context, serviceID string) ([]model.Provider, error)
	GetProvider(ctx context.Context, providerID string) (model.Provider, error)
}

type Resolver struct {
	slots     SlotSource
	appts     AppointmentSource
	providers ProviderSource
}

func NewResolver(slots SlotSource, appts AppointmentSource, providers ProviderSource) *Resolver {
	return &Resolver{slots: slots, appts: appts, providers: providers}
}

// Resolve returns the open options sorted by start time, then provider name.
// No qualifying slots is an empty result, not an error; errors mean the
// underlying stores failed.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Option, error) {
	if q.ServiceID == "" || !model.ValidDate(q.Date) {
		return nil, ErrInvalidQuery
	}

	providers, err := r.resolveProviders(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, nil
	}

	providerIDs := make([]string, 0, len(providers))
	names := make(map[string]string, len(providers))
	for _, p := range providers {
		providerIDs = append(providerIDs, p.ID)
		names[p.ID] = p.Name
	}

	slots, err := r.slots.ListOpenSlots(ctx, providerIDs, q.ServiceID, q.Date)
	if err != nil {
		return nil, fmt.Errorf("availability: list slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}

	active, err := r.appts.ListActiveForDate(ctx, providerIDs, q.Date)
	if err != nil {
		return nil, fmt.Errorf("availability: list appointments: %w", err)
	}

	occupied := make(map[string]struct{}, len(active))
	for _, a := range active {
		if a.ID == q.ExcludeAppointmentID {
			continue
		}
		occupied[occupancyKey(a.ProviderID, a.Date, a.StartTime)] = struct{}{}
	}

	options := make([]Option, 0, len(slots))
	for _, s := range slots {
		if _, taken := occupied[occupancyKey(s.ProviderID, s.Date, s.StartTime)]; taken {
			continue
		}
		options = append(options, Option{
			SlotID:       s.ID,
			ProviderID:   s.ProviderID,
			ProviderName: names[s.ProviderID],
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
		})
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].StartTime != options[j].StartTime {
			return options[i].StartTime < options[j].StartTime
		}
		return options[i].ProviderName < options[j].ProviderName
	})
	return options, nil
}

func (r *Resolver) resolveProviders(ctx context.Context, q Query) ([]model.Provider, error) {
	if q.ProviderID != "" {
		p, err := r.providers.GetProvider(ctx, q.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("availability: load provider: %w", err)
		}
		return []model.Provider{p}, nil
	}
	providers, err := r.providers.ProvidersForService(ctx, q.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("availability: list providers for service: %w", err)
	}
	return providers, nil
}

func occupancyKey(providerID, date, start string) string {
	return providerID + "|" + date + "|" + start
}
