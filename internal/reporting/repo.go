package reporting

import (
	"context"
	"time"

	"voiceai-production/internal/appointments"
	"voiceai-production/internal/calls"
)

// StoreRepo reads reporting inputs straight from the call and appointment
// repositories, so it works over both the memory and Postgres stores.
type StoreRepo struct {
	Calls        calls.Repository
	Appointments appointments.Repository
}

func NewStoreRepo(c calls.Repository, a appointments.Repository) *StoreRepo {
	return &StoreRepo{Calls: c, Appointments: a}
}

func (r *StoreRepo) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	return r.Calls.ListBetween(ctx, tenantID, from, to)
}

func (r *StoreRepo) ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]appointments.Appointment, error) {
	return r.Appointments.ListBetween(ctx, tenantID, from, to)
}

var _ Repository = (*StoreRepo)(nil)
