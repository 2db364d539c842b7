package appointments

import (
	"context"
	"time"
)

type Repository interface {
	// CreateIfAbsent inserts a unless the call already has an appointment,
	// in which case the existing one is returned with created=false.
	CreateIfAbsent(ctx context.Context, a Appointment) (Appointment, bool, error)
	Get(ctx context.Context, tenantID, id string) (Appointment, error)
	GetByCall(ctx context.Context, callID string) (Appointment, error)
	List(ctx context.Context, tenantID string, limit int) ([]Appointment, error)
	ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error)
	// UpdateSync persists the sync fields only.
	UpdateSync(ctx context.Context, a Appointment) error
	ListPendingSync(ctx context.Context, limit int) ([]Appointment, error)
}
