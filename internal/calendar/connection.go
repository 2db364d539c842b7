package calendar

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Connection is a tenant's link to one provider. Credentials never leave the
// tenant that owns them.
type Connection struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Provider     string       `json:"provider"`
	Credentials  Credentials  `json:"-"`
	Capabilities Capabilities `json:"capabilities"`
	Active       bool         `json:"active"`
	ConnectedAt  time.Time    `json:"connected_at"`
	RevokedAt    *time.Time   `json:"revoked_at,omitempty"`
}

// Receipt records a successful push; a second push of the same appointment
// returns it instead of calling the provider.
type Receipt struct {
	AppointmentID string    `json:"appointment_id"`
	Provider      string    `json:"provider"`
	TenantID      string    `json:"tenant_id"`
	ExternalID    string    `json:"external_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Repository interface {
	InsertConnection(ctx context.Context, c Connection) error
	ActiveConnections(ctx context.Context, tenantID string) ([]Connection, error)
	DeactivateConnection(ctx context.Context, id string, at time.Time) error

	GetReceipt(ctx context.Context, appointmentID, provider string) (Receipt, bool, error)
	// PutReceipt stores r unless a receipt exists, and returns the stored one.
	PutReceipt(ctx context.Context, r Receipt) (Receipt, error)
}

type MemoryRepo struct {
	mu       sync.Mutex
	conns    map[string]Connection
	receipts map[string]Receipt
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{conns: map[string]Connection{}, receipts: map[string]Receipt{}}
}

func (r *MemoryRepo) InsertConnection(ctx context.Context, c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	return nil
}

func (r *MemoryRepo) ActiveConnections(ctx context.Context, tenantID string) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Connection
	for _, c := range r.conns {
		if c.TenantID == tenantID && c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.After(out[j].ConnectedAt) })
	return out, nil
}

func (r *MemoryRepo) DeactivateConnection(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNoConnection
	}
	c.Active = false
	c.RevokedAt = &at
	r.conns[id] = c
	return nil
}

func receiptKey(appointmentID, provider string) string { return appointmentID + "|" + provider }

func (r *MemoryRepo) GetReceipt(ctx context.Context, appointmentID, provider string) (Receipt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receipts[receiptKey(appointmentID, provider)]
	return rc, ok, nil
}

func (r *MemoryRepo) PutReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := receiptKey(rc.AppointmentID, rc.Provider)
	if existing, ok := r.receipts[k]; ok {
		return existing, nil
	}
	r.receipts[k] = rc
	return rc, nil
}
