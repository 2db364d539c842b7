package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Locker serializes work per key across the process or cluster.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Binding is an active connection resolved to its adapter.
type Binding struct {
	Connection Connection
	Provider   Provider
}

type Service struct {
	registry *Registry
	repo     Repository
	locks    Locker
	log      *slog.Logger
	now      func() time.Time
}

func NewService(registry *Registry, repo Repository, locks Locker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{registry: registry, repo: repo, locks: locks, log: log, now: time.Now}
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) lock(ctx context.Context, tenantID string) (func(), error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("calendar: tenant id required")
	}
	return s.locks.Lock(ctx, "calendar:"+tenantID)
}

// Connect validates credentials and makes them the tenant's active
// connection for the provider, replacing any earlier one.
func (s *Service) Connect(ctx context.Context, tenantID, providerKey string, creds Credentials) (Connection, error) {
	p, err := s.registry.Resolve(providerKey)
	if err != nil {
		return Connection{}, err
	}
	if err := p.Validate(ctx, creds); err != nil {
		return Connection{}, err
	}
	unlock, err := s.lock(ctx, tenantID)
	if err != nil {
		return Connection{}, err
	}
	defer unlock()

	existing, err := s.repo.ActiveConnections(ctx, tenantID)
	if err != nil {
		return Connection{}, err
	}
	now := s.now().UTC()
	for _, c := range existing {
		if c.Provider != p.Key() {
			continue
		}
		if err := s.repo.DeactivateConnection(ctx, c.ID, now); err != nil && !errors.Is(err, ErrNoConnection) {
			return Connection{}, err
		}
	}
	c := Connection{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Provider:     p.Key(),
		Credentials:  creds,
		Capabilities: p.Capabilities(),
		Active:       true,
		ConnectedAt:  now,
	}
	if err := s.repo.InsertConnection(ctx, c); err != nil {
		return Connection{}, err
	}
	s.log.Info("calendar connected", "tenant_id", tenantID, "provider", c.Provider, "real_time_sync", c.Capabilities.RealTimeSync)
	return c, nil
}

// Disconnect revokes and deactivates the tenant's connection to a provider.
// Revocation failures are logged; the connection is dropped regardless.
func (s *Service) Disconnect(ctx context.Context, tenantID, providerKey string) error {
	unlock, err := s.lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	conns, err := s.repo.ActiveConnections(ctx, tenantID)
	if err != nil {
		return err
	}
	found := false
	for _, c := range conns {
		if !strings.EqualFold(c.Provider, providerKey) {
			continue
		}
		found = true
		if p, err := s.registry.Resolve(c.Provider); err == nil {
			if err := p.Revoke(ctx, c.Credentials); err != nil {
				s.log.Warn("calendar revoke failed", "tenant_id", tenantID, "provider", c.Provider, "err", err)
			}
		}
		if err := s.repo.DeactivateConnection(ctx, c.ID, s.now().UTC()); err != nil && !errors.Is(err, ErrNoConnection) {
			return err
		}
	}
	if !found {
		return ErrNoConnection
	}
	s.log.Info("calendar disconnected", "tenant_id", tenantID, "provider", providerKey)
	return nil
}

func (s *Service) Connections(ctx context.Context, tenantID string) ([]Connection, error) {
	return s.repo.ActiveConnections(ctx, tenantID)
}

// Active resolves the tenant's connection. When several are active the
// preferred provider wins, then the most recent.
func (s *Service) Active(ctx context.Context, tenantID, preferred string) (Binding, error) {
	conns, err := s.repo.ActiveConnections(ctx, tenantID)
	if err != nil {
		return Binding{}, err
	}
	if len(conns) == 0 {
		return Binding{}, ErrNoConnection
	}
	chosen := conns[0]
	for _, c := range conns {
		if preferred != "" && strings.EqualFold(c.Provider, preferred) {
			chosen = c
			break
		}
	}
	p, err := s.registry.Resolve(chosen.Provider)
	if err != nil {
		return Binding{}, err
	}
	return Binding{Connection: chosen, Provider: p}, nil
}

// Push sends the appointment to the tenant's active calendar. A receipt from
// an earlier successful push short-circuits the provider call, so retries
// never create a second event.
func (s *Service) Push(ctx context.Context, tenantID, preferred string, p AppointmentPayload) (Receipt, error) {
	if p.AppointmentID == "" {
		return Receipt{}, errors.New("calendar: appointment id required")
	}
	unlock, err := s.lock(ctx, tenantID)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	b, err := s.Active(ctx, tenantID, preferred)
	if err != nil {
		return Receipt{}, err
	}
	if rc, ok, err := s.repo.GetReceipt(ctx, p.AppointmentID, b.Provider.Key()); err != nil {
		return Receipt{}, err
	} else if ok {
		return rc, nil
	}

	p.TenantID = tenantID
	if p.Duration <= 0 {
		p.Duration = ServiceDuration(p.ServiceType)
	}
	externalID, err := b.Provider.Push(ctx, b.Connection.Credentials, p)
	if err != nil {
		return Receipt{}, err
	}
	return s.repo.PutReceipt(ctx, Receipt{
		AppointmentID: p.AppointmentID,
		Provider:      b.Provider.Key(),
		TenantID:      tenantID,
		ExternalID:    externalID,
		CreatedAt:     s.now().UTC(),
	})
}

// PullAvailability returns free slots of slotLen inside [from, to).
func (s *Service) PullAvailability(ctx context.Context, tenantID, preferred string, from, to time.Time, slotLen time.Duration) ([]Slot, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("calendar: empty availability window")
	}
	b, err := s.Active(ctx, tenantID, preferred)
	if err != nil {
		return nil, err
	}
	busy, err := b.Provider.Pull(ctx, b.Connection.Credentials, from, to)
	if err != nil {
		return nil, err
	}
	return FreeSlots(busy, from, to, slotLen), nil
}

func (s *Service) oauth(providerKey string) (OAuthProvider, error) {
	p, err := s.registry.Resolve(providerKey)
	if err != nil {
		return nil, err
	}
	op, ok := p.(OAuthProvider)
	if !ok {
		return nil, fmt.Errorf("calendar: provider %q does not use oauth", p.Key())
	}
	return op, nil
}

func (s *Service) AuthCodeURL(providerKey, state string) (string, error) {
	op, err := s.oauth(providerKey)
	if err != nil {
		return "", err
	}
	return op.AuthCodeURL(state), nil
}

// ConnectWithCode completes an authorization-code flow and connects.
func (s *Service) ConnectWithCode(ctx context.Context, tenantID, providerKey, code string) (Connection, error) {
	op, err := s.oauth(providerKey)
	if err != nil {
		return Connection{}, err
	}
	creds, err := op.Exchange(ctx, code)
	if err != nil {
		return Connection{}, err
	}
	return s.Connect(ctx, tenantID, providerKey, creds)
}

// DefaultRegistry wires the full provider catalogue.
func DefaultRegistry(g GoogleConfig, m MicrosoftConfig) *Registry {
	return NewRegistry(
		NewGoogleProvider(g),
		NewGraphProvider(m),
		NewCalendlyProvider(nil),
		NewAcuityProvider(nil),
		NewCurveHeroProvider(nil),
	)
}
