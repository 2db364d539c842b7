package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/calendar"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/tenants"
	"voiceai-production/pkg/retry"
)

// Calendar is the slice of calendar.Service the resolver needs.
type Calendar interface {
	Active(ctx context.Context, tenantID, preferred string) (calendar.Binding, error)
	Push(ctx context.Context, tenantID, preferred string, p calendar.AppointmentPayload) (calendar.Receipt, error)
}

type Auditor interface {
	Record(ctx context.Context, tenantID string, t audit.EventType, callID, appointmentID, message string, meta map[string]any)
}

type Config struct {
	// DefaultThreshold applies when the tenant sets none.
	DefaultThreshold float64
	// Retry bounds repository retries while creating the appointment.
	Retry retry.Config
	// MaxSyncAttempts marks an appointment failed after that many pushes.
	MaxSyncAttempts int
	Location        *time.Location
}

// Resolver turns a scheduled analysis into exactly one appointment per call.
type Resolver struct {
	repo  Repository
	cal   Calendar
	audit Auditor
	log   *slog.Logger
	cfg   Config
	group singleflight.Group
	now   func() time.Time
}

func NewResolver(repo Repository, cal Calendar, aud Auditor, log *slog.Logger, cfg Config) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxSyncAttempts <= 0 {
		cfg.MaxSyncAttempts = 10
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Resolver{repo: repo, cal: cal, audit: aud, log: log, cfg: cfg, now: time.Now}
}

// Resolve creates the call's appointment or returns the existing one.
// Concurrent calls for the same call id share one creation. After a fresh
// creation the appointment is pushed when the tenant's calendar syncs in real
// time; otherwise it stays pending for the reconciliation sweep.
func (r *Resolver) Resolve(ctx context.Context, t tenants.Tenant, call calls.Call, a analysis.Analysis) (Appointment, error) {
	if call.TenantID != t.ID {
		return Appointment{}, fmt.Errorf("appointments: call %s does not belong to tenant %s", call.CallID, t.ID)
	}
	if a.Outcome != analysis.OutcomeScheduled || a.Confidence < t.Threshold(r.cfg.DefaultThreshold) {
		return Appointment{}, ErrNotSchedulable
	}
	v, err, _ := r.group.Do(call.CallID, func() (any, error) {
		return r.resolve(ctx, t, call, a)
	})
	if err != nil {
		return Appointment{}, err
	}
	return v.(Appointment), nil
}

func (r *Resolver) resolve(ctx context.Context, t tenants.Tenant, call calls.Call, a analysis.Analysis) (Appointment, error) {
	now := r.now().UTC()
	appt := Appointment{
		ID:            uuid.NewString(),
		TenantID:      t.ID,
		CallID:        call.CallID,
		PatientName:   analysis.Str(a.PatientName),
		PatientPhone:  analysis.Str(a.PatientPhone),
		ServiceType:   analysis.Str(a.ServiceType),
		RequestedText: analysis.Str(a.PreferredTime),
		Status:        StatusScheduled,
		SyncStatus:    SyncPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if appt.PatientPhone == "" {
		appt.PatientPhone = call.From
	}
	if at, ok := ParseRequestedTime(appt.RequestedText, now, r.cfg.Location); ok {
		at = at.UTC()
		appt.RequestedAt = &at
	}

	type result struct {
		appt    Appointment
		created bool
	}
	res, err := retry.Do(ctx, r.cfg.Retry, transient, func(ctx context.Context, _ int) (result, error) {
		got, created, err := r.repo.CreateIfAbsent(ctx, appt)
		return result{got, created}, err
	})
	if err != nil {
		return Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	if !res.created {
		return res.appt, nil
	}
	appt = res.appt

	log := r.log.With("tenant_id", t.ID, "call_sid", call.CallID, "appointment_id", appt.ID)
	log.Info("appointment created", "service_type", appt.ServiceType, "requested", appt.RequestedText)

	b, err := r.cal.Active(ctx, t.ID, t.CalendarProvider)
	switch {
	case errors.Is(err, calendar.ErrNoConnection):
		appt.SyncStatus = SyncNotRequired
		appt.UpdatedAt = r.now().UTC()
		return appt, r.repo.UpdateSync(ctx, appt)
	case err != nil:
		log.Warn("calendar lookup failed; left pending", "err", err)
		return appt, nil
	case !b.Provider.Capabilities().RealTimeSync:
		appt.SyncProvider = b.Provider.Key()
		appt.UpdatedAt = r.now().UTC()
		return appt, r.repo.UpdateSync(ctx, appt)
	}
	return r.Sync(ctx, t, appt)
}

// Sync pushes one appointment and records the result. Push failures are
// recorded on the appointment and audited; they are not returned.
func (r *Resolver) Sync(ctx context.Context, t tenants.Tenant, appt Appointment) (Appointment, error) {
	if appt.SyncStatus == SyncSynced {
		return appt, nil
	}
	appt.SyncAttempts++
	rc, err := r.cal.Push(ctx, t.ID, t.CalendarProvider, payloadFor(appt))
	appt.UpdatedAt = r.now().UTC()

	switch {
	case err == nil:
		ext := rc.ExternalID
		appt.ExternalID = &ext
		appt.SyncStatus = SyncSynced
		appt.SyncProvider = rc.Provider
		appt.SyncError = ""
	case errors.Is(err, calendar.ErrNoConnection):
		appt.SyncStatus = SyncNotRequired
		appt.SyncError = ""
	default:
		appt.SyncError = err.Error()
		appt.SyncStatus = SyncPending
		if !retry.IsRetryable(err) || appt.SyncAttempts >= r.cfg.MaxSyncAttempts {
			appt.SyncStatus = SyncFailed
		}
		r.log.Warn("calendar sync failed",
			"tenant_id", t.ID, "call_sid", appt.CallID, "appointment_id", appt.ID,
			"attempts", appt.SyncAttempts, "sync_status", string(appt.SyncStatus), "err", err)
		if r.audit != nil {
			r.audit.Record(ctx, t.ID, audit.EventTypeCalendarSyncFailed, appt.CallID, appt.ID, err.Error(),
				map[string]any{"attempts": appt.SyncAttempts, "sync_status": appt.SyncStatus})
		}
	}
	if uerr := r.repo.UpdateSync(ctx, appt); uerr != nil {
		return appt, fmt.Errorf("record sync result: %w", uerr)
	}
	return appt, nil
}

func payloadFor(a Appointment) calendar.AppointmentPayload {
	p := calendar.AppointmentPayload{
		AppointmentID: a.ID,
		TenantID:      a.TenantID,
		PatientName:   a.PatientName,
		PatientPhone:  a.PatientPhone,
		ServiceType:   a.ServiceType,
		RequestedText: a.RequestedText,
		Duration:      calendar.ServiceDuration(a.ServiceType),
	}
	if a.RequestedAt != nil {
		p.Start = *a.RequestedAt
	}
	return p
}

func transient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
