package reporting

import (
	"context"
	"errors"
	"time"

	"voiceai-production/internal/appointments"
	"voiceai-production/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations must filter by tenant.
type Repository interface {
	ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
	ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]appointments.Appointment, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" || !req.Range.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}
	appts, err := s.repo.ListAppointments(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		TenantID:  req.TenantID,
		Range:     req.Range,
		ByState:   map[string]int{},
		ByOutcome: map[string]int{},
		ByMode:    map[string]int{},
	}
	for _, c := range rows {
		out.TotalCalls++
		out.ByState[string(c.State)]++
		out.ByMode[string(c.Mode)]++
		if c.Outcome != "" {
			out.ByOutcome[string(c.Outcome)]++
		}
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch {
		case c.State == calls.StateCompleted:
			out.CompletedCalls++
		case c.State == calls.StateFailed:
			out.FailedCalls++
		default:
			out.InProgressCalls++
		}
	}
	for _, a := range appts {
		out.AppointmentsCreated++
		switch a.SyncStatus {
		case appointments.SyncSynced:
			out.AppointmentsSynced++
		case appointments.SyncFailed:
			out.AppointmentsSyncFailed++
		case appointments.SyncPending:
			out.AppointmentsPending++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.BookingRate = float64(out.AppointmentsCreated) / float64(out.TotalCalls)
	}
	return out, nil
}
