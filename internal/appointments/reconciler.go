package appointments

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"voiceai-production/internal/tenants"
)

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Scanned     int `json:"scanned"`
	Synced      int `json:"synced"`
	Pending     int `json:"pending"`
	Failed      int `json:"failed"`
	NotRequired int `json:"not_required"`
}

// Reconciler retries pending pushes out of band through Resolver.Sync, the
// same operation the real-time path uses. It is driven by an external
// scheduler through the admin endpoint.
type Reconciler struct {
	repo     Repository
	tenants  tenants.Repository
	resolver *Resolver
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewReconciler limits provider pushes to perSecond across a sweep.
func NewReconciler(repo Repository, tr tenants.Repository, resolver *Resolver, perSecond float64, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Reconciler{repo: repo, tenants: tr, resolver: resolver, limiter: lim, log: log}
}

func (r *Reconciler) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	pending, err := r.repo.ListPendingSync(ctx, limit)
	if err != nil {
		return res, err
	}
	cache := map[string]tenants.Tenant{}
	for _, appt := range pending {
		if err := r.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.Scanned++

		t, ok := cache[appt.TenantID]
		if !ok {
			t, err = r.tenants.Get(ctx, appt.TenantID)
			if errors.Is(err, tenants.ErrTenantNotFound) {
				r.log.Warn("pending appointment for unknown tenant", "tenant_id", appt.TenantID, "appointment_id", appt.ID)
				res.Pending++
				continue
			}
			if err != nil {
				return res, err
			}
			cache[appt.TenantID] = t
		}

		out, err := r.resolver.Sync(ctx, t, appt)
		if err != nil {
			return res, err
		}
		switch out.SyncStatus {
		case SyncSynced:
			res.Synced++
		case SyncFailed:
			res.Failed++
		case SyncNotRequired:
			res.NotRequired++
		default:
			res.Pending++
		}
	}
	r.log.Info("calendar reconcile sweep", "scanned", res.Scanned, "synced", res.Synced, "pending", res.Pending, "failed", res.Failed)
	return res, nil
}
