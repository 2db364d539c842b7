package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/appointments"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/calendar"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/config"
	"voiceai-production/internal/conversation"
	"voiceai-production/internal/reporting"
	"voiceai-production/internal/sessions"
	"voiceai-production/internal/store"
	"voiceai-production/internal/streaming"
	"voiceai-production/internal/telephony"
	"voiceai-production/internal/tenants"
	"voiceai-production/internal/worker"
	"voiceai-production/pkg/retry"
	"voiceai-production/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	jobQueueKey   = "voiceai:jobs"
	callLockTTL   = 30 * time.Second
	reconcileRate = 5 // provider pushes per second during a sweep
)

// app is the wired process. Nothing here holds business logic.
type app struct {
	db  *sql.DB
	rdb *redis.Client

	tenants      tenants.Repository
	calls        calls.Repository
	appointments appointments.Repository

	audit      *audit.Service
	analysis   *analysis.Service
	calendar   *calendar.Service
	resolver   *appointments.Resolver
	reconciler *appointments.Reconciler
	reports    *reporting.Service

	machine *conversation.Machine
	streams *streaming.Manager
	pool    *worker.Pool
	gateway *telephony.Gateway
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newAnalysisBackend(cfg config.AIConfig) (analysis.Backend, error) {
	switch cfg.Provider {
	case "openai":
		return analysis.NewOpenAIBackend(analysis.OpenAIConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.Model})
	case "anthropic":
		return analysis.NewAnthropicBackend(analysis.AnthropicConfig{APIKey: cfg.AnthropicKey, Model: cfg.Model})
	case "keyword", "":
		return analysis.KeywordBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	if cfg.HasDatabase() {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.db = db
		if cfg.DB.AutoMigrate {
			if err := store.Migrate(ctx, db, log); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
	} else {
		log.Warn("no database configured; using in-memory repositories")
	}

	if cfg.HasRedis() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
	}

	var (
		auditRepo audit.Repository
		calRepo   calendar.Repository
	)
	if a.db != nil {
		a.tenants = tenants.NewPostgresRepo(a.db)
		a.calls = calls.NewPostgresRepo(a.db)
		a.appointments = appointments.NewPostgresRepo(a.db)
		auditRepo = audit.NewPostgresRepo(a.db)
		calRepo = calendar.NewPostgresRepo(a.db)
	} else {
		a.tenants = tenants.NewMemoryRepo()
		a.calls = calls.NewMemoryRepo()
		a.appointments = appointments.NewMemoryRepo()
		auditRepo = audit.NewMemoryRepo()
		calRepo = calendar.NewMemoryRepo()
	}

	var (
		locks  sessions.Locker
		queue  worker.Queue
		stream streaming.StreamCap
	)
	if a.rdb != nil {
		locks = sessions.NewRedisLocker(a.rdb, callLockTTL)
		stream = streaming.NewRedisCap(a.rdb, cfg.Streaming.SessionTTL)
	} else {
		locks = sessions.NewMemoryLocker()
		stream = streaming.NewMemoryCap()
	}
	if cfg.Pipeline.QueueBackend == "redis" {
		queue = worker.NewRedisQueue(a.rdb, jobQueueKey, cfg.Pipeline.QueueSize)
	} else {
		queue = worker.NewMemoryQueue(cfg.Pipeline.QueueSize)
	}

	a.audit = audit.NewService(auditRepo, log)

	backend, err := newAnalysisBackend(cfg.AI)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.analysis = analysis.NewService(backend, analysis.ServiceConfig{Timeout: cfg.AI.Timeout, MaxRetries: cfg.AI.MaxRetries})
	log.Info("analysis backend ready", "backend", a.analysis.BackendName())

	registry := calendar.DefaultRegistry(
		calendar.GoogleConfig{ClientID: cfg.Google.ClientID, ClientSecret: cfg.Google.ClientSecret, RedirectURL: cfg.Google.RedirectURL},
		calendar.MicrosoftConfig{ClientID: cfg.Microsoft.ClientID, ClientSecret: cfg.Microsoft.ClientSecret, RedirectURL: cfg.Microsoft.RedirectURL, TenantID: cfg.Microsoft.TenantID},
	)
	a.calendar = calendar.NewService(registry, calRepo, locks, log)

	resolverRetry := retry.DefaultConfig()
	resolverRetry.MaxRetries = cfg.Pipeline.ResolverRetries
	a.resolver = appointments.NewResolver(a.appointments, a.calendar, a.audit, log, appointments.Config{
		DefaultThreshold: cfg.AI.DefaultConfidenceThreshold,
		Retry:            resolverRetry,
		MaxSyncAttempts:  cfg.Pipeline.SyncMaxAttempts,
		Location:         time.Local,
	})
	a.reconciler = appointments.NewReconciler(a.appointments, a.tenants, a.resolver, reconcileRate, log)
	a.reports = reporting.NewService(reporting.NewStoreRepo(a.calls, a.appointments))

	a.machine = conversation.NewMachine(conversation.Deps{
		Calls:    a.calls,
		Tenants:  a.tenants,
		Locks:    locks,
		Queue:    queue,
		Analyzer: a.analysis,
		Resolver: a.resolver,
		Audit:    a.audit,
	}, conversation.Config{DefaultThreshold: cfg.AI.DefaultConfidenceThreshold})

	a.streams = streaming.NewManager(streaming.Deps{
		Store:    sessions.NewStore[streaming.Session](cfg.Streaming.SessionTTL),
		Calls:    a.calls,
		Locks:    locks,
		Analyzer: a.analysis,
		Resolver: a.resolver,
		Audit:    a.audit,
		Cap:      stream,
	}, streaming.Config{
		SilenceThreshold: cfg.Streaming.SilenceThreshold,
		CycleTimeout:     a.analysis.Budget(),
		FinalTimeout:     a.analysis.Budget(),
		DefaultThreshold: cfg.AI.DefaultConfidenceThreshold,
		MaxSessions:      cfg.Streaming.MaxConcurrentStreams,
	})

	a.pool = worker.NewPool(queue, worker.PoolConfig{Workers: cfg.Pipeline.Workers, JobTimeout: cfg.Pipeline.BackgroundTimeout}, log)
	a.pool.Handle(worker.KindAnalyzeCall, a.machine.HandleAnalysisJob)
	a.pool.OnTimeout(a.machine.AnalysisExpired)
	a.pool.OnFailure(a.machine.AnalysisFailed)

	a.gateway = telephony.NewGateway(a.tenants, a.machine, a.streams, cfg.Pipeline.WebhookTimeout)
	return a, nil
}

// readiness reports whether the backing stores answer.
func (a *app) readiness(ctx context.Context) (int, map[string]string) {
	status := http.StatusOK
	out := map[string]string{"database": "memory", "redis": "disabled"}
	if a.db != nil {
		out["database"] = "ok"
		if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
			out["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	if a.rdb != nil {
		out["redis"] = "ok"
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			out["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	return status, out
}
