package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/appointments"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/auth"
	"voiceai-production/internal/calendar"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/reporting"
	"voiceai-production/internal/tenants"
	"voiceai-production/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth *auth.Manager
	// DevLogin enables the credential-less token endpoint. Never set in production.
	DevLogin bool

	Tenants      tenants.Repository
	Calls        calls.Repository
	Appointments appointments.Repository

	Analysis         *analysis.Service
	DefaultThreshold float64

	Calendar   *calendar.Service
	Reconciler *appointments.Reconciler
	Reports    *reporting.Service
	Audit      *audit.Service

	Now func() time.Time
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func tenantFrom(c *gin.Context) (string, bool) {
	tid, err := auth.TenantID(c.Request.Context())
	if err != nil || tid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tid, true
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// rangeParams reads from/to as RFC3339, defaulting to the last 7 days.
func (h Handlers) rangeParams(c *gin.Context) (time.Time, time.Time, bool) {
	to := h.now()
	from := to.Add(-7 * 24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !to.After(from) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair without checking credentials. It only
// answers when DevLogin is set; dashboard users authenticate upstream.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	tid, _ := auth.TenantID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	rows, err := h.Calls.List(c.Request.Context(), tid, limitParam(c))
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

type callDetail struct {
	Call        calls.Call                `json:"call"`
	Transcript  *calls.Transcript         `json:"transcript,omitempty"`
	Analysis    *calls.AnalysisRecord     `json:"analysis,omitempty"`
	Appointment *appointments.Appointment `json:"appointment,omitempty"`
}

// GetCall returns a call with its transcript, analysis and appointment.
// Calls of other tenants read as not found.
func (h Handlers) GetCall(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := logger.FromGin(c)

	call, err := h.Calls.Get(ctx, c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && call.TenantID != tid) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		log.Error("get call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}

	out := callDetail{Call: call}
	if tr, err := h.Calls.GetTranscript(ctx, call.CallID); err == nil {
		out.Transcript = &tr
	} else if !errors.Is(err, calls.ErrNotFound) {
		log.Error("get transcript failed", "call_sid", call.CallID, "err", err)
	}
	if a, err := h.Calls.GetAnalysis(ctx, call.CallID); err == nil {
		out.Analysis = &a
	} else if !errors.Is(err, calls.ErrNotFound) {
		log.Error("get analysis failed", "call_sid", call.CallID, "err", err)
	}
	if h.Appointments != nil {
		if appt, err := h.Appointments.GetByCall(ctx, call.CallID); err == nil {
			out.Appointment = &appt
		} else if !errors.Is(err, appointments.ErrNotFound) {
			log.Error("get appointment failed", "call_sid", call.CallID, "err", err)
		}
	}
	c.JSON(http.StatusOK, out)
}

// --- Appointments ---

func (h Handlers) ListAppointments(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	rows, err := h.Appointments.List(c.Request.Context(), tid, limitParam(c))
	if err != nil {
		logger.FromGin(c).Error("list appointments failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointment lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": rows})
}

// --- Analysis ---

type testAnalysisRequest struct {
	Transcript string `json:"transcript"`
}

type testAnalysisResponse struct {
	Analysis  analysis.Analysis `json:"analysis"`
	Threshold float64           `json:"threshold"`
	Forced    bool              `json:"forced"`
	Backend   string            `json:"backend"`
}

// TestAnalysis runs the analyzer on a pasted transcript with the tenant's
// persona and threshold. Nothing is persisted.
func (h Handlers) TestAnalysis(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	if h.Analysis == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "analysis not configured"})
		return
	}
	var req testAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Transcript == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "transcript required"})
		return
	}
	ctx := c.Request.Context()
	t, err := h.Tenants.Get(ctx, tid)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	a, err := h.Analysis.Analyze(ctx, analysis.Request{TenantID: tid, Transcript: req.Transcript, Persona: t.Persona})
	switch {
	case errors.Is(err, analysis.ErrEmptyTranscript):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "transcript required"})
		return
	case errors.Is(err, analysis.ErrAnalysisTimeout):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "analysis timed out"})
		return
	case err != nil:
		logger.FromGin(c).Warn("test analysis failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "analysis unavailable"})
		return
	}
	threshold := t.Threshold(h.DefaultThreshold)
	a, forced := analysis.ApplyThreshold(a, threshold)
	c.JSON(http.StatusOK, testAnalysisResponse{Analysis: a, Threshold: threshold, Forced: forced, Backend: h.Analysis.BackendName()})
}

// --- Reports ---

func (h Handlers) CallsReport(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	from, to, ok := h.rangeParams(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID: tid,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid report request"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
