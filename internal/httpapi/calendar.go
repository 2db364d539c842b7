package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voiceai-production/internal/audit"
	"voiceai-production/internal/auth"
	"voiceai-production/internal/calendar"
	"voiceai-production/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultReconcileLimit = 100

func calendarStatus(err error) (int, string) {
	switch {
	case errors.Is(err, calendar.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown provider"
	case errors.Is(err, calendar.ErrInvalidCredentials):
		return http.StatusBadRequest, "invalid credentials"
	case errors.Is(err, calendar.ErrAlreadyConnected):
		return http.StatusConflict, "provider already connected"
	case errors.Is(err, calendar.ErrNoConnection):
		return http.StatusNotFound, "no active calendar connection"
	case errors.Is(err, calendar.ErrSyncFailure):
		return http.StatusBadGateway, "calendar provider unavailable"
	default:
		return http.StatusInternalServerError, "calendar request failed"
	}
}

func (h Handlers) CalendarProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.Calendar.Registry().Catalogue()})
}

func (h Handlers) ListCalendarConnections(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	conns, err := h.Calendar.Connections(c.Request.Context(), tid)
	if err != nil {
		status, msg := calendarStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// CalendarAuthURL starts an OAuth authorization-code flow. The caller passes
// the returned code back through ConnectCalendar.
func (h Handlers) CalendarAuthURL(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	u, err := h.Calendar.AuthCodeURL(c.Param("provider"), tid)
	if errors.Is(err, calendar.ErrUnknownProvider) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider does not use oauth"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

type connectRequest struct {
	Provider    string               `json:"provider"`
	Credentials calendar.Credentials `json:"credentials"`
	// Code completes an OAuth authorization-code flow instead of Credentials.
	Code string `json:"code,omitempty"`
}

// ConnectCalendar validates credentials and makes them the tenant's active
// connection for the provider.
func (h Handlers) ConnectCalendar(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider required"})
		return
	}
	ctx := c.Request.Context()

	var (
		conn calendar.Connection
		err  error
	)
	if req.Code != "" {
		conn, err = h.Calendar.ConnectWithCode(ctx, tid, req.Provider, req.Code)
	} else {
		conn, err = h.Calendar.Connect(ctx, tid, req.Provider, req.Credentials)
	}
	if err != nil {
		logger.FromGin(c).Warn("calendar connect failed", "provider", req.Provider, "err", err)
		status, msg := calendarStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	h.recordCalendar(c, tid, audit.EventTypeCalendarConnected, conn.Provider)
	c.JSON(http.StatusCreated, conn)
}

func (h Handlers) DisconnectCalendar(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	provider := c.Param("provider")
	if err := h.Calendar.Disconnect(c.Request.Context(), tid, provider); err != nil {
		status, msg := calendarStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	h.recordCalendar(c, tid, audit.EventTypeCalendarDisconnected, provider)
	c.Status(http.StatusNoContent)
}

func (h Handlers) recordCalendar(c *gin.Context, tenantID string, t audit.EventType, provider string) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	h.Audit.Record(ctx, tenantID, t, "", "", provider, map[string]any{
		"provider":      provider,
		"actor_user_id": uid,
		"actor_role":    role,
	})
}

// CalendarAvailability lists free slots from the tenant's active calendar.
func (h Handlers) CalendarAvailability(c *gin.Context) {
	tid, ok := tenantFrom(c)
	if !ok {
		return
	}
	from, to, ok := h.rangeParams(c)
	if !ok {
		return
	}
	slot := 30 * time.Minute
	if v := c.Query("slot_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 480 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "slot_minutes must be 1..480"})
			return
		}
		slot = time.Duration(n) * time.Minute
	}
	slots, err := h.Calendar.PullAvailability(c.Request.Context(), tid, c.Query("provider"), from, to, slot)
	if err != nil {
		status, msg := calendarStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

// ReconcileCalendar runs one reconciliation sweep over pending syncs.
// It is the hook the external scheduler calls.
func (h Handlers) ReconcileCalendar(c *gin.Context) {
	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciler not configured"})
		return
	}
	limit := defaultReconcileLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be positive"})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	res, err := h.Reconciler.Sweep(ctx, limit)
	if err != nil {
		logger.FromGin(c).Error("reconcile sweep failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	if h.Audit != nil {
		tid, _ := auth.TenantID(ctx)
		uid, _ := auth.UserID(ctx)
		role, _ := auth.Role(ctx)
		msg := "calendar reconcile: scanned " + strconv.Itoa(res.Scanned) + ", synced " + strconv.Itoa(res.Synced)
		if err := h.Audit.LogAdminAction(ctx, tid, uid, role, c.ClientIP(), msg, ""); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}
