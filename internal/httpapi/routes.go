package httpapi

import (
	"voiceai-production/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the dashboard API on r. authMW verifies the access token;
// every route below it is tenant scoped.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireTenant())

	v1.GET("/me", h.Me)

	read := v1.Group("")
	read.Use(rbac.RequireAnyRole(rbac.Readers...))
	{
		read.GET("/calls", h.ListCalls)
		read.GET("/calls/:call_id", h.GetCall)
		read.GET("/appointments", h.ListAppointments)
		read.GET("/calendar/providers", h.CalendarProviders)
		read.GET("/calendar/connections", h.ListCalendarConnections)
		read.GET("/calendar/availability", h.CalendarAvailability)
	}

	ops := v1.Group("")
	ops.Use(rbac.RequireAnyRole(rbac.Operators...))
	{
		ops.POST("/analysis/test", h.TestAnalysis)
	}

	owner := v1.Group("")
	owner.Use(rbac.RequireAnyRole(rbac.RoleOwner))
	{
		owner.GET("/reports/calls", h.CallsReport)
		owner.GET("/calendar/oauth/:provider", h.CalendarAuthURL)
		owner.POST("/calendar/connections", h.ConnectCalendar)
		owner.DELETE("/calendar/connections/:provider", h.DisconnectCalendar)
	}

	// Sweeps cover every tenant, so only super_admin may trigger them.
	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAnyRole())
	{
		admin.POST("/calendar/reconcile", h.ReconcileCalendar)
	}
}
