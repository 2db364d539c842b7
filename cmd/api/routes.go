package main

import (
	"net/http"
	"time"

	"voiceai-production/internal/auth"
	"voiceai-production/internal/config"
	"voiceai-production/internal/httpapi"
	"voiceai-production/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		status, checks := a.readiness(c.Request.Context())
		c.JSON(status, checks)
	})

	// Provider webhooks (public, signature-checked).
	{
		h := telephony.TwilioWebhookHandler{
			Gateway:       a.gateway,
			PublicBaseURL: cfg.App.PublicBaseURL,
		}
		relay := &telephony.RelayHandler{
			Gateway:      a.gateway,
			Upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
			WriteTimeout: 5 * time.Second,
			ReadLimit:    64 << 10,
		}
		sig := telephony.TwilioSignatureMiddleware(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL, cfg.Twilio.ValidateSignatures)
		telephony.RegisterTwilioRoutes(r, h, relay, sig)
	}

	// Dashboard API.
	h := httpapi.Handlers{
		Auth:             authManager,
		DevLogin:         !cfg.IsProduction(),
		Tenants:          a.tenants,
		Calls:            a.calls,
		Appointments:     a.appointments,
		Analysis:         a.analysis,
		DefaultThreshold: cfg.AI.DefaultConfidenceThreshold,
		Calendar:         a.calendar,
		Reconciler:       a.reconciler,
		Reports:          a.reports,
		Audit:            a.audit,
	}
	h.Register(r, auth.RequireAccessToken(authManager))
}
