package telephony

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voiceai-production/internal/conversation"
	"voiceai-production/pkg/logger"
)

// TwilioWebhookHandler converts Twilio webhooks to gateway events and writes
// TwiML. No business logic here.
//
// Tenant scoping: the voice webhook resolves the tenant from the dialed
// number; every callback URL we hand back to Twilio carries tenant_id.
type TwilioWebhookHandler struct {
	Gateway *Gateway

	// PublicBaseURL is the https origin Twilio reaches us on.
	PublicBaseURL string

	Now func() time.Time
}

func (h TwilioWebhookHandler) Voice(c *gin.Context)         { h.serve(c, EventStart) }
func (h TwilioWebhookHandler) Recording(c *gin.Context)     { h.serve(c, EventRecordingComplete) }
func (h TwilioWebhookHandler) Transcription(c *gin.Context) { h.serve(c, EventTranscriptionReady) }
func (h TwilioWebhookHandler) Status(c *gin.Context)        { h.serve(c, EventStatusUpdate) }

func (h TwilioWebhookHandler) serve(c *gin.Context, kind EventKind) {
	log := logger.FromGin(c)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	form, err := ParseTwilioForm(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio webhook parse failed", "kind", string(kind), "err", err)
		h.writeTwiML(c, conversation.Decline(), CallbackURLs{})
		return
	}

	ev := form.Event(kind, c.Query("tenant_id"), now().UTC())
	reply, _ := h.Gateway.Handle(c.Request.Context(), ev)
	h.writeTwiML(c, reply.Response, h.callbackURLs(c, reply.TenantID, form.CallSid))
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, resp conversation.Response, urls CallbackURLs) {
	twiml, err := RenderTwiML(resp, urls)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		twiml, _ = RenderTwiML(conversation.Decline(), CallbackURLs{})
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) callbackURLs(c *gin.Context, tenantID, callID string) CallbackURLs {
	if tenantID == "" {
		return CallbackURLs{}
	}
	base := strings.TrimRight(h.PublicBaseURL, "/")
	if base == "" {
		base = "https://" + c.Request.Host
	}
	q := url.Values{"tenant_id": {tenantID}}.Encode()
	relay := url.Values{"tenant_id": {tenantID}, "call_id": {callID}}.Encode()
	return CallbackURLs{
		Recording:     base + "/webhooks/twilio/recording?" + q,
		Transcription: base + "/webhooks/twilio/transcription?" + q,
		Relay:         websocketBase(base) + "/webhooks/twilio/relay?" + relay,
	}
}

func websocketBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// RegisterTwilioRoutes mounts the voice webhooks and the relay socket under
// /webhooks/twilio behind signature validation.
func RegisterTwilioRoutes(r gin.IRouter, h TwilioWebhookHandler, relay *RelayHandler, signature gin.HandlerFunc) {
	g := r.Group("/webhooks/twilio")
	if signature != nil {
		g.Use(signature)
	}
	g.POST("/voice", h.Voice)
	g.POST("/recording", h.Recording)
	g.POST("/transcription", h.Transcription)
	g.POST("/status", h.Status)
	if relay != nil {
		g.GET("/relay", relay.Serve)
	}
}
