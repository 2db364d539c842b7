package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voiceai-production/internal/calls"
	"voiceai-production/internal/streaming"
	"voiceai-production/pkg/logger"
)

// relayMessage is an inbound ConversationRelay frame. Twilio performs speech
// recognition and sends caller text as prompts.
// Ref: https://www.twilio.com/docs/voice/conversationrelay/websocket-messages
type relayMessage struct {
	Type string `json:"type"`

	// setup
	SessionID string `json:"sessionId,omitempty"`
	CallSid   string `json:"callSid,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`

	// prompt
	VoicePrompt string `json:"voicePrompt,omitempty"`
	Last        bool   `json:"last,omitempty"`

	// interrupt
	UtteranceUntilInterrupt string `json:"utteranceUntilInterrupt,omitempty"`

	Digit       string `json:"digit,omitempty"`
	Description string `json:"description,omitempty"`
}

type relayText struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

// relayConn is the streaming.Outbound for one socket. Writes are serialized;
// gorilla connections allow one concurrent writer.
type relayConn struct {
	mu           sync.Mutex
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (r *relayConn) SendText(ctx context.Context, text string, last bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ws.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return err
	}
	return r.ws.WriteJSON(relayText{Type: "text", Token: text, Last: last})
}

// RelayHandler serves the ConversationRelay WebSocket for streaming-mode calls.
type RelayHandler struct {
	Gateway      *Gateway
	Upgrader     websocket.Upgrader
	WriteTimeout time.Duration
	// ReadLimit bounds one inbound frame in bytes.
	ReadLimit int64

	Now func() time.Time
}

func (h *RelayHandler) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	tenantID, callID := c.Query("tenant_id"), c.Query("call_id")
	if tenantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id required"})
		return
	}
	writeTimeout := h.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("relay upgrade failed", "err", err)
		return
	}
	defer ws.Close()
	if h.ReadLimit > 0 {
		ws.SetReadLimit(h.ReadLimit)
	}

	ctx := c.Request.Context()
	out := &relayConn{ws: ws, writeTimeout: writeTimeout}
	opened := false
	defer func() {
		if !opened {
			return
		}
		closeCtx := context.WithoutCancel(ctx)
		if _, err := h.Gateway.Handle(closeCtx, Event{Kind: EventStreamClose, TenantID: tenantID, CallID: callID}); err != nil &&
			!errors.Is(err, streaming.ErrNoSession) {
			logger.ForCall(closeCtx, tenantID, callID).Error("relay close failed", "err", err)
		}
	}()

	var seq int64
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("relay read ended", "err", err)
			}
			return
		}
		var msg relayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("relay frame not json", "err", err)
			continue
		}

		switch msg.Type {
		case "setup":
			if callID == "" {
				callID = msg.CallSid
			}
			ev := Event{Kind: EventStreamOpen, TenantID: tenantID, CallID: callID, From: msg.From, To: msg.To, Out: out, OccurredAt: now().UTC()}
			if _, err := h.Gateway.Handle(ctx, ev); err != nil {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream unavailable"), time.Now().Add(writeTimeout))
				return
			}
			opened = true
			log = logger.ForCall(ctx, tenantID, callID)
		case "prompt":
			if !opened {
				continue
			}
			seq++
			ch := streaming.Chunk{Seq: seq, Speaker: calls.SpeakerCaller, Text: msg.VoicePrompt, Final: msg.Last, At: now().UTC()}
			if _, err := h.Gateway.Handle(ctx, Event{Kind: EventAudioChunk, TenantID: tenantID, CallID: callID, Chunk: ch}); err != nil {
				if errors.Is(err, streaming.ErrNoSession) {
					opened = false
					return
				}
			}
		case "interrupt":
			if opened {
				_, _ = h.Gateway.Handle(ctx, Event{Kind: EventStreamInterrupt, TenantID: tenantID, CallID: callID})
			}
		case "dtmf":
			log.Debug("relay dtmf ignored", "digit", msg.Digit)
		case "error":
			log.Warn("relay reported error", "description", msg.Description)
		default:
			log.Debug("relay frame ignored", "type", msg.Type)
		}
	}
}
