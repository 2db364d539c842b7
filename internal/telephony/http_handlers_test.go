package telephony

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voiceai-production/internal/conversation"
)

const testToken = "twilio-auth-token"

func newTestRouter(conv *stubConversation, streams *stubStreams, signed bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := NewGateway(testTenants(), conv, streams, time.Second)
	RegisterTwilioRoutes(r,
		TwilioWebhookHandler{Gateway: g, PublicBaseURL: "https://voice.example.com"},
		&RelayHandler{Gateway: g},
		TwilioSignatureMiddleware(testToken, "https://voice.example.com", signed),
	)
	return r
}

func TestVoiceWebhook_RendersRecordWithTenantCallbacks(t *testing.T) {
	conv := &stubConversation{resp: conversation.Response{
		Say:    "Hello",
		Record: &conversation.RecordAction{MaxLengthSeconds: 120, Transcribe: true},
	}}
	r := newTestRouter(conv, &stubStreams{}, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("CallSid=CA1&From=%2B15557654321&To=%2B15550001111"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `action="https://voice.example.com/webhooks/twilio/recording?tenant_id=t1"`) {
		t.Fatalf("expected tenant scoped recording callback: %s", body)
	}
}

func TestVoiceWebhook_UnknownNumberDeclines(t *testing.T) {
	r := newTestRouter(&stubConversation{}, &stubStreams{}, false)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("CallSid=CA1&To=%2B15559999999"))
	if w.Code != http.StatusOK {
		t.Fatalf("decline is still a 200 TwiML answer, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Hangup>") || strings.Contains(w.Body.String(), "<Record") {
		t.Fatalf("expected generic decline: %s", w.Body.String())
	}
}

func TestSignatureMiddleware(t *testing.T) {
	r := newTestRouter(&stubConversation{}, &stubStreams{}, true)
	body := "CallSid=CA1&To=%2B15550001111"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(body))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}

	params, _ := url.ParseQuery(body)
	req := formRequest(body)
	req.Header.Set("X-Twilio-Signature", TwilioSignature(testToken, "https://voice.example.com/webhooks/twilio/voice", params))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected signed request to pass, got %d", w.Code)
	}

	params.Set("To", "+15550002222")
	if ValidTwilioSignature(testToken, "https://voice.example.com/webhooks/twilio/voice", params, req.Header.Get("X-Twilio-Signature")) {
		t.Fatalf("tampered params must not validate")
	}
}

func TestRelay_SetupPromptAndClose(t *testing.T) {
	streams := &stubStreams{}
	srv := httptest.NewServer(newTestRouter(&stubConversation{}, streams, false))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/webhooks/twilio/relay?tenant_id=t2&call_id=CA7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "setup", "callSid": "CA7", "from": "+15557654321"}); err != nil {
		t.Fatalf("write setup: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "prompt", "voicePrompt": "what are your hours", "last": true}); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var msg relayText
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if msg.Type != "text" || msg.Token != "echo: what are your hours" || !msg.Last {
		t.Fatalf("unexpected reply %+v", msg)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(streams.closedCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := streams.closedCalls(); len(got) != 1 || got[0] != "CA7" {
		t.Fatalf("expected stream close for CA7, got %v", got)
	}
	if len(streams.chunks) != 1 || streams.chunks[0].Seq != 1 {
		t.Fatalf("unexpected chunks %+v", streams.chunks)
	}
}
