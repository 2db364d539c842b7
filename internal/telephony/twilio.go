package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"voiceai-production/pkg/logger"
)

// TwilioSignature computes X-Twilio-Signature: base64 HMAC-SHA1 over the full
// request URL followed by every POST parameter, sorted by name, as name+value.
// Ref: https://www.twilio.com/docs/usage/security#validating-requests
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vs := append([]string(nil), params[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidTwilioSignature(authToken, fullURL string, params url.Values, sig string) bool {
	if authToken == "" || sig == "" {
		return false
	}
	want := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(sig))
}

// requestURL rebuilds the URL Twilio signed. Behind a proxy the public base
// URL is authoritative.
func requestURL(r *http.Request, publicBaseURL string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// TwilioSignatureMiddleware rejects webhook requests without a valid
// X-Twilio-Signature. Disabled only outside production.
func TwilioSignatureMiddleware(authToken, publicBaseURL string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		log := logger.FromGin(c)
		var params url.Values
		if c.Request.Method == http.MethodPost {
			if err := c.Request.ParseForm(); err != nil {
				c.AbortWithStatus(http.StatusBadRequest)
				return
			}
			params = c.Request.PostForm
		}
		full := requestURL(c.Request, publicBaseURL)
		if !ValidTwilioSignature(authToken, full, params, c.GetHeader("X-Twilio-Signature")) {
			log.Warn("twilio signature rejected", "url", full)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
