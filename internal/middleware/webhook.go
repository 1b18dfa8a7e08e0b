package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// Headers a CI host authenticates build events with.
const (
	HeaderWebhookToken     = "X-Buildnotify-Token"
	HeaderWebhookSignature = "X-Buildnotify-Signature"
)

// MaxSignedBody bounds the body read for signature verification. It must be
// at least the largest body any authenticated route accepts.
const MaxSignedBody = 16 << 20

// WebhookAuth returns middleware that accepts a request carrying either the
// shared token in X-Buildnotify-Token or an HMAC-SHA256 signature of the
// body in X-Buildnotify-Signature. Either credential may be left empty to
// disable that method.
func WebhookAuth(token, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" && secret == "" {
				http.Error(w, `{"error":"webhook credentials not configured"}`, http.StatusServiceUnavailable)
				return
			}

			if got := r.Header.Get(HeaderWebhookToken); got != "" && token != "" {
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					http.Error(w, "invalid webhook token", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			sig := r.Header.Get(HeaderWebhookSignature)
			if sig == "" || secret == "" {
				http.Error(w, "missing webhook credentials", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxSignedBody+1))
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			if len(body) > MaxSignedBody {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(body, sig, secret) {
				http.Error(w, "invalid webhook signature", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyHMAC checks an HMAC-SHA256 signature given as raw hex or with a
// "sha256=" prefix.
func verifyHMAC(payload []byte, signature, secret string) bool {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}

// Sign returns the X-Buildnotify-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
