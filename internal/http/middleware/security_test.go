package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), SecurityHeaders(SecurityOptions{
		EnableHSTS:    true,
		HSTSMaxAge:    time.Hour,
		NoStorePrefix: "/api/",
		EnablePolicy:  true,
	}))
	r.GET("/api/v1/chats", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/api/v1/chats", nil)
	h := w.Header()
	want := map[string]string{
		"X-Content-Type-Options":        "nosniff",
		"X-Frame-Options":               "DENY",
		"Referrer-Policy":               "no-referrer",
		"Cache-Control":                 "no-store",
		"Access-Control-Expose-Headers": "X-Request-ID",
	}
	for k, v := range want {
		if h.Get(k) != v {
			t.Fatalf("%s = %q, want %q", k, h.Get(k), v)
		}
	}
	if h.Get("Permissions-Policy") == "" {
		t.Fatal("missing Permissions-Policy")
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS sent over plain HTTP")
	}

	if w := serve(r, http.MethodGet, "/health", nil); w.Header().Get("Cache-Control") != "" {
		t.Fatal("no-store outside prefix")
	}

	w = serve(r, http.MethodGet, "/health", map[string]string{"X-Forwarded-Proto": "https"})
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestIsHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatal("plain request reported HTTPS")
	}
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatal("TLS request not detected")
	}
}
