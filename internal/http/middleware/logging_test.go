package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	w := serve(r, http.MethodGet, "/rid", nil)
	gen := w.Header().Get(requestIDHeader)
	if gen == "" || w.Body.String() != gen {
		t.Fatalf("generated id header=%q body=%q", gen, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/rid", map[string]string{"x-request-id": "abc-123"})
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("propagated id = %q", got)
	}

	w = serve(r, http.MethodGet, "/rid", map[string]string{requestIDHeader: strings.Repeat("x", 500)})
	if got := w.Header().Get(requestIDHeader); len(got) > maxRequestIDLength {
		t.Fatalf("oversized id was echoed: %d bytes", len(got))
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, http.MethodGet, "/boom", map[string]string{requestIDHeader: "rid-9"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "internal_error" || body["request_id"] != "rid-9" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	captureLogger(t)

	r := gin.New()
	r.Use(Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := serve(r, http.MethodGet, "/late", nil)
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("JSON envelope written after body: %q", w.Body.String())
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	buf := captureLogger(t)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	LoggerFrom(c).Info().Msg("fallback")
	if !strings.Contains(buf.String(), "fallback") {
		t.Fatalf("fallback logger did not write: %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if truncate("abc", 0) != "abc" || truncate("abc", 5) != "abc" {
		t.Fatal("short strings must be unchanged")
	}
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if asString(42) != "" || asString("x") != "x" {
		t.Fatal("asString")
	}
}

func TestLoggerFrom_RequestContextLogger(t *testing.T) {
	global := captureLogger(t)
	var scoped bytes.Buffer
	base := zerolog.New(&scoped).With().Str("srv", "api").Logger()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(base.WithContext(context.Background()))
	LoggerFrom(c).Info().Msg("from base context")

	if global.Len() != 0 || !strings.Contains(scoped.String(), `"srv":"api"`) {
		t.Fatalf("global=%q scoped=%q", global.String(), scoped.String())
	}
}
