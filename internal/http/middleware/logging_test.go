package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("requestID not set in context")
		}
		c.String(http.StatusOK, "ok")
	})

	w := do(t, r, http.MethodGet, "/rid", nil, nil)
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w = do(t, r, http.MethodGet, "/rid", nil, map[string]string{strings.ToLower(requestIDHeader): "abc-123"})
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	for _, bad := range []string{
		strings.Repeat("x", maxRequestIDLength+1),
		`rid"},"injected":"1`,
		"rid with spaces",
	} {
		w = do(t, r, http.MethodGet, "/rid", nil, map[string]string{requestIDHeader: bad})
		if got := w.Header().Get(requestIDHeader); got == bad || got == "" {
			t.Fatalf("request id %q must be replaced, got %q", bad, got)
		}
	}
}

func TestRecovery_PanicsToEnvelopeAndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	base := testutil.ToFloat64(panicsTotal)
	w := do(t, r, http.MethodGet, "/panic", nil, map[string]string{requestIDHeader: "rid-p"})
	if got := testutil.ToFloat64(panicsTotal); got != base+1 {
		t.Fatalf("panic counter = %v; want %v", got, base+1)
	}
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Success || body.Code != "internal_error" || body.Message != "internal server error" || body.RequestID != "rid-p" {
		t.Fatalf("unexpected body: %+v", body)
	}
	out := buf.String()
	if !strings.Contains(out, `"panic recovered"`) || !strings.Contains(out, `"request_id":"rid-p"`) {
		t.Fatalf("expected panic log with request id, got:\n%s", out)
	}
}

func TestRecovery_PanicAfterWrite_NoEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/panic-after-write", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := do(t, r, http.MethodGet, "/panic-after-write", nil, nil)
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("expected no error envelope after a write; got %q", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf := captureLogger(t)
	r1 := gin.New()
	r1.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	do(t, r1, http.MethodGet, "/use", nil, nil)
	if !strings.Contains(buf.String(), `"message":"custom"`) {
		t.Fatalf("expected custom log in fallback, got %s", buf.String())
	}

	buf = captureLogger(t)
	r2 := gin.New()
	r2.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r2.GET("/use/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom2")
		c.Status(http.StatusOK)
	})
	do(t, r2, http.MethodGet, "/use/7", nil, map[string]string{requestIDHeader: "rid-2"})
	out := buf.String()
	line := ""
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, `"message":"custom2"`) {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("expected custom2 log present, got %s", out)
	}
	if !strings.Contains(line, `"request_id":"rid-2"`) || !strings.Contains(line, `"path":"/use/:id"`) {
		t.Fatalf("request-scoped logger must carry request id and route, got %s", line)
	}
}
