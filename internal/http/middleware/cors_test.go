package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsEngine(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p := NewPipeline(CORSStage(origins), Static(StageErrors, Errors()))
	r.GET("/x", p.Wrap(RoutePolicy{}, func(c *gin.Context) { c.Status(http.StatusOK) })...)
	r.OPTIONS("/x", p.Preflight()...)
	return r
}

func TestCORS_AllowAll(t *testing.T) {
	r := corsEngine(nil)
	w := do(t, r, http.MethodGet, "/x", nil, map[string]string{"Origin": "https://anywhere.example"})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("allow-all: %d %#v", w.Code, w.Header())
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("credentials must stay off with a wildcard origin")
	}
	expose := w.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{requestIDHeader, headerRateLimit, "Retry-After", headerCache} {
		if !strings.Contains(strings.ToLower(expose), strings.ToLower(h)) {
			t.Fatalf("expose headers %q miss %s", expose, h)
		}
	}
}

func TestCORS_Allowlist(t *testing.T) {
	r := corsEngine([]string{"https://app.example.com"})

	w := do(t, r, http.MethodGet, "/x", nil, map[string]string{"Origin": "https://app.example.com"})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("listed origin: %d %#v", w.Code, w.Header())
	}

	w = do(t, r, http.MethodGet, "/x", nil, map[string]string{"Origin": "https://evil.example"})
	if w.Code != http.StatusForbidden || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin: %d %#v", w.Code, w.Header())
	}
	if body := decodeError(t, w); body.Code != "origin_not_allowed" || body.Success {
		t.Fatalf("unlisted origin must get the error envelope: %+v", body)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("rejections are not cacheable: %q", w.Header().Get("Cache-Control"))
	}

	w = do(t, r, http.MethodGet, "/x", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("same-origin requests pass, got %d", w.Code)
	}

	w = do(t, r, http.MethodOptions, "/x", nil, map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  "PATCH",
		"Access-Control-Request-Headers": "X-CSRF-Token, Idempotency-Key",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", w.Code)
	}
	allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowed, "x-csrf-token") || !strings.Contains(allowed, "idempotency-key") {
		t.Fatalf("preflight must allow the pipeline headers, got %q", allowed)
	}
}

func TestCORS_PreflightFromUnlistedOriginGetsEnvelope(t *testing.T) {
	r := corsEngine([]string{"https://app.example.com"})
	w := do(t, r, http.MethodOptions, "/x", nil, map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "POST",
		requestIDHeader:                 "rid-cors",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("preflight from unlisted origin: %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Code != "origin_not_allowed" {
		t.Fatalf("unexpected body: %+v", body)
	}

	// a request from the serving host is same-origin
	w = do(t, r, http.MethodGet, "/x", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("same-host origin: %d", w.Code)
	}
}
