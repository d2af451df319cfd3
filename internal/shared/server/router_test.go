package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/services/health"
	"sunat-client/internal/shared/telemetry"
)

func TestAddr(t *testing.T) {
	tests := map[string]string{"": ":8080", "9090": ":9090", ":7000": ":7000"}
	for in, want := range tests {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEngineHealthAndMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	defer telemetry.SetOutput(io.Discard)()

	h := health.NewService()
	r, _ := NewEngine(EngineOptions{DefaultRUC: "20123456789", Health: h})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("health = %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"source":"default"`) {
		t.Fatalf("me = %d %s", resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("X-Ruc", "10456789012")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if !strings.Contains(resp.Body.String(), `"ruc":"10456789012","source":"header"`) {
		t.Fatalf("me with header = %s", resp.Body.String())
	}

	h.Register("backend", func(context.Context) error { return errors.New("down") })
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with failing check = %d", resp.Code)
	}
}

func TestEngineServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	defer telemetry.SetOutput(io.Discard)()

	r, _ := NewEngine(EngineOptions{})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "tickets_created_total") {
		t.Fatalf("metrics = %d %q", resp.Code, resp.Body.String())
	}
}
