package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/shared/telemetry"
)

func loggedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Auth("", ""), Logging())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/tickets/:id", func(c *gin.Context) {
		c.Set("ticketId", c.Param("id"))
		c.Set("statusTransition", "PENDING->PROCESSING")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/v1/ple/books/:bookId", func(c *gin.Context) {
		c.Set("bookId", c.Param("bookId"))
		c.Status(http.StatusNotFound)
	})
	return r
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestLoggingIncludesTicketFields(t *testing.T) {
	var buf bytes.Buffer
	defer telemetry.SetOutput(&buf)()
	r := loggedRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets/t-1", nil)
	req.Header.Set("X-Ruc", "20123456789")
	r.ServeHTTP(httptest.NewRecorder(), req)

	payload := lastLogLine(t, &buf)
	want := map[string]any{
		"level":             "info",
		"ruc":               "20123456789",
		"ticket_id":         "t-1",
		"route":             "/api/v1/tickets/:id",
		"status_transition": "PENDING->PROCESSING",
	}
	for k, v := range want {
		if payload[k] != v {
			t.Fatalf("%s = %v, want %v", k, payload[k], v)
		}
	}
	for _, k := range []string{"request_id", "duration_ms", "status"} {
		if _, ok := payload[k]; !ok {
			t.Fatalf("missing log field: %s", k)
		}
	}
}

func TestLoggingLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	defer telemetry.SetOutput(&buf)()
	r := loggedRouter()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/ple/books/LE-1", nil))
	payload := lastLogLine(t, &buf)
	if payload["level"] != "warn" || payload["book_id"] != "LE-1" {
		t.Fatalf("unexpected log %v", payload)
	}
}

func TestLoggingSkipsHealthProbes(t *testing.T) {
	var buf bytes.Buffer
	defer telemetry.SetOutput(&buf)()
	r := loggedRouter()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no log for /health, got %s", buf.String())
	}
}
