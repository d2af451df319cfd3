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

func TestRecoveryWritesEnvelopeAndLogsTicket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	t.Cleanup(telemetry.SetOutput(&buf))

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/api/v1/tickets/:id", func(c *gin.Context) {
		c.Set("ticketId", c.Param("id"))
		panic("boom")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tickets/t-9", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil || body.Error.Code != "internal" {
		t.Fatalf("unexpected body %s (%v)", resp.Body.String(), err)
	}
	if !strings.Contains(buf.String(), `"ticket_id":"t-9"`) || !strings.Contains(buf.String(), "http.panic") {
		t.Fatalf("panic not logged with ticket: %s", buf.String())
	}
}
