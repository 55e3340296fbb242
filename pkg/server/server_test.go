package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func TestSetupServiceRouter(t *testing.T) {
	logger := logging.NewLogger()
	hc := monitoring.NewHealthChecker("bursar", "v1")
	mc := monitoring.NewMetricsCollector("bursar", "v1", "abc")
	r := SetupServiceRouter(logger, "bursar", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequestWithContext(context.Background(), "GET", "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
}
