package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMetricsMiddlewareIncrementsCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)

	InitMetrics()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRegisterExposesMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	InitMetrics()

	r := gin.New()
	Register(r, "/metrics")

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bucketd_uploads_total") {
		t.Fatalf("expected upload counter in metrics output")
	}
}
