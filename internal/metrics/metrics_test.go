package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddleware_ObservesByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/v1/campaigns/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.CollectAndCount(HTTPLatency)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/campaigns/abc", nil))

	if got := testutil.CollectAndCount(HTTPLatency); got != before+1 {
		t.Fatalf("expected one new series, got %d -> %d", before, got)
	}
}

func TestDebitCounter(t *testing.T) {
	LedgerDebits.WithLabelValues("skip_trace", ResultOK).Inc()
	if v := testutil.ToFloat64(LedgerDebits.WithLabelValues("skip_trace", ResultOK)); v < 1 {
		t.Fatalf("expected counter to be incremented, got %v", v)
	}
}
