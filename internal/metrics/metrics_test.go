package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("GET", 401, 10*time.Millisecond)
	c.RecordRequest("GET", 200, 5*time.Millisecond)
	c.RecordRetry()
	c.RecordRefresh(true)
	c.RecordRefresh(false)
	c.RecordRefresh(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.refresh.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refresh.WithLabelValues("failure")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "userdesk_token_refresh_total")
}
