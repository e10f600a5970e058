package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollector_HandlerExposesRegisteredSeries(t *testing.T) {
	c := New()
	c.ObserveRequest("/v1/chat/completions", 200, 50*time.Millisecond)
	c.IncUpstreamSelected("/v1/chat/completions", "http://127.0.0.1:9000")
	c.IncKeyAuthBlocked("rate_limited")
	c.IncUpstreamBlocked("/v1/chat/completions")
	c.SetUpstreamHealth("http://127.0.0.1:9000", true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "gateway_requests_total")
	require.Contains(t, body, `route="/v1/chat/completions"`)
	require.Contains(t, body, "gateway_upstream_selected_total")
	require.Contains(t, body, "gateway_key_auth_blocked_total")
	require.Contains(t, body, "gateway_upstream_blocked_total")
	require.Contains(t, body, "gateway_upstream_health")
}

func TestStatusBucket_GroupsByHundreds(t *testing.T) {
	require.Equal(t, "2xx", statusBucket(200))
	require.Equal(t, "2xx", statusBucket(204))
	require.Equal(t, "4xx", statusBucket(404))
	require.Equal(t, "5xx", statusBucket(503))
	require.Equal(t, "other", statusBucket(0))
}
