package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums a counter family over the series matching labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, m := range fam.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics_StoreObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveRequest("read", "users", 200, time.Millisecond)
	m.ObserveRequest("read", "users", 429, time.Millisecond)
	m.ObserveRetry("read", "users")

	assert.Equal(t, 1.0, counterValue(t, reg, "docrepo_store_requests_total", map[string]string{"status": "429"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "docrepo_store_requests_total", map[string]string{"operation": "read"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "docrepo_store_retries_total", nil))
}

func TestMetrics_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObserveRPC("/docrepo.v1.DocumentService/Get", "OK", time.Millisecond)
	second.ObserveRPC("/docrepo.v1.DocumentService/Get", "OK", time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "docrepo_rpc_requests_total", map[string]string{"code": "OK"}))
}

func TestMetrics_MiddlewareLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/docs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler(reg))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, counterValue(t, reg, "docrepo_http_requests_total",
		map[string]string{"route": "/docs/{id}", "status": "418"}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "docrepo_http_requests_total"))
}
