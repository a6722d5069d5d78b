package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distwq/distwq/internal/platform/health"
	"github.com/distwq/distwq/internal/platform/metrics"
	"github.com/distwq/distwq/pkg/distwq"
)

type fakeInfoSource struct {
	rs distwq.RunStats
}

func (f fakeInfoSource) Info() distwq.RunStats { return f.rs }

func TestHealthzReportsAlive(t *testing.T) {
	h := health.NewHandler("distwqd-test", "dev")
	router := NewRouter(h, nil, fakeInfoSource{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInfoReturnsRunStatsJSON(t *testing.T) {
	h := health.NewHandler("distwqd-test", "dev")
	source := fakeInfoSource{rs: distwq.RunStats{
		NProcessed: map[int]int64{0: 5},
		Mean:       1.2,
	}}
	router := NewRouter(h, nil, source)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got distwq.RunStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(5), got.NProcessed[0])
	assert.Equal(t, 1.2, got.Mean)
}

func TestMetricsEndpointOmittedWhenNil(t *testing.T) {
	h := health.NewHandler("distwqd-test", "dev")
	router := NewRouter(h, nil, fakeInfoSource{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointServedWhenProvided(t *testing.T) {
	h := health.NewHandler("distwqd-test", "dev")
	m := metrics.NewMetrics("distwq_status_test")
	router := NewRouter(h, m, fakeInfoSource{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
