package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_CriticalFailureIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(UpstreamCheck(func(ctx context.Context) error { return nil }))
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Equal(t, HealthStatusHealthy, resp.Checks["assistants_api"].Status)
	assert.Equal(t, "connection refused", resp.Checks["config_store"].Message)
	assert.True(t, resp.Checks["config_store"].Critical)
}

func TestHealthChecker_UpstreamFailureIsDegraded(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return nil }))
	hc.RegisterCheck(UpstreamCheck(func(ctx context.Context) error {
		return errors.New("upstream status 503")
	}))

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.False(t, resp.Checks["assistants_api"].Critical)
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:     "hang",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
}

func TestHealthChecker_ReportsChatState(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetStoreBackend("redis")
	live := 3
	hc.SetSessionCounter(func() int { return live })

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "redis", resp.System.StoreBackend)
	assert.Equal(t, 3, resp.System.ActiveSessions)
	assert.Positive(t, resp.System.NumGoroutines)
}

func TestReadinessHandler_IgnoresDegradedUpstream(t *testing.T) {
	hc := InitHealthChecker()
	hc.RegisterCheck(UpstreamCheck(func(ctx context.Context) error { return errors.New("down") }))
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return nil }))
	t.Cleanup(func() {
		hc.mu.Lock()
		delete(hc.checks, "assistants_api")
		delete(hc.checks, "config_store")
		hc.mu.Unlock()
	})

	rec := httptest.NewRecorder()
	ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return errors.New("closed") }))
	rec = httptest.NewRecorder()
	ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
	assert.Equal(t, HealthStatusDegraded, body.Checks["assistants_api"].Status)
}

func TestHandler_ServesProbesAndMetrics(t *testing.T) {
	InitMetrics()
	RecordUpstreamRequest("create_thread", "ok", time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])

	mres, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mres.Body.Close()
	assert.Equal(t, http.StatusOK, mres.StatusCode)
}
