package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is one named probe. A failing critical check makes the service
// unhealthy; any other failure only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs the registered checks and reports the chat service's
// state next to them.
type HealthChecker struct {
	mu           sync.RWMutex
	checks       map[string]*HealthCheck
	storeBackend string
	sessions     func() int
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckStatus represents the status of a health check
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Critical bool         `json:"critical"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration"`
}

// SystemInfo describes the process and the chat service it hosts.
type SystemInfo struct {
	StoreBackend   string `json:"store_backend,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
	NumGoroutines  int    `json:"num_goroutines"`
	MemAllocMB     uint64 `json:"mem_alloc_mb"`
}

var (
	globalChecker  *HealthChecker
	startTime      = time.Now()
	version        = "dev"
	initHealthOnce sync.Once
)

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// NewHealthChecker creates an empty, standalone health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]*HealthCheck),
	}
}

// InitHealthChecker initializes the global health checker
func InitHealthChecker() *HealthChecker {
	initHealthOnce.Do(func() {
		globalChecker = NewHealthChecker()
	})
	return globalChecker
}

// RegisterCheck registers a new health check, replacing one with the same name
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// SetStoreBackend records the name of the config store backend in use.
func (hc *HealthChecker) SetStoreBackend(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.storeBackend = name
}

// SetSessionCounter sets the source of the live chat session count.
func (hc *HealthChecker) SetSessionCounter(fn func() int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.sessions = fn
}

// Check runs every registered check in name order.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	info := SystemInfo{StoreBackend: hc.storeBackend}
	sessions := hc.sessions
	hc.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy
	for _, check := range checks {
		status := performCheck(ctx, check)
		results[check.Name] = status

		switch {
		case status.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case status.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	if sessions != nil {
		info.ActiveSessions = sessions()
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info.NumGoroutines = runtime.NumGoroutine()
	info.MemAllocMB = m.Alloc / 1024 / 1024

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    results,
		System:    info,
	}
}

// performCheck runs one check under its timeout. A check that ignores its
// context is abandoned when the timeout fires.
func performCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check.CheckFunc(checkCtx)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{
		Status:   HealthStatusHealthy,
		Critical: check.Critical,
		Message:  "OK",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		status.Status = HealthStatusDegraded
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		}
		status.Message = err.Error()
	}
	return status
}

// HealthHandler returns an HTTP handler for the full health report
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := InitHealthChecker().Check(r.Context())

		code := http.StatusOK
		if response.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	}
}

// LivenessHandler returns a simple liveness probe handler
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns a readiness probe handler. Only a failing
// critical check takes the instance out of rotation; a degraded upstream
// does not, since every instance would see the same outage.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := InitHealthChecker().Check(r.Context())
		if response.Status == HealthStatusUnhealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StoreCheck is the critical check on the config store: without it no
// chat can resolve its assistant.
func StoreCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "config_store",
		CheckFunc: ping,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}

// UpstreamCheck reports whether the Assistants API answers at all. It is
// not critical; chats fail with a visible notice while it is down.
func UpstreamCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "assistants_api",
		CheckFunc: ping,
		Timeout:   10 * time.Second,
		Critical:  false,
	}
}
