package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnaproject/dna-core/pkg/types"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	duration := timer.Duration()
	if duration < 50*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 50ms", duration)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds", Help: "test", Buckets: prometheus.DefBuckets,
	})
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram) // must not panic
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_duration_vec_seconds", Help: "test", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "test_operation") // must not panic
}

func TestTimerMultipleCallsMonotonic(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	d1 := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	d2 := timer.Duration()
	if d2 <= d1 {
		t.Errorf("second Duration() call should be longer: first=%v, second=%v", d1, d2)
	}
}

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "")
	RegisterComponent("dht", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %s", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "")
	RegisterComponent("dht", false, "not connected")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", health.Status)
	}
	if health.Components["dht"] != "unhealthy: not connected" {
		t.Errorf("unexpected dht status: %s", health.Components["dht"])
	}
}

func TestGetReadiness_MissingComponent(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("dht", true, "")
	RegisterComponent("store", true, "")
	// engine and task_queue never registered

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready, got %s", readiness.Status)
	}
	if readiness.Message == "" {
		t.Error("expected a message explaining why not ready")
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("dht", true, "")
	RegisterComponent("store", true, "")
	RegisterComponent("engine", true, "")
	RegisterComponent("task_queue", true, "")

	readiness := GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("expected ready, got %s", readiness.Status)
	}
}

// TestCollectorDrivesEngineReadiness is the behavioral difference from a
// hand-toggled component map: readiness tracks the engine's own state and
// worker count through Collector.collect, not a call a caller might forget.
func TestCollectorDrivesEngineReadiness(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("dht", true, "")
	RegisterComponent("store", true, "")

	src := &fakeEngineSource{stats: EngineStats{State: types.StateUnloaded, TaskQueueWorkers: 0}}
	c := NewCollector(src)
	c.collect()

	if GetReadiness().Status != "not_ready" {
		t.Fatal("expected not_ready while engine is UNLOADED with no workers")
	}

	src.stats = EngineStats{State: types.StateActive, TaskQueueWorkers: 4}
	c.collect()

	if GetReadiness().Status != "ready" {
		t.Fatal("expected ready once the engine is ACTIVE with running workers")
	}
}

type fakeEngineSource struct{ stats EngineStats }

func (f *fakeEngineSource) Stats() EngineStats { return f.stats }

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	healthChecker.version = "test"
	RegisterComponent("test", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("test", false, "broken")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "")
	// dht, store, task_queue not registered

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "alive" {
		t.Errorf("expected 'alive', got %s", resp["status"])
	}
}
