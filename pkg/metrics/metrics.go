package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine lifecycle metrics.
	EngineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_engine_state",
			Help: "Lifecycle Controller state (0=UNLOADED, 1=ACTIVE, 2=PAUSED)",
		},
	)

	IdentityLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_identity_loaded",
			Help: "Whether an identity is currently loaded (1 = yes, 0 = no)",
		},
	)

	// Task queue metrics.
	TaskQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_task_queue_depth",
			Help: "Number of tasks currently buffered in the task queue",
		},
	)

	TaskQueueWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_task_queue_workers",
			Help: "Number of worker goroutines currently running",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dna_tasks_dispatched_total",
			Help: "Total tasks dispatched by type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dna_task_duration_seconds",
			Help:    "Time taken to execute a task handler, by task type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	// Send queue metrics (spec.md §4.11).
	SendQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_send_queue_depth",
			Help: "Number of reserved slots currently in the send queue",
		},
	)

	SendQueueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dna_send_queue_rejected_total",
			Help: "Total enqueue attempts rejected because the send queue was full",
		},
	)

	// Listener manager metrics, labelled by listener class (spec.md §4.7).
	// Collector sets only the "outbox" series.
	ListenersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dna_listeners_active",
			Help: "Number of currently active DHT listeners by class",
		},
		[]string{"class"},
	)

	ListenerFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dna_listener_fanout_duration_seconds",
			Help:    "Time taken to fan out ListenAllContacts across the current contact list",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Delivery engine metrics (spec.md §4.8).
	RetryCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dna_retry_cycles_total",
			Help: "Total retry cycles run by the delivery engine",
		},
	)

	MessagesRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dna_messages_retried_total",
			Help: "Total per-message retry attempts by resend outcome",
		},
		[]string{"outcome"},
	)

	MessagesStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dna_messages_stale_total",
			Help: "Total messages abandoned after exceeding the staleness window",
		},
	)

	// Presence / heartbeat metrics (spec.md §4.9).
	PresenceWakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dna_presence_wake_duration_seconds",
			Help:    "Time taken for one presence heartbeat wake cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	PresenceActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_presence_active",
			Help: "Whether the presence heartbeat is currently publishing (1 = active, 0 = paused)",
		},
	)

	// Stabilization coordinator metrics (spec.md §4.12).
	StabilizationRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_stabilization_running",
			Help: "Whether a stabilization attempt is currently in flight (1 = running)",
		},
	)

	StabilizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dna_stabilization_duration_seconds",
			Help:    "Time from stabilization spawn to sync completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event stream metrics (spec.md §4.3).
	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dna_events_dispatched_total",
			Help: "Total events dispatched on the event stream by type",
		},
		[]string{"event_type"},
	)

	// DHT facade metrics.
	DHTNodeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_dht_node_count",
			Help: "Current DHT routing table node count as reported by the facade",
		},
	)

	DHTPutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dna_dht_put_duration_seconds",
			Help:    "Time taken for DHT Put/PutSignedPermanent calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Contact / messaging / group domain counters.
	ContactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_contacts_total",
			Help: "Total contacts for the loaded identity",
		},
	)

	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dna_groups_total",
			Help: "Total groups the loaded identity belongs to",
		},
	)

	MessagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dna_messages_sent_total",
			Help: "Total outgoing messages accepted by the Messaging handler",
		},
	)

	MessagesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dna_messages_received_total",
			Help: "Total incoming messages decrypted and saved by the Messaging handler",
		},
	)

	// Wallet operation metrics.
	WalletSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dna_wallet_send_duration_seconds",
			Help:    "Time taken for a wallet send operation by chain",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	WalletSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dna_wallet_send_total",
			Help: "Total wallet send operations by chain and outcome",
		},
		[]string{"chain", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(EngineState)
	prometheus.MustRegister(IdentityLoaded)
	prometheus.MustRegister(TaskQueueDepth)
	prometheus.MustRegister(TaskQueueWorkers)
	prometheus.MustRegister(TasksDispatchedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(SendQueueDepth)
	prometheus.MustRegister(SendQueueRejectedTotal)
	prometheus.MustRegister(ListenersActive)
	prometheus.MustRegister(ListenerFanoutDuration)
	prometheus.MustRegister(RetryCyclesTotal)
	prometheus.MustRegister(MessagesRetriedTotal)
	prometheus.MustRegister(MessagesStaleTotal)
	prometheus.MustRegister(PresenceWakeDuration)
	prometheus.MustRegister(PresenceActive)
	prometheus.MustRegister(StabilizationRunning)
	prometheus.MustRegister(StabilizationDuration)
	prometheus.MustRegister(EventsDispatchedTotal)
	prometheus.MustRegister(DHTNodeCount)
	prometheus.MustRegister(DHTPutDuration)
	prometheus.MustRegister(ContactsTotal)
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(WalletSendDuration)
	prometheus.MustRegister(WalletSendTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// HealthStatus is the JSON shape served by /health, /ready and /live.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "degraded", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth tracks the health of a single component: either an
// external collaborator registered once at process start (dht, store) or
// a snapshot Collector.collect() refreshes every poll (engine, task_queue).
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health for the liveness/readiness
// endpoints. There is one process-wide instance; RegisterComponent and
// Collector.collect are the only writers of its component map.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// readinessComponents must all be registered and healthy for GetReadiness
// to report "ready". dht and store are external collaborators the run
// command registers once at startup; engine and task_queue are kept
// current automatically by Collector.collect from the engine's own
// lifecycle state and worker count, not by a manual call.
var readinessComponents = []string{"dht", "store", "engine", "task_queue"}

// SetVersion sets the version string reported by /health and /ready.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records or refreshes one component's health.
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is an alias for RegisterComponent kept for call sites
// that are refreshing rather than introducing a component.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports every registered component; any unhealthy component
// makes the overall status unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)
	for name, comp := range healthChecker.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// GetReadiness reports "ready" only once every entry in readinessComponents
// is registered and healthy, "not_ready" otherwise (spec.md's engine state
// machine: a not-yet-ACTIVE engine, or a task queue with no workers, must
// never report ready).
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range readinessComponents {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// HealthHandler serves /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves /ready.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		w.Header().Set("Content-Type", "application/json")
		if readiness.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler serves /live: a bare process-alive check with no
// component awareness, so it stays up even while /ready reports not_ready.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
