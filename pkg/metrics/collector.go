package metrics

import (
	"fmt"
	"time"

	"github.com/dnaproject/dna-core/pkg/types"
)

var engineStateValue = map[types.EngineState]float64{
	types.StateUnloaded: 0,
	types.StateActive:   1,
	types.StatePaused:   2,
}

// EngineStats is the narrow read-only snapshot the Collector polls. It
// is defined here, not in pkg/engine, so pkg/engine can depend on
// pkg/metrics (for per-task and per-event instrumentation) without
// pkg/metrics depending back on pkg/engine.
type EngineStats struct {
	State                types.EngineState
	IdentityLoaded       bool
	SendQueueInUse       int
	SendQueueCapacity    int
	ActiveListeners      int
	StabilizationRunning bool
	ContactsTotal        int
	GroupsTotal          int
	DHTNodeCount         int
	TaskQueueDepth       int
	TaskQueueWorkers     int
}

// EngineSource is implemented by *engine.Engine's Stats method.
type EngineSource interface {
	Stats() EngineStats
}

// Collector polls an EngineSource on an interval and republishes its
// counters as the dna_* gauges, the same ticker-driven poll-and-set
// shape Warren's collector used against its Manager.
type Collector struct {
	source EngineSource
	stopCh chan struct{}
}

// NewCollector creates a metrics collector for source.
func NewCollector(source EngineSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins polling in its own goroutine, collecting immediately and
// then every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Stats()

	EngineState.Set(engineStateValue[snap.State])
	if snap.IdentityLoaded {
		IdentityLoaded.Set(1)
	} else {
		IdentityLoaded.Set(0)
	}

	SendQueueDepth.Set(float64(snap.SendQueueInUse))
	ListenersActive.WithLabelValues("outbox").Set(float64(snap.ActiveListeners))

	if snap.StabilizationRunning {
		StabilizationRunning.Set(1)
	} else {
		StabilizationRunning.Set(0)
	}

	ContactsTotal.Set(float64(snap.ContactsTotal))
	GroupsTotal.Set(float64(snap.GroupsTotal))
	DHTNodeCount.Set(float64(snap.DHTNodeCount))
	TaskQueueDepth.Set(float64(snap.TaskQueueDepth))
	TaskQueueWorkers.Set(float64(snap.TaskQueueWorkers))

	RegisterComponent("engine", snap.State == types.StateActive, string(snap.State))
	RegisterComponent("task_queue", snap.TaskQueueWorkers > 0, fmt.Sprintf("%d workers", snap.TaskQueueWorkers))
}
