package engine

import (
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Snapshot is a point-in-time read of engine-wide counters, the shape
// pkg/metrics polls on its collection interval. Every field is cheap to
// gather; nothing here blocks on network I/O beyond what the store and
// DHT facade already cache locally.
type Snapshot struct {
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

// Snapshot gathers a consistent-enough read of the engine's counters for
// metrics collection. It never blocks on the task queue or DHT network
// calls; list operations read from the local store and cache only.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		State:                e.State(),
		IdentityLoaded:       e.getSelf() != "",
		SendQueueInUse:       e.sendqueue.InUse(),
		SendQueueCapacity:    e.sendqueue.Capacity(),
		ActiveListeners:      e.listeners.ActiveContactCount(),
		StabilizationRunning: e.stabilizer.IsRunning(),
		DHTNodeCount:         e.cfg.DHT.NodeCount(),
		TaskQueueDepth:       e.tasks.Depth(),
		TaskQueueWorkers:     e.tasks.WorkerCount(),
	}
	if contacts, err := e.cfg.Store.ListContacts(); err == nil {
		s.ContactsTotal = len(contacts)
	}
	if groups, err := e.cfg.Store.ListGroups(); err == nil {
		s.GroupsTotal = len(groups)
	}
	return s
}

// Stats adapts Snapshot to metrics.EngineStats, satisfying
// metrics.EngineSource so pkg/metrics's Collector can poll this Engine
// without pkg/metrics importing pkg/engine.
func (e *Engine) Stats() metrics.EngineStats {
	s := e.Snapshot()
	return metrics.EngineStats{
		State:                s.State,
		IdentityLoaded:       s.IdentityLoaded,
		SendQueueInUse:       s.SendQueueInUse,
		SendQueueCapacity:    s.SendQueueCapacity,
		ActiveListeners:      s.ActiveListeners,
		StabilizationRunning: s.StabilizationRunning,
		ContactsTotal:        s.ContactsTotal,
		GroupsTotal:          s.GroupsTotal,
		DHTNodeCount:         s.DHTNodeCount,
		TaskQueueDepth:       s.TaskQueueDepth,
		TaskQueueWorkers:     s.TaskQueueWorkers,
	}
}
