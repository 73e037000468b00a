// Package stats tracks agent self-monitoring counters for the health
// command and the heartbeat.
package stats

import (
	"runtime"
	"sync"
	"time"

	"github.com/stone-age-io/hostscan/internal/utils"
)

// Tracker records command and scan activity. It is safe for concurrent use.
type Tracker struct {
	mu  sync.RWMutex
	now func() time.Time

	startTime time.Time

	commandsProcessed int64
	commandsErrored   int64
	lastError         string
	lastErrorTime     time.Time

	scansCompleted int64
	scansFailed    int64
	lastScan       time.Time
	lastScanID     string
	lastScanError  string
}

// AgentMetrics represents agent self-monitoring metrics
type AgentMetrics struct {
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
	Goroutines        int     `json:"goroutines"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CommandsProcessed int64   `json:"commands_processed"`
	CommandsErrored   int64   `json:"commands_errored"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorTime     string  `json:"last_error_time,omitempty"`
}

// ScanMetrics represents scheduled and on-demand scan health
type ScanMetrics struct {
	ScansCompleted int64  `json:"scans_completed"`
	ScansFailed    int64  `json:"scans_failed"`
	LastScan       string `json:"last_scan,omitempty"`
	LastScanID     string `json:"last_scan_id,omitempty"`
	LastScanError  string `json:"last_scan_error,omitempty"`
}

// Heartbeat is the periodic liveness message
type Heartbeat struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	LastScan  string `json:"last_scan,omitempty"`
}

// New creates a tracker whose uptime starts now
func New() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now, startTime: now()}
}

// RecordCommandSuccess increments the processed counter
func (t *Tracker) RecordCommandSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandsProcessed++
}

// RecordCommandError increments the error counter and stores the last error
func (t *Tracker) RecordCommandError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commandsErrored++
	t.commandsProcessed++ // still counts as processed
	t.lastError = err.Error()
	t.lastErrorTime = t.now()
}

// RecordScan records a finished scan
func (t *Tracker) RecordScan(scanID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scansCompleted++
	t.lastScan = t.now()
	t.lastScanID = scanID
	t.lastScanError = ""
}

// RecordScanFailure records a scan that could not produce a report
func (t *Tracker) RecordScanFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scansFailed++
	t.lastScanError = err.Error()
}

// AgentMetrics returns current agent performance metrics
func (t *Tracker) AgentMetrics() *AgentMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	t.mu.RLock()
	defer t.mu.RUnlock()

	m := &AgentMetrics{
		// mem.Sys is the full process footprint, not just the heap
		MemoryUsageMB:     utils.Round(float64(mem.Sys) / 1024 / 1024),
		Goroutines:        runtime.NumGoroutine(),
		UptimeSeconds:     int64(t.now().Sub(t.startTime).Seconds()),
		CommandsProcessed: t.commandsProcessed,
		CommandsErrored:   t.commandsErrored,
	}
	if !t.lastErrorTime.IsZero() {
		m.LastError = t.lastError
		m.LastErrorTime = t.lastErrorTime.UTC().Format(time.RFC3339)
	}
	return m
}

// ScanMetrics returns scan execution metrics
func (t *Tracker) ScanMetrics() *ScanMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := &ScanMetrics{
		ScansCompleted: t.scansCompleted,
		ScansFailed:    t.scansFailed,
		LastScanID:     t.lastScanID,
		LastScanError:  t.lastScanError,
	}
	if !t.lastScan.IsZero() {
		m.LastScan = t.lastScan.UTC().Format(time.RFC3339)
	}
	return m
}

// Heartbeat builds a heartbeat message for version
func (t *Tracker) Heartbeat(version string) *Heartbeat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hb := &Heartbeat{
		Status:    "alive",
		Version:   version,
		Timestamp: t.now().UTC().Format(time.RFC3339),
	}
	if !t.lastScan.IsZero() {
		hb.LastScan = t.lastScan.UTC().Format(time.RFC3339)
	}
	return hb
}
