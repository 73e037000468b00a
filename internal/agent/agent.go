// Package agent runs hostscan as a long-lived process: periodic scans on a
// schedule, optional NATS commands and report publishing, and config
// reloads without a restart.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/stone-age-io/hostscan/internal/config"
	natsclient "github.com/stone-age-io/hostscan/internal/nats"
	"github.com/stone-age-io/hostscan/internal/scan"
	"github.com/stone-age-io/hostscan/internal/scheduler"
	"github.com/stone-age-io/hostscan/internal/stats"
	"github.com/stone-age-io/hostscan/internal/store"
	"github.com/stone-age-io/hostscan/internal/vulnfeed"
	"go.uber.org/zap"
)

// Scheduled job names
const (
	JobScan      = "scan"
	JobHeartbeat = "heartbeat"
)

// commandScanTimeout bounds an on-demand scan requested over NATS
const commandScanTimeout = 30 * time.Minute

// ErrScanInProgress is returned when a scan is requested while another runs
var ErrScanInProgress = errors.New("a scan is already running")

type scanPipeline interface {
	Run(ctx context.Context, opts scan.Options) (*scan.Result, error)
}

type pipelineBuilder func(cfg *config.Config) (scanPipeline, error)

// Agent represents the main agent
type Agent struct {
	mu     sync.RWMutex
	config *config.Config

	logger        *zap.Logger
	pipeline      scanPipeline
	buildPipeline pipelineBuilder
	store     *store.Store
	nats      *natsclient.Client
	handlers  *natsclient.CommandHandlers
	scheduler *scheduler.Scheduler
	stats     *stats.Tracker
	version   string
	console   io.Writer

	scanMu sync.Mutex
}

// New loads the configuration, opens the store and NATS connection when
// configured, and wires the scan pipeline. Config file changes are picked
// up while running.
func New(configPath, version string, console io.Writer) (*Agent, error) {
	a := &Agent{version: version, console: console, stats: stats.New()}

	cfg, err := config.Watch(configPath, a.reload, func(err error) {
		if logger := a.log(); logger != nil {
			logger.Error("Ignoring invalid configuration change", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging, console)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.mu.Lock()
	a.config = cfg
	a.logger = logger
	a.mu.Unlock()

	logger.Info("Starting hostscan agent",
		zap.String("version", version),
		zap.String("device_id", cfg.DeviceID))

	if err := a.init(cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) init(cfg *config.Config) error {
	var cache vulnfeed.Cache
	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store = st
		cache = st
	}

	a.buildPipeline = func(cfg *config.Config) (scanPipeline, error) {
		p, err := scan.NewFromConfig(cfg, cache, a.logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	pipeline, err := a.buildPipeline(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.pipeline = pipeline
	a.mu.Unlock()

	if cfg.NATS.Enabled {
		a.logger.Info("Connecting to NATS...")
		client, err := natsclient.NewClient(cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.nats = client

		var latest natsclient.LatestReporter
		if a.store != nil {
			latest = a.store
		}
		a.handlers = natsclient.NewCommandHandlers(a.logger, cfg.SubjectPrefix, cfg.DeviceID, a, latest, a.stats, commandScanTimeout)
		if err := a.handlers.SubscribeAll(client); err != nil {
			return fmt.Errorf("failed to subscribe to commands: %w", err)
		}
	}

	sched, err := scheduler.New(a.logger)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.scheduler = sched
	a.mu.Unlock()
	return nil
}

func (a *Agent) log() *zap.Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger
}

// Config returns the current configuration
func (a *Agent) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// reload applies a changed configuration. Scan options and the schedule
// interval take effect immediately. Changes to the scan method, worker
// count, command timeout or feeds rebuild the pipeline for the next scan.
// Store, NATS, identity and logging settings need a restart.
func (a *Agent) reload(cfg *config.Config) {
	a.mu.Lock()
	old := a.config
	a.config = cfg
	logger := a.logger
	sched := a.scheduler
	build := a.buildPipeline
	a.mu.Unlock()

	if logger == nil || old == nil {
		return
	}
	logger.Info("Configuration reloaded")

	if sched != nil && cfg.Schedule.Enabled && cfg.Schedule.Interval != old.Schedule.Interval {
		if err := sched.UpdateInterval(JobScan, cfg.Schedule.Interval); err != nil {
			logger.Warn("Failed to apply new scan interval", zap.Error(err))
		}
	}

	if build != nil && pipelineChanged(old, cfg) {
		pipeline, err := build(cfg)
		if err != nil {
			logger.Warn("Failed to rebuild scan pipeline, keeping the previous one", zap.Error(err))
		} else {
			a.mu.Lock()
			a.pipeline = pipeline
			a.mu.Unlock()
			logger.Info("Scan pipeline rebuilt",
				zap.String("method", cfg.Scan.Method),
				zap.Int("workers", cfg.Scan.Workers),
				zap.Duration("command_timeout", cfg.Commands.Timeout))
		}
	}

	if keys := restartRequired(old, cfg); len(keys) > 0 {
		logger.Warn("Some configuration changes take effect after a restart", zap.Strings("keys", keys))
	}
}

// pipelineChanged reports whether settings baked into the scan pipeline
// differ between old and cfg
func pipelineChanged(old, cfg *config.Config) bool {
	return old.Scan.Method != cfg.Scan.Method ||
		old.Scan.Workers != cfg.Scan.Workers ||
		old.Commands.Timeout != cfg.Commands.Timeout ||
		!reflect.DeepEqual(old.Feeds, cfg.Feeds)
}

// restartRequired lists the changed keys a running agent cannot apply
func restartRequired(old, cfg *config.Config) []string {
	var keys []string
	if !reflect.DeepEqual(old.Store, cfg.Store) {
		keys = append(keys, "store")
	}
	if !reflect.DeepEqual(old.NATS, cfg.NATS) {
		keys = append(keys, "nats")
	}
	if cfg.NATS.Enabled && old.DeviceID != cfg.DeviceID {
		keys = append(keys, "device_id")
	}
	if cfg.NATS.Enabled && old.SubjectPrefix != cfg.SubjectPrefix {
		keys = append(keys, "subject_prefix")
	}
	if old.Logging != cfg.Logging {
		keys = append(keys, "logging")
	}
	if old.Schedule.Enabled != cfg.Schedule.Enabled {
		keys = append(keys, "schedule.enabled")
	}
	if cfg.NATS.Enabled && old.Schedule.HeartbeatInterval != cfg.Schedule.HeartbeatInterval {
		keys = append(keys, "schedule.heartbeat_interval")
	}
	return keys
}

// DefaultOptions returns the scan options of the current configuration
func (a *Agent) DefaultOptions() scan.Options {
	return scan.OptionsFromConfig(a.Config())
}

func (a *Agent) outputs() scan.Outputs {
	out := scan.OutputsFromConfig(a.Config(), a.console)
	if a.store != nil {
		out.History = a.store
	}
	if a.nats != nil {
		out.Publisher = a.nats
	}
	return out
}

// RunScan runs one scan and delivers it to every configured output. Only
// one scan runs at a time; a concurrent request gets ErrScanInProgress.
// Delivery failures are logged and do not fail the scan.
func (a *Agent) RunScan(ctx context.Context, opts scan.Options) (*scan.Result, error) {
	if !a.scanMu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer a.scanMu.Unlock()

	a.mu.RLock()
	logger := a.logger
	pipeline := a.pipeline
	a.mu.RUnlock()

	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		a.stats.RecordScanFailure(err)
		return nil, err
	}

	if err := a.outputs().Deliver(res, logger); err != nil {
		logger.Warn("Scan finished with delivery errors", zap.String("scan_id", res.Document.ScanID), zap.Error(err))
	}
	a.stats.RecordScan(res.Document.ScanID)
	return res, nil
}

func (a *Agent) scheduledScan(ctx context.Context) {
	logger := a.log()
	_, err := a.RunScan(ctx, a.DefaultOptions())
	switch {
	case errors.Is(err, ErrScanInProgress):
		logger.Info("Skipping scheduled scan, another scan is running")
	case scan.IsPrivilegeError(err):
		logger.Error("Scheduled scan failed: raw sockets need root or CAP_NET_RAW", zap.Error(err))
	case err != nil:
		logger.Error("Scheduled scan failed", zap.Error(err))
	}
}

func (a *Agent) heartbeat(context.Context) {
	if err := a.nats.PublishHeartbeat(a.stats.Heartbeat(a.version)); err != nil {
		a.log().Warn("Failed to publish heartbeat", zap.Error(err))
	}
}

// Run schedules the jobs and blocks until ctx is cancelled, then shuts down
func (a *Agent) Run(ctx context.Context) error {
	cfg := a.Config()

	if cfg.Schedule.Enabled {
		if err := a.scheduler.Add(JobScan, cfg.Schedule.Interval, true, a.scheduledScan); err != nil {
			return err
		}
	}
	if a.nats != nil {
		if err := a.scheduler.Add(JobHeartbeat, cfg.Schedule.HeartbeatInterval, true, a.heartbeat); err != nil {
			return err
		}
	}
	a.scheduler.Start()

	a.logger.Info("Agent running",
		zap.String("device_id", cfg.DeviceID),
		zap.String("version", a.version),
		zap.Bool("scheduled", cfg.Schedule.Enabled),
		zap.Bool("nats", a.nats != nil))

	<-ctx.Done()
	a.logger.Info("Received shutdown signal")

	return a.Shutdown()
}

// Shutdown gracefully shuts down the agent
func (a *Agent) Shutdown() error {
	a.logger.Info("Shutting down agent gracefully")
	a.close()
	a.logger.Info("Agent shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *Agent) close() {
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(); err != nil {
			a.logger.Error("Error shutting down scheduler", zap.Error(err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Drain(a.Config().NATS.DrainTimeout); err != nil {
			a.logger.Error("Error draining NATS", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Error closing store", zap.Error(err))
		}
	}
}
