// Package scan runs one complete host scan: inventory, platform facts and
// port probes fan out concurrently, the software list is correlated with
// the advisory feeds, and everything fans in to the report.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/inventory"
	"github.com/stone-age-io/hostscan/internal/portscan"
	"github.com/stone-age-io/hostscan/internal/probe"
	"github.com/stone-age-io/hostscan/internal/report"
	"github.com/stone-age-io/hostscan/internal/vulnfeed"
	"go.uber.org/zap"
)

// Stage names used as StageErrors keys
const (
	StageInventory   = "inventory"
	StagePlatform    = "platform"
	StagePorts       = "ports"
	StageCorrelation = "correlation"
)

// InventoryCollector gathers the host inventory
type InventoryCollector interface {
	Collect(ctx context.Context) inventory.Snapshot
}

// Correlator matches software against advisory feeds
type Correlator interface {
	Correlate(ctx context.Context, software []probe.Software) vulnfeed.Result
}

// ProberFactory opens a port prober for one run. The returned closer
// releases it.
type ProberFactory func() (portscan.Prober, io.Closer, error)

// Options describe one run
type Options struct {
	DeviceID  string
	Target    string
	Ports     []uint16
	Timeout   time.Duration
	SkipFeeds bool
}

// OptionsFromConfig builds run options from the scan configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DeviceID:  cfg.DeviceID,
		Target:    cfg.Scan.Target,
		Ports:     portscan.PortsFromInts(cfg.Scan.Ports),
		Timeout:   cfg.Scan.Timeout,
		SkipFeeds: !cfg.Feeds.Enabled,
	}
}

// Result is the outcome of a run
type Result struct {
	Report   *report.Report
	Document *report.Document
}

// Pipeline wires the scan stages together
type Pipeline struct {
	inventory  InventoryCollector
	probe      probe.Probe
	newProber  ProberFactory
	correlator Correlator
	workers    int
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline assembles a pipeline from its stages. correlator may be nil,
// in which case no feeds are consulted.
func NewPipeline(inv InventoryCollector, p probe.Probe, newProber ProberFactory, correlator Correlator, workers int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		inventory:  inv,
		probe:      p,
		newProber:  newProber,
		correlator: correlator,
		workers:    workers,
		logger:     logger,
		now:        time.Now,
	}
}

// NewFromConfig builds the production pipeline for this host. cache may be
// nil.
func NewFromConfig(cfg *config.Config, cache vulnfeed.Cache, logger *zap.Logger) (*Pipeline, error) {
	runner := probe.NewCommandRunner(cfg.Commands.Timeout)
	platform := probe.New(runtime.GOOS, runner, logger)
	collector := inventory.NewCollector(inventory.NewSystemSource(), logger)

	correlator, err := vulnfeed.NewCorrelatorFromConfig(cfg.Feeds, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure feeds: %w", err)
	}

	return NewPipeline(collector, platform, ProberForMethod(cfg.Scan.Method, logger), correlator, cfg.Scan.Workers, logger), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ProberForMethod returns the factory for a configured scan method.
// "connect" is only ever used when asked for; a SYN setup failure is
// reported, never downgraded.
func ProberForMethod(method string, logger *zap.Logger) ProberFactory {
	if method == "connect" {
		return func() (portscan.Prober, io.Closer, error) {
			return portscan.NewConnectProber(), nopCloser{}, nil
		}
	}
	return func() (portscan.Prober, io.Closer, error) {
		p, err := portscan.NewSYNProber(logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
}

// ResolveTarget returns the IPv4 address for an address or hostname
func ResolveTarget(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("target %s is not an IPv4 address", target)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target %s: %w", target, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("target %s has no IPv4 address", target)
	}
	return ips[0].To4(), nil
}

// Run performs one scan. The only errors returned are setup failures that
// prevent a meaningful report: an unresolvable target or a port prober
// that cannot be opened (portscan.ErrRawSocket). Everything else degrades
// into empty sections and is recorded in the document's StageErrors.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	started := p.now().UTC()
	scanID := uuid.New().String()
	logger := p.logger.With(zap.String("scan_id", scanID))

	target, err := ResolveTarget(ctx, opts.Target)
	if err != nil {
		return nil, err
	}

	prober, closer, err := p.newProber()
	if err != nil {
		logger.Error("Cannot probe ports", zap.Error(err))
		return nil, fmt.Errorf("port scanner setup failed: %w", err)
	}
	defer closer.Close()

	logger.Info("Starting scan",
		zap.String("target", target.String()),
		zap.Int("ports", len(opts.Ports)),
		zap.String("platform", p.probe.Name()))

	var (
		snapshot inventory.Snapshot
		software []probe.Software
		posture  probe.SecurityPosture
		accounts []probe.UserAccount
		ports    []portscan.Result
		portErr  error
		vulns    = vulnfeed.Result{Matches: []vulnfeed.Match{}, Failures: []vulnfeed.Failure{}}
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		snapshot = p.inventory.Collect(ctx)
	})
	wg.Go(func() {
		software = p.probe.InstalledSoftware(ctx)
		if p.correlator != nil && !opts.SkipFeeds {
			vulns = p.correlator.Correlate(ctx, software)
		}
	})
	wg.Go(func() {
		posture = probe.Posture(ctx, p.probe)
		accounts = p.probe.UserAccounts(ctx)
	})
	wg.Go(func() {
		scanner := portscan.NewScanner(prober, p.workers, logger)
		ports, portErr = scanner.Scan(ctx, target, opts.Ports, opts.Timeout)
	})
	wg.Wait()

	stageErrors := map[string]string{}
	if portErr != nil {
		logger.Warn("Port scan incomplete", zap.Error(portErr))
		stageErrors[StagePorts] = portErr.Error()
	}
	if err := ctx.Err(); err != nil {
		for _, stage := range []string{StageInventory, StagePlatform, StageCorrelation} {
			stageErrors[stage] = fmt.Sprintf("interrupted: %v", err)
		}
	}
	if ports == nil {
		ports = []portscan.Result{}
	}

	in := report.Input{
		Identity:        snapshot.Identity,
		Interfaces:      nonNil(snapshot.Interfaces),
		Ports:           ports,
		Software:        nonNil(software),
		Processes:       nonNil(snapshot.Processes),
		Security:        posture,
		Accounts:        nonNil(accounts),
		Filesystems:     nonNil(snapshot.Filesystems),
		Resources:       snapshot.Resources,
		Vulnerabilities: vulns.Matches,
	}

	rep := report.Compile(in)
	doc := &report.Document{
		ScanID:       scanID,
		DeviceID:     opts.DeviceID,
		Target:       target.String(),
		StartedAt:    started,
		CompletedAt:  p.now().UTC(),
		Summary:      rep.Summary,
		Data:         in,
		FeedFailures: vulns.Failures,
	}
	if len(stageErrors) > 0 {
		doc.StageErrors = stageErrors
	}

	logger.Info("Scan complete",
		zap.Duration("duration", doc.Duration()),
		zap.Int("open_ports", rep.Summary.OpenPorts),
		zap.Int("software", rep.Summary.Software),
		zap.Int("vulnerabilities", rep.Summary.Vulnerabilities),
		zap.Int("feed_failures", len(vulns.Failures)))

	return &Result{Report: rep, Document: doc}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// IsPrivilegeError reports whether err means raw sockets are unavailable
func IsPrivilegeError(err error) bool {
	return errors.Is(err, portscan.ErrRawSocket)
}
