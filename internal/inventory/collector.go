// Package inventory gathers the portable part of a host snapshot: identity,
// network interfaces, running processes, mounted filesystems and processor
// and memory figures.
package inventory

import (
	"context"
	"net"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/stone-age-io/hostscan/internal/utils"
	"go.uber.org/zap"
)

// cpuSampleInterval is how long CPU utilisation is measured for
const cpuSampleInterval = 500 * time.Millisecond

// Unknown is reported for identity fields that could not be determined
const Unknown = "Unknown"

// skipFsTypes are pseudo filesystems that carry no useful usage data
var skipFsTypes = map[string]bool{
	"devfs":    true,
	"devtmpfs": true,
	"tmpfs":    true,
	"overlay":  true,
	"proc":     true,
	"sysfs":    true,
	"cgroup":   true,
	"cgroup2":  true,
	"autofs":   true,
	"nullfs":   true,
}

// Collector gathers inventory snapshots
type Collector struct {
	source Source
	logger *zap.Logger
}

// NewCollector creates a collector reading from source
func NewCollector(source Source, logger *zap.Logger) *Collector {
	return &Collector{source: source, logger: logger}
}

// Collect gathers every category. It never fails: a category that cannot be
// read is logged and left empty.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	interfaces := c.CollectInterfaces(ctx)
	return Snapshot{
		Identity:    c.collectIdentity(ctx, interfaces),
		Interfaces:  interfaces,
		Processes:   c.CollectProcesses(ctx),
		Filesystems: c.CollectFilesystems(ctx),
		Resources:   c.CollectResources(ctx),
	}
}

// CollectIdentity returns OS name and version, hostname and primary IPv4
func (c *Collector) CollectIdentity(ctx context.Context) HostIdentity {
	return c.collectIdentity(ctx, c.CollectInterfaces(ctx))
}

func (c *Collector) collectIdentity(ctx context.Context, interfaces []NetworkInterface) HostIdentity {
	id := HostIdentity{
		OSName:    runtime.GOOS,
		OSVersion: Unknown,
		Hostname:  Unknown,
		PrimaryIP: Unknown,
	}

	info, err := c.source.HostInfo(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect host info", zap.Error(err))
	} else {
		if info.Platform != "" {
			id.OSName = info.Platform
		} else if info.OS != "" {
			id.OSName = info.OS
		}
		if info.PlatformVersion != "" {
			id.OSVersion = info.PlatformVersion
		} else if info.KernelVersion != "" {
			id.OSVersion = info.KernelVersion
		}
		if info.Hostname != "" {
			id.Hostname = info.Hostname
		}
	}

	if hostname, err := c.source.Hostname(); err == nil && hostname != "" {
		id.Hostname = hostname
	} else if err != nil {
		c.logger.Warn("Failed to collect hostname", zap.Error(err))
	}

	if ip := c.primaryIP(ctx, id.Hostname, interfaces); ip != "" {
		id.PrimaryIP = ip
	}

	return id
}

// primaryIP resolves the hostname, preferring a non-loopback answer, and
// falls back to the first non-loopback interface address
func (c *Collector) primaryIP(ctx context.Context, hostname string, interfaces []NetworkInterface) string {
	var resolvedLoopback string

	if hostname != Unknown {
		addrs, err := c.source.LookupHost(ctx, hostname)
		if err != nil {
			c.logger.Debug("Hostname did not resolve", zap.String("hostname", hostname), zap.Error(err))
		}
		for _, a := range addrs {
			ip := net.ParseIP(a)
			if ip == nil || ip.To4() == nil {
				continue
			}
			if !ip.IsLoopback() {
				return ip.String()
			}
			if resolvedLoopback == "" {
				resolvedLoopback = ip.String()
			}
		}
	}

	for _, iface := range interfaces {
		if ip := net.ParseIP(iface.IPv4); ip != nil && !ip.IsLoopback() {
			return iface.IPv4
		}
	}

	return resolvedLoopback
}

// CollectInterfaces returns one record per IPv4 address per interface.
// Interfaces without IPv4 produce no records.
func (c *Collector) CollectInterfaces(ctx context.Context) []NetworkInterface {
	result := []NetworkInterface{}

	stats, err := c.source.Interfaces(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect network interfaces", zap.Error(err))
		return result
	}

	for _, iface := range stats {
		for _, addr := range iface.Addrs {
			ip := addr.Addr
			if i := strings.IndexByte(ip, '/'); i >= 0 {
				ip = ip[:i]
			}
			parsed := net.ParseIP(ip)
			if parsed == nil || parsed.To4() == nil {
				continue
			}
			result = append(result, NetworkInterface{
				Name: iface.Name,
				IPv4: parsed.String(),
				MAC:  iface.HardwareAddr,
			})
		}
	}

	return result
}

// CollectProcesses lists running processes by PID. Processes that exit
// during enumeration are omitted.
func (c *Collector) CollectProcesses(ctx context.Context) []Process {
	result := []Process{}

	pids, err := c.source.PIDs(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect processes", zap.Error(err))
		return result
	}

	for _, pid := range pids {
		if ctx.Err() != nil {
			break
		}
		name, user, err := c.source.ProcessDetail(ctx, pid)
		if err != nil {
			continue
		}
		result = append(result, Process{PID: pid, Name: name, User: user})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].PID < result[j].PID })
	return result
}

// CollectFilesystems lists mounted partitions with their usage.
// Pseudo filesystems and partitions whose usage cannot be read are skipped.
func (c *Collector) CollectFilesystems(ctx context.Context) []Filesystem {
	result := []Filesystem{}

	partitions, err := c.source.Partitions(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect partitions", zap.Error(err))
		return result
	}

	for _, p := range partitions {
		if skipFsTypes[p.Fstype] {
			continue
		}
		usage, err := c.source.Usage(ctx, p.Mountpoint)
		if err != nil {
			c.logger.Debug("Skipping partition without usage",
				zap.String("mountpoint", p.Mountpoint),
				zap.Error(err))
			continue
		}
		result = append(result, Filesystem{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			FSType:      p.Fstype,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			UsedPercent: utils.Round(usage.UsedPercent),
		})
	}

	return result
}

// CollectResources reads CPU and memory figures. Each figure that cannot be
// read is logged and left at zero.
func (c *Collector) CollectResources(ctx context.Context) Resources {
	var r Resources

	if info, err := c.source.CPUInfo(ctx); err != nil {
		c.logger.Warn("Failed to collect CPU info", zap.Error(err))
	} else if len(info) > 0 {
		r.CPUModel = strings.TrimSpace(info[0].ModelName)
	}

	if n, err := c.source.CPUCount(ctx); err != nil {
		c.logger.Warn("Failed to collect CPU count", zap.Error(err))
	} else {
		r.CPUCores = n
	}

	if pct, err := c.source.CPUPercent(ctx, cpuSampleInterval); err != nil {
		c.logger.Warn("Failed to collect CPU metrics", zap.Error(err))
	} else {
		r.CPUUsagePercent = utils.Round(pct)
	}

	if vm, err := c.source.VirtualMemory(ctx); err != nil {
		c.logger.Warn("Failed to collect memory metrics", zap.Error(err))
	} else {
		r.MemoryTotal = vm.Total
		r.MemoryUsed = vm.Used
		r.MemoryUsedPercent = utils.Percent(vm.Used, vm.Total)
	}

	return r
}
