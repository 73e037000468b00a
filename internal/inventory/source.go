package inventory

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Source is the operating system as seen by the collector
type Source interface {
	HostInfo(ctx context.Context) (*host.InfoStat, error)
	Hostname() (string, error)
	LookupHost(ctx context.Context, name string) ([]string, error)
	Interfaces(ctx context.Context) (gnet.InterfaceStatList, error)
	PIDs(ctx context.Context) ([]int32, error)
	// ProcessDetail returns the process name and owner. An error means the
	// process is gone; an unknown owner is returned as "".
	ProcessDetail(ctx context.Context, pid int32) (name, user string, err error)
	Partitions(ctx context.Context) ([]disk.PartitionStat, error)
	Usage(ctx context.Context, mountpoint string) (*disk.UsageStat, error)
	CPUInfo(ctx context.Context) ([]cpu.InfoStat, error)
	CPUCount(ctx context.Context) (int, error)
	// CPUPercent samples combined CPU utilisation over interval
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

var errNoCPUSample = errors.New("no CPU utilisation returned")

// systemSource reads the live system through gopsutil
type systemSource struct{}

// NewSystemSource returns a Source backed by the running host
func NewSystemSource() Source {
	return systemSource{}
}

func (systemSource) HostInfo(ctx context.Context) (*host.InfoStat, error) {
	return host.InfoWithContext(ctx)
}

func (systemSource) Hostname() (string, error) {
	return os.Hostname()
}

func (systemSource) LookupHost(ctx context.Context, name string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, name)
}

func (systemSource) Interfaces(ctx context.Context) (gnet.InterfaceStatList, error) {
	return gnet.InterfacesWithContext(ctx)
}

func (systemSource) PIDs(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (systemSource) ProcessDetail(ctx context.Context, pid int32) (string, string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", "", err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", "", err
	}
	user, _ := p.UsernameWithContext(ctx)
	return name, user, nil
}

func (systemSource) Partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, false)
}

func (systemSource) Usage(ctx context.Context, mountpoint string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, mountpoint)
}

func (systemSource) CPUInfo(ctx context.Context) ([]cpu.InfoStat, error) {
	return cpu.InfoWithContext(ctx)
}

func (systemSource) CPUCount(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (systemSource) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, interval, false) // false = combined
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errNoCPUSample
	}
	return percents[0], nil
}

func (systemSource) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}
