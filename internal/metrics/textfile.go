// Package metrics exports scan results as Prometheus gauges in the text
// exposition format, for node_exporter's textfile collector (or
// windows_exporter's) to pick up.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/hostscan/internal/portscan"
	"github.com/stone-age-io/hostscan/internal/report"
)

// Metric names
const (
	MetricScanTimestamp   = "hostscan_last_scan_timestamp_seconds"
	MetricScanDuration    = "hostscan_last_scan_duration_seconds"
	MetricPortOpen        = "hostscan_port_open"
	MetricOpenPorts       = "hostscan_open_ports"
	MetricSoftware        = "hostscan_installed_software"
	MetricProcesses       = "hostscan_running_processes"
	MetricAccounts        = "hostscan_user_accounts"
	MetricSecurityEnabled = "hostscan_security_setting_enabled"
	MetricVulnerabilities = "hostscan_vulnerability_matches"
	MetricFeedFailed      = "hostscan_feed_failed"
	MetricFilesystemUsed  = "hostscan_filesystem_used_percent"
	MetricCPUUsage        = "hostscan_cpu_usage_percent"
	MetricMemoryUsed      = "hostscan_memory_used_percent"
)

func ptr[T any](v T) *T { return &v }

func gauge(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func sample(value float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: ptr(value)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: ptr(labels[i]), Value: ptr(labels[i+1])})
	}
	return m
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Families converts a scan document into metric families, ordered by name
func Families(doc *report.Document) []*dto.MetricFamily {
	device := doc.DeviceID
	in := doc.Data

	ts := gauge(MetricScanTimestamp, "Unix time the last scan completed.")
	ts.Metric = append(ts.Metric, sample(float64(doc.CompletedAt.Unix()), "device", device))

	dur := gauge(MetricScanDuration, "Wall time of the last scan.")
	dur.Metric = append(dur.Metric, sample(doc.Duration().Seconds(), "device", device))

	portOpen := gauge(MetricPortOpen, "Whether a probed port answered SYN+ACK.")
	for _, p := range in.Ports {
		portOpen.Metric = append(portOpen.Metric, sample(boolValue(p.State == portscan.StateOpen),
			"device", device, "target", doc.Target, "port", strconv.Itoa(int(p.Port))))
	}

	open := gauge(MetricOpenPorts, "Number of open ports found by the last scan.")
	open.Metric = append(open.Metric, sample(float64(doc.Summary.OpenPorts), "device", device))

	software := gauge(MetricSoftware, "Number of installed software packages.")
	software.Metric = append(software.Metric, sample(float64(doc.Summary.Software), "device", device))

	procs := gauge(MetricProcesses, "Number of running processes at scan time.")
	procs.Metric = append(procs.Metric, sample(float64(doc.Summary.Processes), "device", device))

	accounts := gauge(MetricAccounts, "Number of local user accounts.")
	accounts.Metric = append(accounts.Metric, sample(float64(doc.Summary.Accounts), "device", device))

	security := gauge(MetricSecurityEnabled, "Security setting state: 1 enabled, 0 disabled, -1 unknown.")
	for _, s := range []struct{ name, status string }{
		{"firewall", in.Security.Firewall.String()},
		{"antivirus", in.Security.Antivirus.String()},
	} {
		security.Metric = append(security.Metric, sample(statusValue(s.status), "device", device, "setting", s.name))
	}

	vulns := gauge(MetricVulnerabilities, "Vulnerability matches per advisory feed.")
	counts := map[string]int{}
	for _, m := range in.Vulnerabilities {
		counts[m.Source]++
	}
	for _, src := range sortedKeys(counts) {
		vulns.Metric = append(vulns.Metric, sample(float64(counts[src]), "device", device, "source", src))
	}

	failed := gauge(MetricFeedFailed, "Advisory feeds that could not be used in the last scan.")
	for _, f := range doc.FeedFailures {
		failed.Metric = append(failed.Metric, sample(1, "device", device, "source", f.Source))
	}

	fsUsed := gauge(MetricFilesystemUsed, "Filesystem usage percentage.")
	for _, fs := range in.Filesystems {
		fsUsed.Metric = append(fsUsed.Metric, sample(fs.UsedPercent,
			"device", device, "mountpoint", fs.Mountpoint, "fstype", fs.FSType))
	}

	// Zero core or memory counts mean the figures could not be read
	cpuUsage := gauge(MetricCPUUsage, "CPU utilisation sampled during the last scan.")
	if in.Resources.CPUCores > 0 {
		cpuUsage.Metric = append(cpuUsage.Metric, sample(in.Resources.CPUUsagePercent, "device", device))
	}
	memUsed := gauge(MetricMemoryUsed, "Memory usage percentage at scan time.")
	if in.Resources.MemoryTotal > 0 {
		memUsed.Metric = append(memUsed.Metric, sample(in.Resources.MemoryUsedPercent, "device", device))
	}

	families := []*dto.MetricFamily{ts, dur, portOpen, open, software, procs, accounts, security, vulns, failed, fsUsed, cpuUsage, memUsed}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	return families
}

func statusValue(status string) float64 {
	switch status {
	case "Enabled":
		return 1
	case "Disabled":
		return 0
	default:
		return -1
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode renders families in the text exposition format. Families without
// samples are left out.
func Encode(families []*dto.MetricFamily) ([]byte, error) {
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WriteTextfile writes the metrics for doc to path. The file is written to
// a temporary name and renamed so a scraper never reads a partial file.
func WriteTextfile(path string, doc *report.Document) error {
	data, err := Encode(Families(doc))
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating textfile directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hostscan-*.prom.tmp")
	if err != nil {
		return fmt.Errorf("creating temp textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("setting textfile permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing textfile %s: %w", path, err)
	}
	return nil
}
