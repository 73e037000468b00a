// Package report turns the collected scan data into the fixed-format text
// report and its machine-readable counterparts.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/stone-age-io/hostscan/internal/inventory"
	"github.com/stone-age-io/hostscan/internal/portscan"
	"github.com/stone-age-io/hostscan/internal/probe"
	"github.com/stone-age-io/hostscan/internal/utils"
	"github.com/stone-age-io/hostscan/internal/vulnfeed"
)

const (
	title          = "Device Scan Report"
	sectionRuleLen = 20
)

// Section names, in report order
const (
	SectionSystem      = "System Information"
	SectionNetwork     = "Network Configuration"
	SectionPorts       = "Open Ports"
	SectionSoftware    = "Installed Software"
	SectionProcesses   = "Running Processes"
	SectionSecurity    = "Security Settings"
	SectionAccounts    = "User Accounts"
	SectionFilesystems = "File System Information"
	SectionVulnerable  = "Vulnerable Software"
)

const overview = "This report provides a comprehensive overview of the device's security and overall configuration. " +
	"It includes details about the operating system, network configuration, open ports, installed software, " +
	"running processes, security settings, user accounts, and file system information."

// recommendations is the static hardening advice printed in every report
var recommendations = []string{
	"Ensure your firewall is enabled and properly configured to block unauthorized access.",
	"Keep your antivirus software up to date and perform regular scans to detect and remove malware.",
	"Review the list of vulnerable software and update or replace any software with known vulnerabilities.",
	"Regularly update your operating system and installed software to the latest versions to mitigate security risks.",
	"Limit the number of open ports to only those necessary for your applications and services.",
	"Monitor running processes and terminate any suspicious or unauthorized processes.",
	"Review user accounts and remove any unnecessary or inactive accounts to reduce potential attack vectors.",
}

// Input is everything a report is assembled from. Any collection may be
// empty; the zero Input is a valid input.
type Input struct {
	Identity        inventory.HostIdentity       `json:"system" yaml:"system"`
	Interfaces      []inventory.NetworkInterface `json:"network" yaml:"network"`
	Ports           []portscan.Result            `json:"ports" yaml:"ports"`
	Software        []probe.Software             `json:"software" yaml:"software"`
	Processes       []inventory.Process          `json:"processes" yaml:"processes"`
	Security        probe.SecurityPosture        `json:"security" yaml:"security"`
	Accounts        []probe.UserAccount          `json:"accounts" yaml:"accounts"`
	Filesystems     []inventory.Filesystem       `json:"filesystems" yaml:"filesystems"`
	Resources       inventory.Resources          `json:"resources" yaml:"resources"`
	Vulnerabilities []vulnfeed.Match             `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Summary holds the headline numbers of a report
type Summary struct {
	Firewall        string `json:"firewall" yaml:"firewall"`
	Antivirus       string `json:"antivirus" yaml:"antivirus"`
	Interfaces      int    `json:"interfaces" yaml:"interfaces"`
	PortsProbed     int    `json:"ports_probed" yaml:"ports_probed"`
	OpenPorts       int    `json:"open_ports" yaml:"open_ports"`
	Software        int    `json:"software" yaml:"software"`
	Processes       int    `json:"processes" yaml:"processes"`
	Accounts        int    `json:"accounts" yaml:"accounts"`
	Filesystems     int    `json:"filesystems" yaml:"filesystems"`
	Vulnerabilities int    `json:"vulnerabilities" yaml:"vulnerabilities"`
}

// Summarize counts the input
func Summarize(in Input) Summary {
	return Summary{
		Firewall:        in.Security.Firewall.String(),
		Antivirus:       in.Security.Antivirus.String(),
		Interfaces:      len(in.Interfaces),
		PortsProbed:     len(in.Ports),
		OpenPorts:       len(portscan.OpenPorts(in.Ports)),
		Software:        len(in.Software),
		Processes:       len(in.Processes),
		Accounts:        len(in.Accounts),
		Filesystems:     len(in.Filesystems),
		Vulnerabilities: len(in.Vulnerabilities),
	}
}

// Report is a compiled text report
type Report struct {
	Text            string
	Summary         Summary
	Recommendations []string
}

// Compile renders the report. It never fails: every section header is
// always written, and empty collections leave their section empty.
func Compile(in Input) *Report {
	var b strings.Builder

	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", sectionRuleLen) + "\n\n")

	b.WriteString("Summary:\n")
	b.WriteString(overview + "\n\n")

	b.WriteString("Security Overview:\n")
	fmt.Fprintf(&b, "Firewall: %s\n", in.Security.Firewall)
	fmt.Fprintf(&b, "Antivirus: %s\n", in.Security.Antivirus)
	fmt.Fprintf(&b, "Vulnerable Software: %d items found\n\n", len(in.Vulnerabilities))

	b.WriteString("Recommendations:\n")
	for i, rec := range recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	b.WriteString("\n")

	id := in.Identity
	section(&b, SectionSystem, []string{
		"OS: " + orUnknown(id.OSName),
		"OS Version: " + orUnknown(id.OSVersion),
		"Hostname: " + orUnknown(id.Hostname),
		"IP Address: " + orUnknown(id.PrimaryIP),
	})

	lines := make([]string, 0, len(in.Interfaces))
	for _, nic := range in.Interfaces {
		lines = append(lines, fmt.Sprintf("Interface: %s, IP Address: %s, MAC Address: %s",
			nic.Name, nic.IPv4, orUnknown(nic.MAC)))
	}
	section(&b, SectionNetwork, lines)

	lines = lines[:0]
	for _, p := range portscan.OpenPorts(in.Ports) {
		lines = append(lines, fmt.Sprintf("Port: %d, State: %s", p.Port, p.State))
	}
	section(&b, SectionPorts, lines)

	lines = lines[:0]
	for _, sw := range in.Software {
		lines = append(lines, fmt.Sprintf("Name: %s, Version: %s", sw.Name, orUnknown(sw.Version)))
	}
	section(&b, SectionSoftware, lines)

	lines = lines[:0]
	for _, p := range in.Processes {
		lines = append(lines, fmt.Sprintf("PID: %d, Name: %s, User: %s", p.PID, p.Name, orUnknown(p.User)))
	}
	section(&b, SectionProcesses, lines)

	section(&b, SectionSecurity, []string{
		"Firewall: " + in.Security.Firewall.String(),
		"Antivirus: " + in.Security.Antivirus.String(),
	})

	lines = lines[:0]
	for _, a := range in.Accounts {
		lines = append(lines, a.Name)
	}
	section(&b, SectionAccounts, lines)

	lines = lines[:0]
	for _, fs := range in.Filesystems {
		lines = append(lines, fmt.Sprintf("Device: %s, Mountpoint: %s, Type: %s, Total: %s, Used: %s, Free: %s, Usage: %.1f%%",
			fs.Device, fs.Mountpoint, fs.FSType,
			utils.FormatBytes(fs.Total), utils.FormatBytes(fs.Used), utils.FormatBytes(fs.Free),
			fs.UsedPercent))
	}
	section(&b, SectionFilesystems, lines)

	if len(in.Vulnerabilities) > 0 {
		lines = lines[:0]
		for _, v := range in.Vulnerabilities {
			lines = append(lines, fmt.Sprintf("Name: %s, Version: %s, Vulnerability: %s, Source: %s",
				v.Name, v.Version, v.Vulnerability, v.Source))
		}
		section(&b, SectionVulnerable, lines)
	}

	return &Report{
		Text:            b.String(),
		Summary:         Summarize(in),
		Recommendations: slices.Clone(recommendations),
	}
}

func section(b *strings.Builder, name string, lines []string) {
	b.WriteString(name + ":\n")
	b.WriteString(strings.Repeat("-", sectionRuleLen) + "\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return probe.StatusUnknown.String()
	}
	return s
}

// WriteFile writes the report text, creating parent directories
func (r *Report) WriteFile(path string) error {
	return writeFile(path, []byte(r.Text))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report to %s: %w", path, err)
	}
	return nil
}
