// Package probe gathers the host facts that need platform-specific tooling:
// installed software, firewall and antivirus posture, and local user accounts.
//
// One variant exists per OS family. The variant is chosen once, by New, and
// every fact degrades to an empty list or StatusUnknown when the platform
// cannot answer.
package probe

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Status is a tri-state security setting
type Status string

const (
	StatusUnknown  Status = "Unknown"
	StatusEnabled  Status = "Enabled"
	StatusDisabled Status = "Disabled"
)

// String returns the display form, treating the zero value as Unknown
func (s Status) String() string {
	if s == "" {
		return string(StatusUnknown)
	}
	return string(s)
}

// Software is one installed package
type Software struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
}

// UserAccount is one local account
type UserAccount struct {
	Name string `json:"name" yaml:"name"`
}

// SecurityPosture is the firewall and antivirus state of the host
type SecurityPosture struct {
	Firewall  Status `json:"firewall" yaml:"firewall"`
	Antivirus Status `json:"antivirus" yaml:"antivirus"`
}

// Probe answers platform-specific questions about the host
type Probe interface {
	// Name identifies the variant ("linux", "windows", ...)
	Name() string
	InstalledSoftware(ctx context.Context) []Software
	FirewallStatus(ctx context.Context) Status
	AntivirusStatus(ctx context.Context) Status
	UserAccounts(ctx context.Context) []UserAccount
}

// New returns the variant for goos (normally runtime.GOOS)
func New(goos string, runner Runner, logger *zap.Logger) Probe {
	switch strings.ToLower(goos) {
	case "windows":
		return newWindowsProbe(runner, logger)
	case "linux":
		return newLinuxProbe(runner, logger)
	case "darwin":
		return newDarwinProbe(runner, logger)
	case "freebsd":
		return newFreeBSDProbe(runner, logger)
	default:
		logger.Warn("No platform probe for this OS, platform facts will be Unknown",
			zap.String("os", goos))
		return &unsupportedProbe{goos: goos}
	}
}

// Posture collects both security settings
func Posture(ctx context.Context, p Probe) SecurityPosture {
	return SecurityPosture{
		Firewall:  p.FirewallStatus(ctx),
		Antivirus: p.AntivirusStatus(ctx),
	}
}

// unsupportedProbe is used on platforms without a variant
type unsupportedProbe struct {
	goos string
}

func (p *unsupportedProbe) Name() string { return "unsupported (" + p.goos + ")" }

func (p *unsupportedProbe) InstalledSoftware(context.Context) []Software { return []Software{} }

func (p *unsupportedProbe) FirewallStatus(context.Context) Status { return StatusUnknown }

func (p *unsupportedProbe) AntivirusStatus(context.Context) Status { return StatusUnknown }

func (p *unsupportedProbe) UserAccounts(context.Context) []UserAccount { return []UserAccount{} }
