package probe

import (
	"context"

	"go.uber.org/zap"
)

const registrySoftwareScript = `Get-ItemProperty HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*, ` +
	`HKLM:\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\* -ErrorAction SilentlyContinue | ` +
	`Where-Object { $_.DisplayName } | Select-Object DisplayName, DisplayVersion | ConvertTo-Json -Compress`

// defenderService is the Microsoft Defender antivirus service
const defenderService = "WinDefend"

type windowsProbe struct {
	runner Runner
	logger *zap.Logger
	// serviceStatus reads a service's state from the service manager
	serviceStatus func(name string) (Status, error)
}

func newWindowsProbe(runner Runner, logger *zap.Logger) *windowsProbe {
	return &windowsProbe{runner: runner, logger: logger, serviceStatus: windowsServiceStatus}
}

func (p *windowsProbe) Name() string { return "windows" }

func (p *windowsProbe) powershell(ctx context.Context, script string) (string, error) {
	return p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// InstalledSoftware reads the Uninstall registry keys, falling back to wmic
func (p *windowsProbe) InstalledSoftware(ctx context.Context) []Software {
	out, err := p.powershell(ctx, registrySoftwareScript)
	if err == nil {
		software, parseErr := parseRegistryJSON(out)
		if parseErr == nil {
			return software
		}
		err = parseErr
	}
	p.logger.Debug("Registry software query failed, trying wmic", zap.Error(err))

	out, err = p.runner.Run(ctx, "wmic", "product", "get", "name,version")
	if err != nil {
		p.logger.Warn("Failed to collect installed software", zap.String("tool", "wmic"), zap.Error(err))
		return []Software{}
	}
	return parseWmicProducts(out)
}

func (p *windowsProbe) FirewallStatus(ctx context.Context) Status {
	out, err := p.runner.Run(ctx, "netsh", "advfirewall", "show", "allprofiles")
	if err != nil {
		p.logger.Debug("netsh unavailable", zap.Error(err))
		return StatusUnknown
	}
	return parseNetshFirewall(out)
}

// AntivirusStatus reports Microsoft Defender real-time protection. When
// PowerShell is unavailable the Defender service state is used instead.
func (p *windowsProbe) AntivirusStatus(ctx context.Context) Status {
	out, err := p.powershell(ctx, "Get-MpComputerStatus")
	if err == nil {
		return parseDefenderStatus(out)
	}
	p.logger.Debug("Get-MpComputerStatus unavailable, querying service manager", zap.Error(err))

	status, err := p.serviceStatus(defenderService)
	if err != nil {
		p.logger.Debug("Failed to query Defender service", zap.Error(err))
		return StatusUnknown
	}
	return status
}

func (p *windowsProbe) UserAccounts(ctx context.Context) []UserAccount {
	out, err := p.runner.Run(ctx, "net", "user")
	if err != nil {
		p.logger.Warn("Failed to collect user accounts", zap.String("tool", "net"), zap.Error(err))
		return []UserAccount{}
	}
	return parseNetUser(out)
}
