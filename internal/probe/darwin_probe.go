package probe

import (
	"context"

	"go.uber.org/zap"
)

const socketFilterFW = "/usr/libexec/ApplicationFirewall/socketfilterfw"

type darwinProbe struct {
	runner Runner
	logger *zap.Logger
}

func newDarwinProbe(runner Runner, logger *zap.Logger) *darwinProbe {
	return &darwinProbe{runner: runner, logger: logger}
}

func (p *darwinProbe) Name() string { return "darwin" }

// InstalledSoftware lists Homebrew packages
func (p *darwinProbe) InstalledSoftware(ctx context.Context) []Software {
	out, err := p.runner.Run(ctx, "brew", "list", "--versions")
	if err != nil {
		p.logger.Warn("Failed to collect installed software", zap.String("tool", "brew"), zap.Error(err))
		return []Software{}
	}
	return parseBrewList(out)
}

func (p *darwinProbe) FirewallStatus(ctx context.Context) Status {
	out, err := p.runner.Run(ctx, socketFilterFW, "--getglobalstate")
	if err != nil {
		p.logger.Debug("Application firewall state unavailable", zap.Error(err))
		return StatusUnknown
	}
	return parseSocketFilterFW(out)
}

func (p *darwinProbe) AntivirusStatus(context.Context) Status { return StatusUnknown }

func (p *darwinProbe) UserAccounts(ctx context.Context) []UserAccount {
	out, err := p.runner.Run(ctx, "dscl", ".", "list", "/Users")
	if err != nil {
		p.logger.Warn("Failed to collect user accounts", zap.String("tool", "dscl"), zap.Error(err))
		return []UserAccount{}
	}
	return parseDsclUsers(out)
}
