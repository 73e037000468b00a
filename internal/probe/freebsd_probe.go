package probe

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type freebsdProbe struct {
	runner     Runner
	logger     *zap.Logger
	passwdPath string
	readFile   func(string) ([]byte, error)
}

func newFreeBSDProbe(runner Runner, logger *zap.Logger) *freebsdProbe {
	return &freebsdProbe{
		runner:     runner,
		logger:     logger,
		passwdPath: "/etc/passwd",
		readFile:   os.ReadFile,
	}
}

func (p *freebsdProbe) Name() string { return "freebsd" }

func (p *freebsdProbe) InstalledSoftware(ctx context.Context) []Software {
	out, err := p.runner.Run(ctx, "pkg", "query", "%n\t%v")
	if err != nil {
		p.logger.Warn("Failed to collect installed software", zap.String("tool", "pkg"), zap.Error(err))
		return []Software{}
	}
	return parseTabSeparated(out, SourcePkg)
}

// FirewallStatus reports whether pf is enabled
func (p *freebsdProbe) FirewallStatus(ctx context.Context) Status {
	out, err := p.runner.Run(ctx, "pfctl", "-s", "info")
	if err != nil {
		p.logger.Debug("pfctl unavailable", zap.Error(err))
		return StatusUnknown
	}
	return parsePFInfo(out)
}

func (p *freebsdProbe) AntivirusStatus(context.Context) Status { return StatusUnknown }

func (p *freebsdProbe) UserAccounts(ctx context.Context) []UserAccount {
	return readPasswdAccounts(p.readFile, p.passwdPath, p.logger)
}
