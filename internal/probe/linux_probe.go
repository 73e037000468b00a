package probe

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"
)

type linuxProbe struct {
	runner     Runner
	logger     *zap.Logger
	passwdPath string
	readFile   func(string) ([]byte, error)
}

func newLinuxProbe(runner Runner, logger *zap.Logger) *linuxProbe {
	return &linuxProbe{
		runner:     runner,
		logger:     logger,
		passwdPath: "/etc/passwd",
		readFile:   os.ReadFile,
	}
}

func (p *linuxProbe) Name() string { return "linux" }

// InstalledSoftware queries dpkg, falling back to rpm on non-Debian systems
func (p *linuxProbe) InstalledSoftware(ctx context.Context) []Software {
	out, err := p.runner.Run(ctx, "dpkg-query", "-W", "-f=${binary:Package}\t${Version}\n")
	if err == nil {
		return parseTabSeparated(out, SourceDpkg)
	}
	if !errors.Is(err, ErrCommandNotFound) {
		p.logger.Warn("Failed to collect installed software", zap.String("tool", "dpkg-query"), zap.Error(err))
		return []Software{}
	}

	out, err = p.runner.Run(ctx, "rpm", "-qa", "--qf", "%{NAME}\t%{VERSION}\n")
	if err != nil {
		p.logger.Warn("Failed to collect installed software", zap.String("tool", "rpm"), zap.Error(err))
		return []Software{}
	}
	return parseTabSeparated(out, SourceRPM)
}

// FirewallStatus checks ufw, then firewalld
func (p *linuxProbe) FirewallStatus(ctx context.Context) Status {
	out, err := p.runner.Run(ctx, "ufw", "status")
	if err == nil {
		if status := parseUFWStatus(out); status != StatusUnknown {
			return status
		}
	} else {
		p.logger.Debug("ufw status unavailable", zap.Error(err))
	}
	return systemdUnitStatus(ctx, p.runner, p.logger, "firewalld")
}

// AntivirusStatus reports the ClamAV daemon state; hosts without it are Unknown
func (p *linuxProbe) AntivirusStatus(ctx context.Context) Status {
	return systemdUnitStatus(ctx, p.runner, p.logger, "clamav-daemon")
}

func (p *linuxProbe) UserAccounts(ctx context.Context) []UserAccount {
	return readPasswdAccounts(p.readFile, p.passwdPath, p.logger)
}

func readPasswdAccounts(readFile func(string) ([]byte, error), path string, logger *zap.Logger) []UserAccount {
	content, err := readFile(path)
	if err != nil {
		logger.Warn("Failed to collect user accounts", zap.String("path", path), zap.Error(err))
		return []UserAccount{}
	}
	return parsePasswd(string(content))
}
