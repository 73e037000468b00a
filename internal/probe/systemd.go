package probe

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// unitState is the subset of `systemctl show` output we care about
type unitState struct {
	ActiveState string
	SubState    string
	LoadState   string
}

// parseSystemdShow parses `systemctl show <unit> --property=...` key=value output
func parseSystemdShow(out string) unitState {
	var state unitState
	for _, line := range lines(out) {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ActiveState":
			state.ActiveState = strings.TrimSpace(value)
		case "SubState":
			state.SubState = strings.TrimSpace(value)
		case "LoadState":
			state.LoadState = strings.TrimSpace(value)
		}
	}
	return state
}

// mapSystemdState converts a unit's state to a security setting status
func mapSystemdState(state unitState) Status {
	if state.LoadState == "not-found" || state.LoadState == "" {
		return StatusUnknown
	}
	switch state.ActiveState {
	case "active", "activating", "reloading":
		return StatusEnabled
	case "inactive", "deactivating", "failed":
		return StatusDisabled
	default:
		return StatusUnknown
	}
}

// systemdUnitStatus asks systemd whether unit is running
func systemdUnitStatus(ctx context.Context, runner Runner, logger *zap.Logger, unit string) Status {
	out, err := runner.Run(ctx, "systemctl", "show", unit, "--property=ActiveState,SubState,LoadState")
	if err != nil {
		logger.Debug("Failed to query systemd unit",
			zap.String("unit", unit),
			zap.Error(err))
		return StatusUnknown
	}
	return mapSystemdState(parseSystemdShow(out))
}
