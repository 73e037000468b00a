//go:build windows

package probe

import (
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// windowsServiceStatus asks the Service Control Manager whether a service
// is running
func windowsServiceStatus(name string) (Status, error) {
	m, err := mgr.Connect()
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to open service %s: %w", name, err)
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to query service %s: %w", name, err)
	}
	return mapServiceState(status.State), nil
}

func mapServiceState(state svc.State) Status {
	switch state {
	case svc.Running, svc.StartPending, svc.ContinuePending:
		return StatusEnabled
	case svc.Stopped, svc.StopPending, svc.Paused, svc.PausePending:
		return StatusDisabled
	default:
		return StatusUnknown
	}
}
