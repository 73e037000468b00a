package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
)

// ServiceName is the registered OS service name
const ServiceName = "hostscan"

// Service control actions
var ServiceActions = []string{"install", "uninstall", "start", "stop", "restart"}

const stopTimeout = 60 * time.Second

// program adapts the agent to the service manager's Start/Stop callbacks
type program struct {
	configPath string
	version    string

	cancel context.CancelFunc
	done   chan error
}

// Start must not block: the agent is created synchronously so
// configuration errors surface to the service manager, then run in the
// background.
func (p *program) Start(s service.Service) error {
	a, err := New(p.configPath, p.version, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- a.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("agent did not stop within %v", stopTimeout)
	}
}

// ServiceConfig describes the hostscan service. The service runs
// "hostscan service run --config <path>".
func ServiceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "HostScan Agent",
		Description: "Periodic host inventory, port and vulnerability scanning.",
		Arguments:   []string{"service", "run", "--config", configPath},
	}
}

// NewService builds the OS service for the agent
func NewService(configPath, version string) (service.Service, error) {
	prg := &program{configPath: configPath, version: version}
	s, err := service.New(prg, ServiceConfig(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// ControlService performs one of ServiceActions
func ControlService(configPath, version, action string) error {
	s, err := NewService(configPath, version)
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("service %s failed: %w", action, err)
	}
	return nil
}

// RunService runs the agent under the service manager until it is stopped
func RunService(configPath, version string) error {
	s, err := NewService(configPath, version)
	if err != nil {
		return err
	}
	return s.Run()
}
