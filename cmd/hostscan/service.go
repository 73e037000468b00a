package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/hostscan/internal/agent"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the hostscan agent as an OS service",
	Long: `Install, remove, start or stop the hostscan agent as a system service
(systemd, launchd, Windows service manager or rc.d). The service runs the
agent with the config file given by --config, resolved to an absolute path.`,
}

func newServiceActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("%s the hostscan service", action),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absConfigPath()
			if err != nil {
				return err
			}
			if err := agent.ControlService(path, version, action); err != nil {
				return err
			}
			pterm.Success.Printfln("Service %s: %s done", agent.ServiceName, action)
			return nil
		},
	}
}

var serviceRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the agent under the service manager",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := absConfigPath()
		if err != nil {
			return err
		}
		return agent.RunService(path, version)
	},
}

func init() {
	for _, action := range agent.ServiceActions {
		serviceCmd.AddCommand(newServiceActionCmd(action))
	}
	serviceCmd.AddCommand(serviceRunCmd)
	rootCmd.AddCommand(serviceCmd)
}
