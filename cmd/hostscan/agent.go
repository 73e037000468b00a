package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/hostscan/internal/agent"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run continuously: scheduled scans, NATS commands and publishing",
	Long: `Run hostscan in the foreground as an agent. Scans run on the configured
schedule (the first one immediately); when NATS is enabled, reports are
published to <subject_prefix>.<device_id>.report and commands are answered
on <subject_prefix>.<device_id>.cmd.{ping,scan,latest,health}.

Edits to the config file are applied without a restart where possible.
Use "hostscan service install" to run the agent under the OS service manager.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := agent.New(resolveConfigPath(), version, os.Stdout)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
