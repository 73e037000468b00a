package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/portscan"
	"github.com/stone-age-io/hostscan/internal/report"
	"github.com/stone-age-io/hostscan/internal/scan"
	"github.com/stone-age-io/hostscan/internal/store"
	"github.com/stone-age-io/hostscan/internal/vulnfeed"
	"go.uber.org/zap"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan this host once and write the report",
	Long: `Run a single scan of the local host and write the text report.

Port probing sends raw TCP SYN packets and needs root (or CAP_NET_RAW on
Linux). Without that privilege the scan stops with an error; pass
--method connect to use full TCP connects instead.

Flags override the corresponding config file values for this run only.`,
	Example: `  sudo hostscan scan
  sudo hostscan scan --target 192.168.1.10 --ports 22,80,443,8000-8100
  hostscan scan --method connect --no-feeds --output /tmp/report.txt`,
	RunE: runScan,
}

func addScanFlags(f *pflag.FlagSet) {
	f.String("target", "", "IPv4 address or hostname to probe (default from config: 127.0.0.1)")
	f.String("ports", "", `ports to probe, e.g. "22,80,443,8000-8100"`)
	f.Duration("timeout", 0, "per-port probe timeout")
	f.Int("workers", 0, "concurrent port probes")
	f.String("method", "", "probe method: syn or connect")
	f.StringP("output", "o", "", "report file path")
	f.String("document", "", "also write the structured scan document to this path")
	f.String("format", "", "document format: json or yaml")
	f.Bool("no-feeds", false, "skip vulnerability feed correlation")
	f.Bool("no-print", false, "do not print the report to stdout")
	f.Bool("no-summary", false, "do not print the summary table")
}

func init() {
	addScanFlags(scanCmd.Flags())
	rootCmd.AddCommand(scanCmd)
}

// applyScanFlags overrides cfg with the flags the user set
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) ([]uint16, error) {
	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Scan.Target, _ = f.GetString("target")
	}
	if f.Changed("timeout") {
		cfg.Scan.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("workers") {
		cfg.Scan.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("method") {
		cfg.Scan.Method, _ = f.GetString("method")
	}
	if f.Changed("output") {
		cfg.Report.Output, _ = f.GetString("output")
	}
	if f.Changed("document") {
		cfg.Report.Document, _ = f.GetString("document")
	}
	if f.Changed("format") {
		cfg.Report.DocumentFormat, _ = f.GetString("format")
	}
	if noFeeds, _ := f.GetBool("no-feeds"); noFeeds {
		cfg.Feeds.Enabled = false
	}
	if noPrint, _ := f.GetBool("no-print"); noPrint {
		cfg.Report.Print = false
	}

	if f.Changed("ports") {
		expr, _ := f.GetString("ports")
		return portscan.ParsePorts(expr)
	}
	return portscan.PortsFromInts(cfg.Scan.Ports), nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ports, err := applyScanFlags(cmd, cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		st    *store.Store
		cache vulnfeed.Cache
	)
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening scan history: %w", err)
		}
		defer st.Close()
		cache = st
	}

	pipeline, err := scan.NewFromConfig(cfg, cache, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scan.OptionsFromConfig(cfg)
	opts.Ports = ports

	spinner, _ := pterm.DefaultSpinner.WithWriter(os.Stderr).Start(fmt.Sprintf("Scanning %s (%d ports)", opts.Target, len(ports)))
	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		if spinner != nil {
			spinner.Fail("Scan failed")
		}
		if scan.IsPrivilegeError(err) {
			return fmt.Errorf("%w\nSYN scanning needs root or CAP_NET_RAW; rerun with sudo or use --method connect", err)
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("Scan complete in %s", res.Document.Duration().Round(time.Millisecond)))
	}

	outputs := scan.OutputsFromConfig(cfg, os.Stdout)
	if st != nil {
		outputs.History = st
	}
	deliverErr := outputs.Deliver(res, logger)

	if noSummary, _ := cmd.Flags().GetBool("no-summary"); !noSummary {
		printSummary(res.Document)
	}
	if cfg.Report.Output != "" {
		pterm.Info.WithWriter(os.Stderr).Printfln("Report written to %s", cfg.Report.Output)
	}

	if deliverErr != nil {
		logger.Error("Some outputs failed", zap.Error(deliverErr))
		return deliverErr
	}
	return nil
}

func printSummary(doc *report.Document) {
	s := doc.Summary
	rows := pterm.TableData{
		{"Item", "Value"},
		{"Scan ID", doc.ScanID},
		{"Target", doc.Target},
		{"Firewall", s.Firewall},
		{"Antivirus", s.Antivirus},
		{"Open ports", fmt.Sprintf("%d of %d", s.OpenPorts, s.PortsProbed)},
		{"Installed software", strconv.Itoa(s.Software)},
		{"Running processes", strconv.Itoa(s.Processes)},
		{"User accounts", strconv.Itoa(s.Accounts)},
		{"Vulnerability matches", strconv.Itoa(s.Vulnerabilities)},
	}
	for _, f := range doc.FeedFailures {
		rows = append(rows, []string{"Feed unavailable", f.Source + ": " + f.Error})
	}
	for stage, msg := range doc.StageErrors {
		rows = append(rows, []string{"Incomplete: " + stage, msg})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithWriter(os.Stderr).WithData(rows).Render(); err != nil {
		logger.Warn("Failed to render summary", zap.Error(err))
	}
}
