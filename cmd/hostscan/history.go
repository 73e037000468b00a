package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/hostscan/internal/report"
	"github.com/stone-age-io/hostscan/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past scans",
	Long: `Display a table of past scans kept in the local scan history.

Scans are listed newest-first. Use --limit to cap the number of rows shown
(default: 10). The history is only recorded when store.enabled is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openHistory()
		if err != nil {
			return err
		}
		defer st.Close()

		docs, err := st.ListScans(limit)
		if err != nil {
			return fmt.Errorf("listing scans: %w", err)
		}
		if len(docs) == 0 {
			pterm.Info.Println("No scan history found")
			return nil
		}

		rows := pterm.TableData{{"Scan ID", "Completed", "Target", "Open Ports", "Software", "Vulnerabilities", "Feed Failures"}}
		for _, doc := range docs {
			rows = append(rows, []string{
				doc.ScanID,
				doc.CompletedAt.UTC().Format("2006-01-02 15:04"),
				doc.Target,
				fmt.Sprintf("%d/%d", doc.Summary.OpenPorts, doc.Summary.PortsProbed),
				strconv.Itoa(doc.Summary.Software),
				strconv.Itoa(doc.Summary.Vulnerabilities),
				strconv.Itoa(len(doc.FeedFailures)),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
		pterm.Printfln("Total: %d scan(s)", len(docs))
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Print a stored scan",
	Long: `Print a stored scan as the text report (default) or as the structured
document in JSON or YAML. "latest" selects the most recent scan.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		st, err := openHistory()
		if err != nil {
			return err
		}
		defer st.Close()

		var doc *report.Document
		if args[0] == "latest" {
			doc, err = st.LatestScan()
		} else {
			doc, err = st.GetScan(args[0])
		}
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("scan %s not found", args[0])
		}
		if err != nil {
			return err
		}

		if format == "text" {
			_, err = fmt.Fprint(os.Stdout, report.Compile(doc.Data).Text)
			return err
		}
		data, err := doc.Encode(format)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func openHistory() (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, fmt.Errorf("scan history is disabled; set store.enabled in the config")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of scans to display")
	historyShowCmd.Flags().String("format", "text", "output format: text, json or yaml")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}
