package scan

import (
	"errors"
	"fmt"
	"io"

	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/metrics"
	"github.com/stone-age-io/hostscan/internal/report"
	"go.uber.org/zap"
)

// History stores finished scans
type History interface {
	SaveScan(doc *report.Document, limit int) error
}

// Publisher sends finished scans to a remote consumer
type Publisher interface {
	PublishReport(doc *report.Document) error
}

// Outputs is where a finished scan goes. Empty paths and nil sinks are
// skipped.
type Outputs struct {
	ReportPath     string
	Console        io.Writer
	DocumentPath   string
	DocumentFormat string
	TextfilePath   string
	History        History
	HistoryLimit   int
	Publisher      Publisher
}

// OutputsFromConfig maps the report and metrics configuration. History and
// Publisher are attached by the caller when available.
func OutputsFromConfig(cfg *config.Config, console io.Writer) Outputs {
	out := Outputs{
		ReportPath:     cfg.Report.Output,
		DocumentPath:   cfg.Report.Document,
		DocumentFormat: cfg.Report.DocumentFormat,
		HistoryLimit:   cfg.Store.HistoryLimit,
	}
	if cfg.Report.Print {
		out.Console = console
	}
	if cfg.Metrics.Enabled {
		out.TextfilePath = cfg.Metrics.TextfilePath
	}
	return out
}

// Deliver writes the result to every configured output. Each output is
// attempted even if an earlier one failed; the failures are joined.
func (o Outputs) Deliver(res *Result, logger *zap.Logger) error {
	var errs []error
	fail := func(what string, err error) {
		logger.Error("Failed to deliver scan output", zap.String("output", what), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", what, err))
	}

	if o.ReportPath != "" {
		if err := res.Report.WriteFile(o.ReportPath); err != nil {
			fail("report", err)
		} else {
			logger.Info("Report written", zap.String("path", o.ReportPath))
		}
	}

	if o.Console != nil {
		if _, err := io.WriteString(o.Console, res.Report.Text); err != nil {
			fail("console", err)
		}
	}

	if o.DocumentPath != "" {
		if err := res.Document.WriteFile(o.DocumentPath, o.DocumentFormat); err != nil {
			fail("document", err)
		}
	}

	if o.TextfilePath != "" {
		if err := metrics.WriteTextfile(o.TextfilePath, res.Document); err != nil {
			fail("metrics", err)
		}
	}

	if o.History != nil {
		if err := o.History.SaveScan(res.Document, o.HistoryLimit); err != nil {
			fail("history", err)
		}
	}

	if o.Publisher != nil {
		if err := o.Publisher.PublishReport(res.Document); err != nil {
			fail("publish", err)
		}
	}

	return errors.Join(errs...)
}
