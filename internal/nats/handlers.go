package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/portscan"
	"github.com/stone-age-io/hostscan/internal/report"
	"github.com/stone-age-io/hostscan/internal/scan"
	"github.com/stone-age-io/hostscan/internal/stats"
	"github.com/stone-age-io/hostscan/internal/vulnfeed"
	"go.uber.org/zap"
)

// ScanRunner runs on-demand scans for the scan command
type ScanRunner interface {
	DefaultOptions() scan.Options
	RunScan(ctx context.Context, opts scan.Options) (*scan.Result, error)
}

// LatestReporter returns the most recent stored scan
type LatestReporter interface {
	LatestScan() (*report.Document, error)
}

// CommandHandlers manages all command subscriptions and handlers
type CommandHandlers struct {
	logger        *zap.Logger
	deviceID      string
	subjectPrefix string
	runner        ScanRunner
	latest        LatestReporter
	stats         *stats.Tracker
	scanTimeout   time.Duration
	now           func() time.Time
}

// NewCommandHandlers creates a new command handler manager. latest may be
// nil when no scan history is kept.
func NewCommandHandlers(logger *zap.Logger, subjectPrefix, deviceID string, runner ScanRunner, latest LatestReporter, tracker *stats.Tracker, scanTimeout time.Duration) *CommandHandlers {
	return &CommandHandlers{
		logger:        logger,
		deviceID:      deviceID,
		subjectPrefix: subjectPrefix,
		runner:        runner,
		latest:        latest,
		stats:         tracker,
		scanTimeout:   scanTimeout,
		now:           time.Now,
	}
}

func (h *CommandHandlers) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

// handleWithRecovery turns a response builder into a message handler that
// replies with the JSON result. A panic is logged and answered with an
// error response instead of crashing the agent.
func (h *CommandHandlers) handleWithRecovery(name string, handler func(data []byte) any) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				h.stats.RecordCommandError(fmt.Errorf("%s handler panicked: %v", name, r))
				h.respond(msg, errorResponse{
					Status:    "error",
					Error:     fmt.Sprintf("Internal error: handler panicked: %v", r),
					Timestamp: h.timestamp(),
				})
			}
		}()

		h.respond(msg, handler(msg.Data))
	}
}

func (h *CommandHandlers) respond(msg *nats.Msg, response any) {
	responseBytes, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("Failed to encode response", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if err := msg.Respond(responseBytes); err != nil {
		h.logger.Warn("Failed to send response", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// SubscribeAll subscribes to all command subjects for this device
func (h *CommandHandlers) SubscribeAll(client *Client) error {
	commands := []struct {
		name    string
		handler func([]byte) any
	}{
		{"ping", h.handlePing},
		{"scan", h.handleScan},
		{"latest", h.handleLatest},
		{"health", h.handleHealth},
	}
	for _, c := range commands {
		subject := Subject(h.subjectPrefix, h.deviceID, "cmd", c.name)
		if _, err := client.Subscribe(subject, h.handleWithRecovery(c.name, c.handler)); err != nil {
			return err
		}
	}
	return nil
}

// Response structures

type pingResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// scanRequest overrides the configured scan options; zero fields keep the
// configured value
type scanRequest struct {
	Target      string `json:"target"`
	Ports       string `json:"ports"`
	TimeoutMS   int    `json:"timeout_ms"`
	NoFeeds     bool   `json:"no_feeds"`
	IncludeText bool   `json:"include_text"`
}

type scanResponse struct {
	Status       string             `json:"status"`
	ScanID       string             `json:"scan_id,omitempty"`
	Target       string             `json:"target,omitempty"`
	Summary      *report.Summary    `json:"summary,omitempty"`
	FeedFailures []vulnfeed.Failure `json:"feed_failures,omitempty"`
	StageErrors  map[string]string  `json:"stage_errors,omitempty"`
	Report       string             `json:"report,omitempty"`
	Error        string             `json:"error,omitempty"`
	Timestamp    string             `json:"timestamp"`
}

type latestResponse struct {
	Status    string           `json:"status"`
	Scan      *report.Document `json:"scan,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp"`
}

type healthResponse struct {
	Status       string              `json:"status"`
	AgentMetrics *stats.AgentMetrics `json:"agent_metrics"`
	ScanMetrics  *stats.ScanMetrics  `json:"scan_metrics"`
	Timestamp    string              `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (h *CommandHandlers) handlePing(_ []byte) any {
	h.logger.Debug("Received ping command")
	return pingResponse{
		Status:    "pong",
		Timestamp: h.timestamp(),
	}
}

func (h *CommandHandlers) scanError(err error) scanResponse {
	h.stats.RecordCommandError(err)
	return scanResponse{
		Status:    "error",
		Error:     err.Error(),
		Timestamp: h.timestamp(),
	}
}

// applyScanRequest merges a request into the default options
func applyScanRequest(opts scan.Options, data []byte) (scan.Options, scanRequest, error) {
	var req scanRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return opts, req, fmt.Errorf("invalid request format: %w", err)
		}
	}
	if req.Target != "" {
		opts.Target = req.Target
	}
	if req.Ports != "" {
		ports, err := portscan.ParsePorts(req.Ports)
		if err != nil {
			return opts, req, err
		}
		opts.Ports = ports
	}
	if req.TimeoutMS != 0 {
		// anything past the cap is rejected before it can overflow a Duration
		timeout := config.MaxScanTimeout + time.Millisecond
		if req.TimeoutMS <= int(config.MaxScanTimeout/time.Millisecond) {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		if err := config.CheckScanTimeout(timeout); err != nil {
			return opts, req, fmt.Errorf("timeout_ms %w", err)
		}
		opts.Timeout = timeout
	}
	if req.NoFeeds {
		opts.SkipFeeds = true
	}
	return opts, req, nil
}

// handleScan runs a scan and replies with its summary. The result is also
// delivered to the configured outputs by the runner.
func (h *CommandHandlers) handleScan(data []byte) any {
	opts, req, err := applyScanRequest(h.runner.DefaultOptions(), data)
	if err != nil {
		h.logger.Error("Failed to parse scan request", zap.Error(err))
		return h.scanError(err)
	}

	h.logger.Info("Running on-demand scan",
		zap.String("target", opts.Target),
		zap.Int("ports", len(opts.Ports)))

	ctx, cancel := context.WithTimeout(context.Background(), h.scanTimeout)
	defer cancel()

	res, err := h.runner.RunScan(ctx, opts)
	if err != nil {
		h.logger.Error("On-demand scan failed", zap.Error(err))
		return h.scanError(err)
	}
	h.stats.RecordCommandSuccess()

	doc := res.Document
	resp := scanResponse{
		Status:       "success",
		ScanID:       doc.ScanID,
		Target:       doc.Target,
		Summary:      &doc.Summary,
		FeedFailures: doc.FeedFailures,
		StageErrors:  doc.StageErrors,
		Timestamp:    h.timestamp(),
	}
	if req.IncludeText {
		resp.Report = res.Report.Text
	}
	return resp
}

func (h *CommandHandlers) handleLatest(_ []byte) any {
	if h.latest == nil {
		err := errors.New("scan history is not enabled")
		h.stats.RecordCommandError(err)
		return latestResponse{Status: "error", Error: err.Error(), Timestamp: h.timestamp()}
	}
	doc, err := h.latest.LatestScan()
	if err != nil {
		h.stats.RecordCommandError(err)
		return latestResponse{Status: "error", Error: err.Error(), Timestamp: h.timestamp()}
	}
	h.stats.RecordCommandSuccess()
	return latestResponse{Status: "success", Scan: doc, Timestamp: h.timestamp()}
}

func (h *CommandHandlers) handleHealth(_ []byte) any {
	h.logger.Debug("Received health check command")
	metrics := h.stats.AgentMetrics()
	return healthResponse{
		Status:       "healthy",
		AgentMetrics: metrics,
		ScanMetrics:  h.stats.ScanMetrics(),
		Timestamp:    h.timestamp(),
	}
}
