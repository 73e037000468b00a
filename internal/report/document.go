package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stone-age-io/hostscan/internal/vulnfeed"
	"gopkg.in/yaml.v3"
)

// Supported document formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the structured form of a scan, used for the JSON/YAML export,
// the scan history and NATS publishing
type Document struct {
	ScanID       string             `json:"scan_id" yaml:"scan_id"`
	DeviceID     string             `json:"device_id" yaml:"device_id"`
	Target       string             `json:"target" yaml:"target"`
	StartedAt    time.Time          `json:"started_at" yaml:"started_at"`
	CompletedAt  time.Time          `json:"completed_at" yaml:"completed_at"`
	Summary      Summary            `json:"summary" yaml:"summary"`
	Data         Input              `json:"data" yaml:"data"`
	FeedFailures []vulnfeed.Failure `json:"feed_failures,omitempty" yaml:"feed_failures,omitempty"`
	StageErrors  map[string]string  `json:"stage_errors,omitempty" yaml:"stage_errors,omitempty"`
}

// Encode serializes the document as json or yaml
func (d *Document) Encode(format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML:
		return yaml.Marshal(d)
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// WriteFile writes the encoded document, creating parent directories
func (d *Document) WriteFile(path, format string) error {
	data, err := d.Encode(format)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// Duration is how long the scan took
func (d *Document) Duration() time.Duration {
	if d.CompletedAt.Before(d.StartedAt) {
		return 0
	}
	return d.CompletedAt.Sub(d.StartedAt)
}
