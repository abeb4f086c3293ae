// internal/report/report.go
//
// Run report export. The format follows the file extension: .yaml and .yml
// produce YAML, anything else JSON.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/probe"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding for a report.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is the serialised form of a hunt result.
type Document struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Status      string         `json:"status" yaml:"status"`
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	URL         string         `json:"url,omitempty" yaml:"url,omitempty"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	Misses      map[string]int `json:"misses,omitempty" yaml:"misses,omitempty"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	Elapsed     string         `json:"elapsed" yaml:"elapsed"`
	SecretField string         `json:"secret_field" yaml:"secret_field"`
	Secret      string         `json:"secret,omitempty" yaml:"secret,omitempty"`
	Body        interface{}    `json:"body,omitempty" yaml:"body,omitempty"`
}

// FormatFor picks the report format from path's extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// NewDocument converts result into a Document. A body that is not valid
// JSON is kept as a string.
func NewDocument(result *probe.Result, secretField string) Document {
	doc := Document{
		RunID:       result.RunID,
		Status:      string(result.Status),
		ID:          result.ID,
		URL:         result.URL,
		Attempts:    result.Attempts,
		StartedAt:   result.Started.UTC(),
		Elapsed:     result.Elapsed.Round(time.Millisecond).String(),
		SecretField: secretField,
	}

	if len(result.Misses) > 0 {
		doc.Misses = make(map[string]int, len(result.Misses))
		for kind, n := range result.Misses {
			doc.Misses[string(kind)] = n
		}
	}

	if result.Found() {
		doc.Secret = result.Secret(secretField)
		if len(result.Body) > 0 {
			var body interface{}
			if err := json.Unmarshal(result.Body, &body); err == nil {
				doc.Body = body
			} else {
				doc.Body = string(result.Body)
			}
		}
	}

	return doc
}

// Marshal encodes doc in format.
func Marshal(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Write saves result to path.
func Write(ctx context.Context, path string, result *probe.Result, secretField string) error {
	log := logger.FromContext(ctx).WithComponent("report")

	if result == nil {
		return fmt.Errorf("no result to report")
	}

	format := FormatFor(path)
	data, err := Marshal(NewDocument(result, secretField), format)
	if err != nil {
		log.Errorw("Failed to format report", "error", err, "format", format)
		return fmt.Errorf("failed to format report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Errorw("Failed to write report file", "error", err, "file", path)
		return fmt.Errorf("failed to write report: %w", err)
	}

	log.Infow("Report written",
		"file", path,
		"format", format,
		"status", result.Status,
		"data_size_bytes", len(data),
	)
	return nil
}
