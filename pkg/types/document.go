// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"image"
	"path/filepath"
	"strings"
	"time"
)

// ConversionStatus indicates the outcome of converting one document.
type ConversionStatus string

const (
	ConversionDone    ConversionStatus = "converted"
	ConversionSkipped ConversionStatus = "skipped"
	ConversionFailed  ConversionStatus = "failed"
)

// Document is one input PDF. BaseName keys every artifact derived from it.
type Document struct {
	// Path is the source path of the PDF.
	Path string `json:"path" yaml:"path"`

	// BaseName is the file name without its extension (e.g. "report" for
	// "scans/report.pdf").
	BaseName string `json:"base_name" yaml:"base_name"`
}

// NewDocument builds a Document from a source path.
func NewDocument(path string) Document {
	name := filepath.Base(path)
	return Document{
		Path:     path,
		BaseName: strings.TrimSuffix(name, filepath.Ext(name)),
	}
}

// ConversionResult is what the conversion engine returns for one document.
type ConversionResult struct {
	// Text is the converted document, valid UTF-8 once normalized.
	Text string

	// Extension names the text format, without a leading dot (e.g. "md").
	Extension string

	// Images maps image names, as chosen by the engine, to decoded images.
	Images map[string]image.Image

	// Metadata holds engine-reported facts, serialized as JSON.
	Metadata map[string]any
}

// OutputLayout lists the files written for one document.
type OutputLayout struct {
	Dir          string   `json:"dir" yaml:"dir"`
	TextPath     string   `json:"text_path" yaml:"text_path"`
	MetadataPath string   `json:"metadata_path" yaml:"metadata_path"`
	ImagePaths   []string `json:"image_paths,omitempty" yaml:"image_paths,omitempty"`
}

// RunInfo describes a batch run as recorded in the ledger.
type RunInfo struct {
	ID         string    `json:"id" yaml:"id"`
	SourceDir  string    `json:"source_dir" yaml:"source_dir"`
	OutputDir  string    `json:"output_dir" yaml:"output_dir"`
	Engine     string    `json:"engine" yaml:"engine"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Converted  int       `json:"converted" yaml:"converted"`
	Skipped    int       `json:"skipped" yaml:"skipped"`
	Failed     int       `json:"failed" yaml:"failed"`
}

// DocumentRecord is the ledger row for one document in one run.
type DocumentRecord struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	BaseName   string           `json:"base_name" yaml:"base_name"`
	SourcePath string           `json:"source_path" yaml:"source_path"`
	Status     ConversionStatus `json:"status" yaml:"status"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	OutputDir  string           `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	ImageCount int              `json:"image_count" yaml:"image_count"`
	TextBytes  int              `json:"text_bytes" yaml:"text_bytes"`
	RecordedAt time.Time        `json:"recorded_at" yaml:"recorded_at"`
}

// RunSummary holds the final counts of a run.
type RunSummary struct {
	Converted  int
	Skipped    int
	Failed     int
	FinishedAt time.Time
}
