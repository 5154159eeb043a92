// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// OutputFormat selects the text serialization produced by the conversion
// engine.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatHTML     OutputFormat = "html"
)

// Extension returns the file extension (without the dot) used for text
// written in this format. Unknown formats return an empty string.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatJSON:
		return "json"
	case FormatHTML:
		return "html"
	}
	return ""
}

// EngineBackend identifies a Document Conversion Engine implementation.
type EngineBackend string

const (
	BackendNative       EngineBackend = "native"
	BackendMarker       EngineBackend = "marker"
	BackendMarkerServer EngineBackend = "marker-server"
)

// EngineConfig is the fixed set of options handed to the conversion engine.
// It is built once per batch.
type EngineConfig struct {
	// OutputFormat is the desired text serialization (default markdown).
	OutputFormat OutputFormat `json:"output_format" yaml:"output_format"`

	// ExtractImages controls whether embedded images are returned.
	ExtractImages bool `json:"extract_images" yaml:"extract_images"`

	// OutputFolder is an advisory path some engines need up front. The
	// marker backend places its scratch directory here when set.
	OutputFolder string `json:"output_folder,omitempty" yaml:"output_folder,omitempty"`

	// Debug turns on verbose engine diagnostics.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultEngineConfig mirrors the options the batch has always used:
// Markdown with images and no debug output.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		OutputFormat:  FormatMarkdown,
		ExtractImages: true,
	}
}

// Validate reports whether the configuration names a known output format.
func (c EngineConfig) Validate() error {
	if c.OutputFormat.Extension() == "" {
		return fmt.Errorf("unsupported output format %q: use markdown, json, or html", c.OutputFormat)
	}
	return nil
}

// MarkerConfig holds settings specific to the marker backends.
type MarkerConfig struct {
	// Image is the container image that provides marker_single.
	Image string `json:"image" yaml:"image"`

	// URL is the base URL of a running marker server.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// UseLLM enables marker's LLM-assisted processing. Requires a Gemini key.
	UseLLM bool `json:"use_llm" yaml:"use_llm"`

	// GeminiAPIKey is passed to marker when UseLLM is set.
	GeminiAPIKey string `json:"-" yaml:"-"`

	// Token is sent as a bearer token to the marker server.
	Token string `json:"-" yaml:"-"`
}

// LedgerConfig holds settings for the run ledger.
type LedgerConfig struct {
	// Path is the SQLite database file. Empty disables the ledger.
	Path string `json:"path" yaml:"path"`
}

// BatchConfig groups everything a conversion run needs.
type BatchConfig struct {
	// SourceDir is the directory scanned for *.pdf files.
	SourceDir string `json:"source_dir" yaml:"source_dir"`

	// OutputDir is the root under which one directory per document is written.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Backend selects the conversion engine.
	Backend EngineBackend `json:"backend" yaml:"backend"`

	// SkipExisting skips documents whose text output already exists.
	SkipExisting bool `json:"skip_existing" yaml:"skip_existing"`

	Engine EngineConfig `json:"engine" yaml:"engine"`
	Marker MarkerConfig `json:"marker" yaml:"marker"`
	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`
}
