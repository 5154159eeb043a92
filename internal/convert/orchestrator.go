// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"errors"
	"image"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"

	"github.com/pdiddy/pdf2md/internal/device"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// Engine turns one PDF into a ConversionResult. Backends (native, marker,
// marker-server) implement this interface. An Engine is expensive to build
// and is reused for a whole batch from a single goroutine.
type Engine interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Convert blocks until the PDF at pdfPath is converted.
	Convert(ctx context.Context, pdfPath string) (*types.ConversionResult, error)
}

// Prober reports the hardware acceleration device.
type Prober interface {
	Probe() device.Report
}

// Orchestrator converts documents one at a time with a configuration fixed
// for the whole batch. It is not safe for concurrent use.
type Orchestrator struct {
	engine Engine
	cfg    types.EngineConfig
	log    *logrus.Logger
	device device.Report
}

// NewOrchestrator takes ownership of engine for the batch. It probes the
// acceleration device once and logs the result; the probe never affects
// conversion. A nil prober skips the report.
func NewOrchestrator(engine Engine, cfg types.EngineConfig, prober Prober, log *logrus.Logger) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("no conversion engine configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	o := &Orchestrator{engine: engine, cfg: cfg, log: log}
	if prober != nil {
		o.device = prober.Probe()
		log.WithFields(logrus.Fields{
			"engine": engine.Name(),
			"device": o.device.Device,
			"detail": o.device.Detail,
		}).Info(o.device.String())
	}
	if cfg.Debug {
		log.WithFields(logrus.Fields{
			"output_format":  cfg.OutputFormat,
			"extract_images": cfg.ExtractImages,
			"output_folder":  cfg.OutputFolder,
		}).Debug("engine configuration")
	}
	return o, nil
}

// Device returns the report taken when the orchestrator was built.
func (o *Orchestrator) Device() device.Report { return o.device }

// EngineName returns the name of the owned engine.
func (o *Orchestrator) EngineName() string { return o.engine.Name() }

// Config returns the batch engine configuration.
func (o *Orchestrator) Config() types.EngineConfig { return o.cfg }

// Convert runs the engine on doc. A missing source file fails with
// *types.NotFoundError before the engine is called. Engine failures come
// back as *types.ConversionError. The returned text is always valid UTF-8.
func (o *Orchestrator) Convert(ctx context.Context, doc types.Document) (*types.ConversionResult, error) {
	if _, err := os.Stat(doc.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &types.NotFoundError{Path: doc.Path}
		}
		return nil, &types.ConversionError{Path: doc.Path, Engine: o.engine.Name(), Err: err}
	}

	o.log.WithFields(logrus.Fields{
		"pdf":    doc.Path,
		"engine": o.engine.Name(),
	}).Debug("invoking conversion engine")

	res, err := o.engine.Convert(ctx, doc.Path)
	if err != nil {
		return nil, &types.ConversionError{Path: doc.Path, Engine: o.engine.Name(), Err: err}
	}
	if res == nil {
		return nil, &types.ConversionError{
			Path:   doc.Path,
			Engine: o.engine.Name(),
			Err:    errors.New("engine returned no result"),
		}
	}

	return o.normalize(res), nil
}

// ConvertFile is the single-document entry point: it converts the PDF at
// path without enumerating a directory.
func (o *Orchestrator) ConvertFile(ctx context.Context, path string) (types.Document, *types.ConversionResult, error) {
	doc := types.NewDocument(path)
	res, err := o.Convert(ctx, doc)
	return doc, res, err
}

func (o *Orchestrator) normalize(res *types.ConversionResult) *types.ConversionResult {
	out := *res
	out.Text = NormalizeText(res.Text)
	out.Extension = strings.TrimPrefix(res.Extension, ".")
	if out.Extension == "" {
		out.Extension = o.cfg.OutputFormat.Extension()
	}
	if out.Images == nil {
		out.Images = map[string]image.Image{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return &out
}

// NormalizeText returns s with every invalid UTF-8 sequence replaced by
// U+FFFD. It never fails.
func NormalizeText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	// The UTF-8 decoder substitutes U+FFFD for each invalid byte instead of
	// failing, so the error is always nil.
	out, _ := unicode.UTF8.NewDecoder().String(s)
	return out
}
