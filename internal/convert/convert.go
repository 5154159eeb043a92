// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert drives batch PDF conversion: it enumerates a source
// directory, converts each document through an Engine, and materializes the
// results. Per-document failures are reported and the batch continues.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/pdf2md/internal/output"
	"github.com/pdiddy/pdf2md/internal/source"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// Recorder receives the outcome of every document in a run. The ledger
// store implements it. Recorder errors never fail a batch.
type Recorder interface {
	BeginRun(ctx context.Context, info types.RunInfo) (string, error)
	RecordDocument(ctx context.Context, rec types.DocumentRecord) error
	FinishRun(ctx context.Context, runID string, summary types.RunSummary) error
}

// Outcome is the result of processing one document.
type Outcome struct {
	Document types.Document
	Status   types.ConversionStatus
	Layout   types.OutputLayout
	Err      error

	imageCount int
	textBytes  int
}

// BatchResult holds the outcome of a batch conversion run.
type BatchResult struct {
	RunID     string
	Converted int
	Skipped   int
	Failed    int
	Outcomes  []Outcome
}

// Total returns the total number of documents processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// Batch converts every PDF of a source directory into OutputDir.
type Batch struct {
	Orchestrator *Orchestrator

	// OutputDir is the root of the per-document output directories.
	OutputDir string

	// Out receives one status line per document and a summary.
	Out io.Writer

	// Log receives structured diagnostics. Defaults to the standard logger.
	Log *logrus.Logger

	// Recorder, when set, is told about the run and every document.
	Recorder Recorder

	// SkipExisting leaves documents whose text output already exists alone.
	SkipExisting bool

	// now is overridden in tests.
	now func() time.Time
}

// Run converts the PDFs directly inside sourceDir, one at a time. Only
// batch-scoped failures are returned: an inaccessible source directory or
// an output root that cannot be created, both as *types.FilesystemError.
// Everything attributable to a single document is reported to Out and Log,
// counted in the result, and the batch moves on.
func (b *Batch) Run(ctx context.Context, sourceDir string) (BatchResult, error) {
	b.defaults()

	docs, err := source.Scan(sourceDir)
	if err != nil {
		return BatchResult{}, err
	}
	if err := os.MkdirAll(b.OutputDir, 0o755); err != nil {
		return BatchResult{}, &types.FilesystemError{Path: b.OutputDir, Err: err}
	}

	var result BatchResult
	result.RunID = b.beginRun(ctx, sourceDir)

	for doc := range docs {
		outcome := b.process(ctx, doc)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case types.ConversionDone:
			result.Converted++
		case types.ConversionSkipped:
			result.Skipped++
		case types.ConversionFailed:
			result.Failed++
		}
		b.record(ctx, result.RunID, outcome)
	}

	fmt.Fprintf(b.Out, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
		result.Converted, result.Skipped, result.Failed, result.Total())
	b.finishRun(ctx, result)
	return result, nil
}

// ConvertOne converts a single PDF into OutputDir. Unlike Run, every error
// is returned to the caller; a missing file fails with *types.NotFoundError
// before any output directory is created.
func (b *Batch) ConvertOne(ctx context.Context, pdfPath string) (Outcome, error) {
	b.defaults()

	doc, res, err := b.Orchestrator.ConvertFile(ctx, pdfPath)
	if err != nil {
		return Outcome{Document: doc, Status: types.ConversionFailed, Err: err}, err
	}

	layout, err := output.Write(b.OutputDir, doc.BaseName, res)
	outcome := Outcome{
		Document:   doc,
		Status:     types.ConversionDone,
		Layout:     layout,
		Err:        err,
		imageCount: len(layout.ImagePaths),
		textBytes:  len(res.Text),
	}
	if err != nil {
		outcome.Status = types.ConversionFailed
		return outcome, err
	}
	fmt.Fprintf(b.Out, "converted: %s -> %s\n", doc.BaseName, layout.Dir)
	return outcome, nil
}

// process converts and writes one document, classifying any failure.
func (b *Batch) process(ctx context.Context, doc types.Document) Outcome {
	log := b.Log.WithFields(logrus.Fields{
		"pdf":    doc.Path,
		"base":   doc.BaseName,
		"engine": b.Orchestrator.EngineName(),
	})

	if b.SkipExisting {
		ext := b.Orchestrator.Config().OutputFormat.Extension()
		if _, err := os.Stat(output.TextPath(b.OutputDir, doc.BaseName, ext)); err == nil {
			fmt.Fprintf(b.Out, "skipped: %s (already exists)\n", doc.BaseName)
			return Outcome{Document: doc, Status: types.ConversionSkipped}
		}
	}

	log.Infof("Converting '%s' to %s...", doc.Path, b.Orchestrator.Config().OutputFormat)
	log.WithField("output_dir", output.DocumentDir(b.OutputDir, doc.BaseName)).Debug("expected output folder")

	res, err := b.Orchestrator.Convert(ctx, doc)
	if err != nil {
		// A *types.NotFoundError here means the file vanished after Scan. It
		// fails this document only; ConvertOne returns it to the caller.
		return b.fail(log, doc, Outcome{Document: doc}, err)
	}

	layout, err := output.Write(b.OutputDir, doc.BaseName, res)
	outcome := Outcome{
		Document:   doc,
		Layout:     layout,
		imageCount: len(layout.ImagePaths),
		textBytes:  len(res.Text),
	}
	if err != nil {
		return b.fail(log, doc, outcome, err)
	}

	outcome.Status = types.ConversionDone
	log.WithFields(logrus.Fields{
		"output_dir": layout.Dir,
		"images":     len(layout.ImagePaths),
	}).Info("conversion complete")
	fmt.Fprintf(b.Out, "converted: %s -> %s\n", doc.BaseName, layout.Dir)
	return outcome
}

func (b *Batch) fail(log *logrus.Entry, doc types.Document, outcome Outcome, err error) Outcome {
	outcome.Status = types.ConversionFailed
	outcome.Err = err
	log.WithError(err).WithField("kind", errorKind(err)).Error("document failed")
	fmt.Fprintf(b.Out, "failed:  %s (%v)\n", doc.BaseName, err)
	return outcome
}

func (b *Batch) beginRun(ctx context.Context, sourceDir string) string {
	if b.Recorder == nil {
		return ""
	}
	id, err := b.Recorder.BeginRun(ctx, types.RunInfo{
		SourceDir: sourceDir,
		OutputDir: b.OutputDir,
		Engine:    b.Orchestrator.EngineName(),
		StartedAt: b.now().UTC(),
	})
	if err != nil {
		b.Log.WithError(err).Warn("ledger: could not record run start")
		return ""
	}
	return id
}

func (b *Batch) record(ctx context.Context, runID string, o Outcome) {
	if b.Recorder == nil || runID == "" {
		return
	}
	rec := types.DocumentRecord{
		RunID:      runID,
		BaseName:   o.Document.BaseName,
		SourcePath: o.Document.Path,
		Status:     o.Status,
		OutputDir:  o.Layout.Dir,
		ImageCount: o.imageCount,
		TextBytes:  o.textBytes,
		RecordedAt: b.now().UTC(),
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if err := b.Recorder.RecordDocument(ctx, rec); err != nil {
		b.Log.WithError(err).WithField("base", o.Document.BaseName).Warn("ledger: could not record document")
	}
}

func (b *Batch) finishRun(ctx context.Context, r BatchResult) {
	if b.Recorder == nil || r.RunID == "" {
		return
	}
	err := b.Recorder.FinishRun(ctx, r.RunID, types.RunSummary{
		Converted:  r.Converted,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		FinishedAt: b.now().UTC(),
	})
	if err != nil {
		b.Log.WithError(err).Warn("ledger: could not record run end")
	}
}

func (b *Batch) defaults() {
	if b.Out == nil {
		b.Out = io.Discard
	}
	if b.Log == nil {
		b.Log = logrus.StandardLogger()
	}
	if b.now == nil {
		b.now = time.Now
	}
}

// errorKind names the error class for log fields.
func errorKind(err error) string {
	var (
		nf *types.NotFoundError
		ce *types.ConversionError
		we *types.WriteError
	)
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ce):
		return "conversion"
	case errors.As(err, &we):
		return "write"
	}
	return "unknown"
}
