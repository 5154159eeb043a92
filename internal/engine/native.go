// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/tabula"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// NameNative identifies the native engine.
const NameNative = "native"

// Native converts PDFs in-process. Text and tables come from tabula; page
// counting, structural validation, and image extraction come from pdfcpu.
// Only Markdown output is supported.
type Native struct {
	cfg  types.EngineConfig
	conf *model.Configuration
	log  *logrus.Logger
}

// NewNative returns a native engine, or an error when cfg asks for an output
// format other than Markdown.
func NewNative(cfg types.EngineConfig, log *logrus.Logger) (*Native, error) {
	if cfg.OutputFormat != types.FormatMarkdown {
		return nil, fmt.Errorf("native engine only produces markdown, not %s", cfg.OutputFormat)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Native{cfg: cfg, conf: conf, log: log}, nil
}

func (n *Native) Name() string { return NameNative }

// Convert validates the PDF, extracts Markdown, and optionally the embedded
// images. Image extraction problems are logged and recorded in metadata;
// they never fail the document.
func (n *Native) Convert(ctx context.Context, pdfPath string) (*types.ConversionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := n.log.WithField("pdf", pdfPath)

	if err := api.ValidateFile(pdfPath, n.conf); err != nil {
		return nil, fmt.Errorf("validating PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("counting pages: %w", err)
	}
	log.WithField("page_count", pageCount).Debug("PDF page count")

	text, warnings, err := extractMarkdown(pdfPath)
	if err != nil {
		return nil, err
	}

	msgs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		msgs = append(msgs, w.Message)
	}
	if len(msgs) > 0 {
		log.WithField("warnings", len(msgs)).Debug("text extraction warnings")
	}

	images := map[string]image.Image{}
	var skipped []string
	if n.cfg.ExtractImages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		images, skipped, err = n.extractImages(pdfPath)
		if err != nil {
			log.WithError(err).Warn("Failed to extract images, continuing without images")
			msgs = append(msgs, "image extraction: "+err.Error())
			images = map[string]image.Image{}
		}
	}

	meta := map[string]any{
		"engine":        NameNative,
		"source_file":   filepath.Base(pdfPath),
		"page_count":    pageCount,
		"image_count":   len(images),
		"output_format": string(n.cfg.OutputFormat),
	}
	if len(msgs) > 0 {
		meta["warnings"] = msgs
	}
	if len(skipped) > 0 {
		meta["skipped_images"] = skipped
	}

	return &types.ConversionResult{
		Text:      text,
		Extension: n.cfg.OutputFormat.Extension(),
		Images:    images,
		Metadata:  meta,
	}, nil
}

// extractMarkdown runs tabula and turns a panic inside the parser into an
// error for this document.
func extractMarkdown(pdfPath string) (text string, warnings []tabula.Warning, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extracting text: parser panic: %v", r)
		}
	}()
	text, warnings, err = tabula.Open(pdfPath).ToMarkdown()
	if err != nil {
		return "", nil, fmt.Errorf("extracting text: %w", err)
	}
	return text, warnings, nil
}

func (n *Native) extractImages(pdfPath string) (map[string]image.Image, []string, error) {
	dir, err := scratchDir(n.cfg.OutputFolder, "pdf2md-images-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractImagesFile(pdfPath, dir, nil, n.conf); err != nil {
		return nil, nil, err
	}
	return readImages(dir)
}
