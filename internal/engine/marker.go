// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/pdf2md/internal/container"
	"github.com/pdiddy/pdf2md/internal/device"
	"github.com/pdiddy/pdf2md/pkg/types"
)

const (
	// NameMarker identifies the containerized marker engine.
	NameMarker = "marker"

	// DefaultMarkerImage is used when no image is configured.
	DefaultMarkerImage = "marker:latest"

	markerInputDir  = "/input"
	markerOutputDir = "/output"

	envGoogleAPIKey = "GOOGLE_API_KEY"
	envTorchDevice  = "TORCH_DEVICE"

	// stderrTail bounds how much container output goes into an error.
	stderrTail = 2048
)

// Marker runs marker_single inside a container image. The source PDF's
// directory is mounted read-only and a scratch directory receives the
// results, which are read back and removed.
type Marker struct {
	rt     container.Runtime
	cfg    types.EngineConfig
	marker types.MarkerConfig
	device device.Report
	log    *logrus.Logger
}

// NewMarker checks that the image is present and returns the engine.
func NewMarker(rt container.Runtime, cfg types.EngineConfig, mc types.MarkerConfig, dev device.Report, log *logrus.Logger) (*Marker, error) {
	if mc.Image == "" {
		mc.Image = DefaultMarkerImage
	}
	if mc.UseLLM && mc.GeminiAPIKey == "" {
		return nil, errors.New("marker LLM mode needs a Gemini API key: set it with pdf2md secrets or GOOGLE_API_KEY")
	}
	if err := rt.ImageExists(mc.Image); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Marker{rt: rt, cfg: cfg, marker: mc, device: dev, log: log}, nil
}

func (m *Marker) Name() string { return NameMarker }

// Convert runs one container per PDF.
func (m *Marker) Convert(ctx context.Context, pdfPath string) (*types.ConversionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", pdfPath, err)
	}

	scratch, err := scratchDir(m.cfg.OutputFolder, "pdf2md-marker-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	var stderr bytes.Buffer
	spec := m.runSpec(abs, scratch)
	spec.Stderr = &stderr
	if m.cfg.Debug {
		w := m.log.WriterLevel(logrus.DebugLevel)
		defer w.Close()
		spec.Stdout = w
		spec.Stderr = io.MultiWriter(&stderr, w)
	}

	m.log.WithFields(logrus.Fields{
		"pdf":     pdfPath,
		"image":   m.marker.Image,
		"runtime": m.rt.Name(),
		"gpus":    spec.GPUs,
	}).Debug("starting marker container")

	if err := m.rt.Run(spec); err != nil {
		if tail := lastBytes(stderr.String(), stderrTail); tail != "" {
			return nil, fmt.Errorf("%w: %s", err, tail)
		}
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return m.collect(scratch, base)
}

func (m *Marker) runSpec(pdfAbs, scratch string) container.RunSpec {
	args := []string{
		"marker_single", markerInputDir + "/" + filepath.Base(pdfAbs),
		"--output_dir", markerOutputDir,
		"--output_format", string(m.cfg.OutputFormat),
	}
	if !m.cfg.ExtractImages {
		args = append(args, "--disable_image_extraction")
	}
	if m.cfg.Debug {
		args = append(args, "--debug")
	}

	env := map[string]string{}
	// The image runs Linux, so mps on the host falls back to marker's own choice.
	if d := m.device.Device; d == device.CUDA || d == device.CPU {
		env[envTorchDevice] = d
	}
	if m.marker.UseLLM {
		args = append(args, "--use_llm")
		env[envGoogleAPIKey] = m.marker.GeminiAPIKey
	}

	return container.RunSpec{
		Image: m.marker.Image,
		Args:  args,
		Mounts: []container.Mount{
			{Source: filepath.Dir(pdfAbs), Target: markerInputDir, ReadOnly: true},
			{Source: scratch, Target: markerOutputDir},
		},
		Env:  env,
		GPUs: m.device.Device == device.CUDA,
	}
}

// collect reads marker's output for base. marker writes into a
// subdirectory named after the document; older releases wrote directly into
// the output dir, so both are accepted.
func (m *Marker) collect(scratch, base string) (*types.ConversionResult, error) {
	dir := filepath.Join(scratch, base)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = scratch
	}

	ext := m.cfg.OutputFormat.Extension()
	text, err := os.ReadFile(filepath.Join(dir, base+"."+ext))
	if err != nil {
		return nil, fmt.Errorf("marker produced no %s output for %s: %w", ext, base, err)
	}

	meta := map[string]any{}
	if data, err := os.ReadFile(filepath.Join(dir, base+"_meta.json")); err == nil {
		if err := json.Unmarshal(data, &meta); err != nil {
			m.log.WithError(err).WithField("base", base).Warn("ignoring unreadable marker metadata")
			meta = map[string]any{}
		}
	}

	res := &types.ConversionResult{
		Text:      string(text),
		Extension: ext,
		Metadata:  meta,
	}
	if m.cfg.ExtractImages {
		images, skipped, err := readImages(dir)
		if err != nil {
			return nil, fmt.Errorf("reading marker images: %w", err)
		}
		for _, name := range skipped {
			m.log.WithFields(logrus.Fields{"base": base, "image": name}).Warn("skipping undecodable image")
		}
		res.Images = images
	}
	return res, nil
}

func lastBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
