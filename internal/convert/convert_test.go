// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pdf2md/internal/device"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// fakeEngine returns canned results keyed by PDF base name, or an error.
type fakeEngine struct {
	results map[string]*types.ConversionResult
	errors  map[string]error
	calls   []string
	// onConvert runs before a result is returned.
	onConvert func(pdfPath string)
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Convert(_ context.Context, pdfPath string) (*types.ConversionResult, error) {
	f.calls = append(f.calls, pdfPath)
	if f.onConvert != nil {
		f.onConvert(pdfPath)
	}
	base := strings.TrimSuffix(filepath.Base(pdfPath), ".pdf")
	if err, ok := f.errors[base]; ok {
		return nil, err
	}
	if res, ok := f.results[base]; ok {
		return res, nil
	}
	return &types.ConversionResult{
		Text:      "# " + base + "\n",
		Extension: "md",
		Metadata:  map[string]any{"source": base},
	}, nil
}

type fakeProber struct{ report device.Report }

func (p fakeProber) Probe() device.Report { return p.report }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func newOrchestrator(t *testing.T, e Engine) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(e, types.DefaultEngineConfig(), nil, quietLogger())
	require.NoError(t, err)
	return o
}

// setupSource creates a source directory holding the named PDFs.
func setupSource(t *testing.T, names ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pdfs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("%PDF-1.7 fake"), 0o644))
	}
	return dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names
}

func pixel() image.Image {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: 128})
	return img
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(nil, types.DefaultEngineConfig(), nil, nil)
	assert.Error(t, err)

	cfg := types.DefaultEngineConfig()
	cfg.OutputFormat = "docx"
	_, err = NewOrchestrator(&fakeEngine{}, cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docx")
}

func TestNewOrchestrator_ReportsDevice(t *testing.T) {
	var logs bytes.Buffer
	log := logrus.New()
	log.SetOutput(&logs)

	o, err := NewOrchestrator(&fakeEngine{}, types.DefaultEngineConfig(),
		fakeProber{device.Report{Device: device.CPU}}, log)
	require.NoError(t, err)

	assert.Equal(t, device.CPU, o.Device().Device)
	assert.Contains(t, logs.String(), "GPU not available, using CPU.")
}

func TestOrchestratorConvert_NotFoundBeforeEngine(t *testing.T) {
	engine := &fakeEngine{}
	o := newOrchestrator(t, engine)

	missing := filepath.Join(t.TempDir(), "missing.pdf")
	_, err := o.Convert(context.Background(), types.NewDocument(missing))

	var nf *types.NotFoundError
	require.True(t, errors.As(err, &nf), "want NotFoundError, got %v", err)
	assert.Equal(t, missing, nf.Path)
	assert.Empty(t, engine.calls, "engine must not run for a missing file")
	assert.Equal(t, types.DocumentScoped, types.ScopeOf(err))
}

func TestOrchestratorConvert_EngineFailure(t *testing.T) {
	cause := errors.New("xref table corrupt")
	dir := setupSource(t, "bad.pdf")
	o := newOrchestrator(t, &fakeEngine{errors: map[string]error{"bad": cause}})

	_, err := o.Convert(context.Background(), types.NewDocument(filepath.Join(dir, "bad.pdf")))

	var ce *types.ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "fake", ce.Engine)
	assert.ErrorIs(t, err, cause)
}

func TestOrchestratorConvert_NilResult(t *testing.T) {
	dir := setupSource(t, "empty.pdf")
	o := newOrchestrator(t, &fakeEngine{results: map[string]*types.ConversionResult{"empty": nil}})

	// A nil entry in results still counts as "present" for the map lookup.
	_, err := o.Convert(context.Background(), types.NewDocument(filepath.Join(dir, "empty.pdf")))
	var ce *types.ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "no result")
}

func TestOrchestratorConvert_Normalizes(t *testing.T) {
	dir := setupSource(t, "doc.pdf")
	o := newOrchestrator(t, &fakeEngine{results: map[string]*types.ConversionResult{
		"doc": {Text: "caf\xe9 \xff end"},
	}})

	res, err := o.Convert(context.Background(), types.NewDocument(filepath.Join(dir, "doc.pdf")))
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(res.Text))
	assert.Contains(t, res.Text, "�")
	assert.True(t, strings.HasPrefix(res.Text, "caf"))
	assert.True(t, strings.HasSuffix(res.Text, " end"))
	assert.Equal(t, "md", res.Extension, "empty extension defaults to the configured format")
	assert.NotNil(t, res.Images)
	assert.NotNil(t, res.Metadata)
}

func TestOrchestratorConvert_TrimsExtensionDot(t *testing.T) {
	dir := setupSource(t, "doc.pdf")
	o := newOrchestrator(t, &fakeEngine{results: map[string]*types.ConversionResult{
		"doc": {Text: "<p>x</p>", Extension: ".html"},
	}})

	res, err := o.Convert(context.Background(), types.NewDocument(filepath.Join(dir, "doc.pdf")))
	require.NoError(t, err)
	assert.Equal(t, "html", res.Extension)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "valid ascii unchanged", in: "plain text", want: "plain text"},
		{name: "valid multibyte unchanged", in: "naïve – ✓", want: "naïve – ✓"},
		{name: "empty", in: "", want: ""},
		{name: "lone continuation byte", in: "a\x80b", want: "a�b"},
		{name: "invalid byte at end", in: "end\xe9", want: "end�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.in)
			assert.True(t, utf8.ValidString(got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeText_TruncatedSequence(t *testing.T) {
	got := NormalizeText("ok\xe2\x82")
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "ok�"))
}

func TestBatchRun_Isolation(t *testing.T) {
	// The corrupt document fails whether it is processed first or last.
	orders := []struct {
		name    string
		good    string
		corrupt string
	}{
		{name: "corrupt first", good: "zeta", corrupt: "alpha"},
		{name: "corrupt last", good: "alpha", corrupt: "zeta"},
	}

	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			src := setupSource(t, tt.good+".pdf", tt.corrupt+".pdf")
			out := filepath.Join(t.TempDir(), "md_output")
			engine := &fakeEngine{
				results: map[string]*types.ConversionResult{
					tt.good: {
						Text:      "# Good\n",
						Extension: "md",
						Images:    map[string]image.Image{"_page_0_Picture_0.jpeg": pixel()},
						Metadata:  map[string]any{"pages": 1},
					},
				},
				errors: map[string]error{tt.corrupt: errors.New("malformed PDF")},
			}

			var status bytes.Buffer
			b := &Batch{
				Orchestrator: newOrchestrator(t, engine),
				OutputDir:    out,
				Out:          &status,
				Log:          quietLogger(),
			}
			result, err := b.Run(context.Background(), src)
			require.NoError(t, err)

			assert.Equal(t, 1, result.Converted)
			assert.Equal(t, 1, result.Failed)
			assert.True(t, result.HasFailures())
			assert.Equal(t, 2, result.Total())
			assert.Len(t, engine.calls, 2)

			assert.Equal(t, []string{tt.good}, listDir(t, out), "no partial directory for the corrupt PDF")
			assert.Equal(t, []string{
				"_page_0_Picture_0.jpeg",
				tt.good + ".md",
				tt.good + "_meta.json",
			}, listDir(t, filepath.Join(out, tt.good)))

			log := status.String()
			assert.Contains(t, log, "converted: "+tt.good)
			assert.Contains(t, log, "failed:  "+tt.corrupt)
			assert.Contains(t, log, "malformed PDF")
			assert.Contains(t, log, "Batch summary: 1 converted, 0 skipped, 1 failed (total: 2)")
		})
	}
}

func TestBatchRun_MissingSourceDir(t *testing.T) {
	tmp := t.TempDir()
	out := filepath.Join(tmp, "md_output")
	engine := &fakeEngine{}
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Log: quietLogger()}

	_, err := b.Run(context.Background(), filepath.Join(tmp, "nope"))

	var fsErr *types.FilesystemError
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, types.BatchScoped, types.ScopeOf(err))
	assert.Empty(t, engine.calls)
	assert.NoDirExists(t, out, "no output directories on a batch-scoped failure")
}

func TestBatchRun_OutputRootUnwritable(t *testing.T) {
	src := setupSource(t, "a.pdf")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	b := &Batch{
		Orchestrator: newOrchestrator(t, &fakeEngine{}),
		OutputDir:    filepath.Join(blocker, "out"),
		Log:          quietLogger(),
	}
	_, err := b.Run(context.Background(), src)

	var fsErr *types.FilesystemError
	require.True(t, errors.As(err, &fsErr))
}

func TestBatchRun_EmptySource(t *testing.T) {
	src := setupSource(t)
	out := filepath.Join(t.TempDir(), "out")
	var status bytes.Buffer
	b := &Batch{Orchestrator: newOrchestrator(t, &fakeEngine{}), OutputDir: out, Out: &status, Log: quietLogger()}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total())
	assert.Empty(t, listDir(t, out))
	assert.Contains(t, status.String(), "(total: 0)")
}

func TestBatchRun_Idempotent(t *testing.T) {
	src := setupSource(t, "a.pdf", "b.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{results: map[string]*types.ConversionResult{
		"a": {
			Text:      "# A\n",
			Extension: "md",
			Images:    map[string]image.Image{"fig.png": pixel()},
			Metadata:  map[string]any{"k": []any{1, 2}},
		},
	}}
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Log: quietLogger()}

	_, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	snapshot := func() map[string]string {
		files := map[string]string{}
		for _, dir := range listDir(t, out) {
			for _, name := range listDir(t, filepath.Join(out, dir)) {
				data, err := os.ReadFile(filepath.Join(out, dir, name))
				require.NoError(t, err)
				files[dir+"/"+name] = string(data)
			}
		}
		return files
	}
	first := snapshot()

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Converted)
	assert.Equal(t, first, snapshot())
}

func TestBatchRun_SkipExisting(t *testing.T) {
	src := setupSource(t, "a.pdf", "b.pdf")
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "b", "b.md"), []byte("existing"), 0o644))

	engine := &fakeEngine{}
	var status bytes.Buffer
	b := &Batch{
		Orchestrator: newOrchestrator(t, engine),
		OutputDir:    out,
		Out:          &status,
		Log:          quietLogger(),
		SkipExisting: true,
	}
	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Converted)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, engine.calls, 1)
	assert.Contains(t, status.String(), "skipped: b (already exists)")

	data, err := os.ReadFile(filepath.Join(out, "b", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestBatchRun_WriteFailureContinues(t *testing.T) {
	src := setupSource(t, "a.pdf", "b.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{results: map[string]*types.ConversionResult{
		"a": {
			Text:      "# A\n",
			Extension: "md",
			Images:    map[string]image.Image{"../escape.png": pixel()},
		},
	}}
	var status bytes.Buffer
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Out: &status, Log: quietLogger()}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Converted)
	assert.Equal(t, 1, result.Failed)
	var we *types.WriteError
	require.True(t, errors.As(result.Outcomes[0].Err, &we))
	assert.FileExists(t, filepath.Join(out, "a", "a.md"), "siblings are not rolled back")
	assert.FileExists(t, filepath.Join(out, "b", "b.md"))
	assert.Contains(t, status.String(), "failed:  a")
}

func TestBatchRun_DocumentVanishes(t *testing.T) {
	src := setupSource(t, "a.pdf", "b.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{onConvert: func(pdfPath string) {
		if filepath.Base(pdfPath) == "a.pdf" {
			os.Remove(filepath.Join(src, "b.pdf"))
		}
	}}
	var status bytes.Buffer
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Out: &status, Log: quietLogger()}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err, "a vanished document is document-scoped")

	require.Len(t, result.Outcomes, 2)
	var nf *types.NotFoundError
	assert.True(t, errors.As(result.Outcomes[1].Err, &nf))
	assert.Equal(t, []string{"a"}, listDir(t, out))
}

func TestBatchRun_EncodingSafety(t *testing.T) {
	src := setupSource(t, "latin1.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{results: map[string]*types.ConversionResult{
		"latin1": {Text: "r\xe9sum\xe9", Extension: "md"},
	}}
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Log: quietLogger()}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Converted)

	data, err := os.ReadFile(filepath.Join(out, "latin1", "latin1.md"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, utf8.Valid(data))
	assert.Equal(t, "r�sum�", string(data))
}

// fakeRecorder captures ledger calls.
type fakeRecorder struct {
	info     types.RunInfo
	records  []types.DocumentRecord
	summary  types.RunSummary
	finished bool
	failDocs bool
}

func (r *fakeRecorder) BeginRun(_ context.Context, info types.RunInfo) (string, error) {
	r.info = info
	return "run-1", nil
}

func (r *fakeRecorder) RecordDocument(_ context.Context, rec types.DocumentRecord) error {
	if r.failDocs {
		return errors.New("database is locked")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, runID string, s types.RunSummary) error {
	r.finished = runID == "run-1"
	r.summary = s
	return nil
}

func TestBatchRun_Recorder(t *testing.T) {
	src := setupSource(t, "a.pdf", "b.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{errors: map[string]error{"b": errors.New("bad pdf")}}
	rec := &fakeRecorder{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Batch{
		Orchestrator: newOrchestrator(t, engine),
		OutputDir:    out,
		Log:          quietLogger(),
		Recorder:     rec,
		now:          func() time.Time { return fixed },
	}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, src, rec.info.SourceDir)
	assert.Equal(t, "fake", rec.info.Engine)
	require.Len(t, rec.records, 2)

	assert.Equal(t, "a", rec.records[0].BaseName)
	assert.Equal(t, types.ConversionDone, rec.records[0].Status)
	assert.Equal(t, filepath.Join(out, "a"), rec.records[0].OutputDir)
	assert.Equal(t, len("# a\n"), rec.records[0].TextBytes)

	assert.Equal(t, types.ConversionFailed, rec.records[1].Status)
	assert.Contains(t, rec.records[1].Error, "bad pdf")

	assert.True(t, rec.finished)
	assert.Equal(t, 1, rec.summary.Converted)
	assert.Equal(t, 1, rec.summary.Failed)
	assert.Equal(t, fixed, rec.summary.FinishedAt)
}

func TestBatchRun_RecorderFailureIsNotFatal(t *testing.T) {
	src := setupSource(t, "a.pdf")
	out := filepath.Join(t.TempDir(), "out")
	b := &Batch{
		Orchestrator: newOrchestrator(t, &fakeEngine{}),
		OutputDir:    out,
		Log:          quietLogger(),
		Recorder:     &fakeRecorder{failDocs: true},
	}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Converted)
}

func TestConvertOne(t *testing.T) {
	src := setupSource(t, "single.pdf")
	out := filepath.Join(t.TempDir(), "out")
	var status bytes.Buffer
	b := &Batch{Orchestrator: newOrchestrator(t, &fakeEngine{}), OutputDir: out, Out: &status, Log: quietLogger()}

	outcome, err := b.ConvertOne(context.Background(), filepath.Join(src, "single.pdf"))
	require.NoError(t, err)
	assert.Equal(t, types.ConversionDone, outcome.Status)
	assert.FileExists(t, filepath.Join(out, "single", "single.md"))
	assert.FileExists(t, filepath.Join(out, "single", "single_meta.json"))
	assert.Contains(t, status.String(), "converted: single")
}

func TestConvertOne_NotFound(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{}
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Log: quietLogger()}

	_, err := b.ConvertOne(context.Background(), filepath.Join(t.TempDir(), "ghost.pdf"))

	var nf *types.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, engine.calls)
	assert.NoDirExists(t, out)
}

func TestBatchRun_IgnoresDotFiles(t *testing.T) {
	src := setupSource(t, ".pdf", ".hidden.pdf", "real.pdf")
	out := filepath.Join(t.TempDir(), "out")
	engine := &fakeEngine{}
	b := &Batch{Orchestrator: newOrchestrator(t, engine), OutputDir: out, Log: quietLogger()}

	result, err := b.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Converted)
	assert.Equal(t, 1, result.Total())
	assert.Equal(t, []string{filepath.Join(src, "real.pdf")}, engine.calls)
	assert.Equal(t, []string{"real"}, listDir(t, out))
}

func TestBatchConvertOne_EmptyBaseName(t *testing.T) {
	src := setupSource(t, ".pdf")
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	b := &Batch{Orchestrator: newOrchestrator(t, &fakeEngine{}), OutputDir: out, Log: quietLogger()}

	outcome, err := b.ConvertOne(context.Background(), filepath.Join(src, ".pdf"))
	var wErr *types.WriteError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, types.ConversionFailed, outcome.Status)
	assert.Empty(t, listDir(t, out))
}
