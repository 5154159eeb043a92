// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package device reports whether hardware acceleration is available to the
// conversion engine. The report is informational: engines pick their own
// device, and a wrong guess here only affects latency.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Device names follow the values marker accepts in TORCH_DEVICE.
const (
	CUDA = "cuda"
	MPS  = "mps"
	CPU  = "cpu"
)

// envTorchDevice overrides detection, as it does for marker itself.
const envTorchDevice = "TORCH_DEVICE"

// Report is the outcome of a probe.
type Report struct {
	// Device is cuda, mps, or cpu (or whatever TORCH_DEVICE names).
	Device string `json:"device" yaml:"device"`

	// Accelerated is true for any device other than cpu.
	Accelerated bool `json:"accelerated" yaml:"accelerated"`

	// Detail is a short human-readable explanation, e.g. the GPU list.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// String renders the report the way the batch announces it.
func (r Report) String() string {
	if r.Accelerated {
		return "Using GPU for processing (" + r.Device + ")."
	}
	return "GPU not available, using CPU."
}

// commander abstracts command execution for testing.
type commander interface {
	LookPath(file string) (string, error)
	Output(name string, args ...string) ([]byte, error)
}

type osCommander struct{}

func (osCommander) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osCommander) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Prober detects the acceleration device.
type Prober struct {
	cmd    commander
	getenv func(string) string
	goos   string
	goarch string
}

// NewProber returns a Prober backed by the real environment.
func NewProber() *Prober {
	return &Prober{
		cmd:    osCommander{},
		getenv: os.Getenv,
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
	}
}

// Probe never fails; anything it cannot determine falls back to cpu.
func (p *Prober) Probe() Report {
	if forced := strings.TrimSpace(p.getenv(envTorchDevice)); forced != "" {
		forced = strings.ToLower(forced)
		return Report{
			Device:      forced,
			Accelerated: forced != CPU,
			Detail:      envTorchDevice + " is set",
		}
	}

	if _, err := p.cmd.LookPath("nvidia-smi"); err == nil {
		out, err := p.cmd.Output("nvidia-smi", "-L")
		gpus := strings.TrimSpace(string(out))
		if err == nil && gpus != "" {
			return Report{Device: CUDA, Accelerated: true, Detail: firstLine(gpus)}
		}
	}

	if p.goos == "darwin" && p.goarch == "arm64" {
		return Report{Device: MPS, Accelerated: true, Detail: "Apple silicon"}
	}

	return Report{Device: CPU, Detail: "no CUDA device found"}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
