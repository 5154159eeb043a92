// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine provides the Document Conversion Engine backends: a pure-Go
// native engine, the marker CLI run in a container, and a remote marker
// server. Each backend is built once per batch.
package engine

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/pdf2md/internal/container"
	"github.com/pdiddy/pdf2md/internal/convert"
	"github.com/pdiddy/pdf2md/internal/device"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// Deps carries the collaborators a backend may need. Only the fields used by
// the selected backend have to be set.
type Deps struct {
	// Runtime runs the marker image. When nil, New detects docker or podman.
	Runtime container.Runtime

	// Device is the probe result; marker uses it to request GPUs.
	Device device.Report

	// Marker holds the marker image, server URL, and LLM settings.
	Marker types.MarkerConfig

	// HTTPClient talks to the marker server. Defaults to a client without
	// a timeout, since conversions may run for a long time.
	HTTPClient *http.Client

	Log *logrus.Logger
}

// New builds the backend named by backend.
func New(backend types.EngineBackend, cfg types.EngineConfig, deps Deps) (convert.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	switch backend {
	case types.BackendNative, "":
		return NewNative(cfg, deps.Log)
	case types.BackendMarker:
		rt := deps.Runtime
		if rt == nil {
			var err error
			if rt, err = container.DetectRuntime(); err != nil {
				return nil, err
			}
		}
		return NewMarker(rt, cfg, deps.Marker, deps.Device, deps.Log)
	case types.BackendMarkerServer:
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{}
		}
		return NewServer(client, deps.Marker, cfg, deps.Log)
	}
	return nil, fmt.Errorf("unknown engine %q: use native, marker, or marker-server", backend)
}
