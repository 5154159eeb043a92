// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/pdf2md/internal/httputil"
	"github.com/pdiddy/pdf2md/pkg/types"
)

// NameMarkerServer identifies the remote marker engine.
const NameMarkerServer = "marker-server"

const uploadPath = "/marker/upload"

// serverResponse is the JSON body returned by the marker server.
type serverResponse struct {
	Format   string            `json:"format"`
	Output   string            `json:"output"`
	Images   map[string]string `json:"images"`
	Metadata map[string]any    `json:"metadata"`
	Success  bool              `json:"success"`
	Error    string            `json:"error"`
}

// Server uploads each PDF to a running marker server. Busy responses (429,
// 503) are retried with backoff.
type Server struct {
	client  *http.Client
	baseURL string
	token   string
	cfg     types.EngineConfig
	log     *logrus.Logger

	// MaxRetries bounds busy-server retries; zero uses the httputil default.
	MaxRetries int
}

// NewServer returns an engine for the server at mc.URL.
func NewServer(client *http.Client, mc types.MarkerConfig, cfg types.EngineConfig, log *logrus.Logger) (*Server, error) {
	if mc.URL == "" {
		return nil, errors.New("marker-server engine needs a server URL (marker.url)")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		client:  client,
		baseURL: strings.TrimRight(mc.URL, "/"),
		token:   mc.Token,
		cfg:     cfg,
		log:     log,
	}, nil
}

func (s *Server) Name() string { return NameMarkerServer }

// Convert uploads pdfPath and decodes the server's answer.
func (s *Server) Convert(ctx context.Context, pdfPath string) (*types.ConversionResult, error) {
	body, contentType, err := s.uploadBody(pdfPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+uploadPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	s.log.WithFields(logrus.Fields{
		"pdf": pdfPath,
		"url": req.URL.String(),
	}).Debug("uploading to marker server")

	resp, err := httputil.DoWithRetry(ctx, s.client, req, s.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("marker server request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading marker server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marker server returned %d: %s", resp.StatusCode, lastBytes(string(data), stderrTail))
	}

	var sr serverResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decoding marker server response: %w", err)
	}
	if !sr.Success {
		if sr.Error == "" {
			sr.Error = "conversion failed"
		}
		return nil, fmt.Errorf("marker server: %s", sr.Error)
	}

	return s.result(pdfPath, sr)
}

func (s *Server) uploadBody(pdfPath string) ([]byte, string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("output_format", string(s.cfg.OutputFormat)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("force_ocr", "false"); err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(pdfPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", pdfPath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (s *Server) result(pdfPath string, sr serverResponse) (*types.ConversionResult, error) {
	ext := s.cfg.OutputFormat.Extension()
	if f := types.OutputFormat(sr.Format); f.Extension() != "" {
		ext = f.Extension()
	}

	res := &types.ConversionResult{
		Text:      sr.Output,
		Extension: ext,
		Images:    map[string]image.Image{},
		Metadata:  sr.Metadata,
	}
	if !s.cfg.ExtractImages {
		return res, nil
	}

	names := make([]string, 0, len(sr.Images))
	for name := range sr.Images {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := base64.StdEncoding.DecodeString(sr.Images[name])
		if err != nil {
			s.log.WithFields(logrus.Fields{"pdf": pdfPath, "image": name}).Warn("skipping image with bad encoding")
			continue
		}
		img, err := decodeImage(data)
		if err != nil {
			s.log.WithFields(logrus.Fields{"pdf": pdfPath, "image": name}).WithError(err).Warn("skipping undecodable image")
			continue
		}
		res.Images[name] = img
	}
	return res, nil
}
