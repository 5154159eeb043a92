// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// ExportRun holds a run together with its documents.
type ExportRun struct {
	types.RunInfo `yaml:",inline"`
	Documents     []types.DocumentRecord `json:"documents" yaml:"documents"`
}

// ExportYAML writes every run and its documents to w as YAML.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer) error {
	runs, err := s.exportRuns(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(runs); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes every run and its documents to w as indented JSON.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	runs, err := s.exportRuns(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func (s *Store) exportRuns(ctx context.Context) ([]ExportRun, error) {
	runs, err := s.Runs(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	out := make([]ExportRun, len(runs))
	for i, r := range runs {
		docs, err := s.documents(ctx, `WHERE run_id = ?`, r.ID)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			docs = []types.DocumentRecord{}
		}
		out[i] = ExportRun{RunInfo: r, Documents: docs}
	}
	return out, nil
}
