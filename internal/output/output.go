// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package output materializes conversion results on disk, one directory per
// document.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// metaSuffix is appended to the base name for the metadata file.
const metaSuffix = "_meta.json"

// DocumentDir returns the output directory for a document base name.
func DocumentDir(root, baseName string) string {
	return filepath.Join(root, baseName)
}

// TextPath returns the path of the converted text for a base name and
// extension.
func TextPath(root, baseName, ext string) string {
	return filepath.Join(DocumentDir(root, baseName), baseName+"."+ext)
}

// MetadataPath returns the path of the metadata file for a base name.
func MetadataPath(root, baseName string) string {
	return filepath.Join(DocumentDir(root, baseName), baseName+metaSuffix)
}

// Write lays out res under root/baseName: the text, the metadata as
// 2-space indented JSON, and every image PNG-encoded under its own name.
// The directory is created with its parents if missing. Existing files are
// overwritten. Each artifact is written independently; failures are
// collected into a *types.WriteError and nothing already written is removed.
func Write(root, baseName string, res *types.ConversionResult) (types.OutputLayout, error) {
	dir := DocumentDir(root, baseName)
	if err := checkBaseName(baseName); err != nil {
		return types.OutputLayout{}, &types.WriteError{
			Dir:      dir,
			Failures: []types.ArtifactError{{Path: dir, Err: err}},
		}
	}
	layout := types.OutputLayout{
		Dir:          dir,
		TextPath:     TextPath(root, baseName, res.Extension),
		MetadataPath: MetadataPath(root, baseName),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return layout, &types.WriteError{
			Dir:      dir,
			Failures: []types.ArtifactError{{Path: dir, Err: err}},
		}
	}

	var failures []types.ArtifactError

	if err := os.WriteFile(layout.TextPath, []byte(res.Text), 0o644); err != nil {
		failures = append(failures, types.ArtifactError{Path: layout.TextPath, Err: err})
	}

	if err := writeMetadata(layout.MetadataPath, res.Metadata); err != nil {
		failures = append(failures, types.ArtifactError{Path: layout.MetadataPath, Err: err})
	}

	// Sorted so the layout and any failure list are stable across runs.
	names := make([]string, 0, len(res.Images))
	for name := range res.Images {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := writeImage(dir, name, res); err != nil {
			failures = append(failures, types.ArtifactError{Path: path, Err: err})
			continue
		}
		layout.ImagePaths = append(layout.ImagePaths, path)
	}

	if len(failures) > 0 {
		return layout, &types.WriteError{Dir: dir, Failures: failures}
	}
	return layout, nil
}

func writeMetadata(path string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeImage(dir, name string, res *types.ConversionResult) error {
	if err := checkImageName(name); err != nil {
		return err
	}
	img := res.Images[name]
	if img == nil {
		return errors.New("engine returned no image data")
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return f.Close()
}

// checkImageName rejects names that would land outside the document
// directory.
func checkImageName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("invalid image name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("image name %q contains a path separator", name)
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return fmt.Errorf("image name %q is absolute", name)
	}
	return nil
}

// checkBaseName rejects base names that would not give the document a
// directory of its own under the output root.
func checkBaseName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("invalid document base name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("document base name %q contains a path separator", name)
	}
	return nil
}
