// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source enumerates the PDF documents of a batch.
package source

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// Pattern is the file name pattern of batch inputs. Matching is
// case-sensitive and applies to entries directly inside the source
// directory only. Dot-files never match, as with a shell glob.
const Pattern = "*.pdf"

// Scan checks that dir is a readable directory and returns a sequence of the
// PDF documents inside it, in lexicographic file-name order. The directory is
// listed again every time the sequence is ranged over, so the sequence can be
// restarted. An empty directory yields nothing; an inaccessible one fails
// with a *types.FilesystemError. If a later listing fails the sequence ends
// early and the failure is indistinguishable from an empty directory.
func Scan(dir string) (iter.Seq[types.Document], error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &types.FilesystemError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &types.FilesystemError{Path: dir, Err: fmt.Errorf("not a directory")}
	}
	if _, err := os.ReadDir(dir); err != nil {
		return nil, &types.FilesystemError{Path: dir, Err: err}
	}

	return func(yield func(types.Document) bool) {
		// os.ReadDir sorts by file name.
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if ok, _ := filepath.Match(Pattern, entry.Name()); !ok {
				continue
			}
			if !yield(types.NewDocument(filepath.Join(dir, entry.Name()))) {
				return
			}
		}
	}, nil
}

// List collects the documents of dir into a slice.
func List(dir string) ([]types.Document, error) {
	seq, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	var docs []types.Document
	for doc := range seq {
		docs = append(docs, doc)
	}
	return docs, nil
}
