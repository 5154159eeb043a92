// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
)

// Scope says how far a failure reaches.
type Scope int

const (
	// DocumentScoped failures affect one input file; the batch continues.
	DocumentScoped Scope = iota
	// BatchScoped failures come from the run configuration and end the run.
	BatchScoped
)

func (s Scope) String() string {
	if s == BatchScoped {
		return "batch"
	}
	return "document"
}

// FilesystemError reports an inaccessible source or output directory.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem: %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// NotFoundError reports a document whose source path does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("the file %q does not exist", e.Path)
}

// ConversionError wraps an engine failure for one document.
type ConversionError struct {
	Path   string
	Engine string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting %s with %s: %v", e.Path, e.Engine, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ArtifactError is one file of an OutputLayout that could not be written.
type ArtifactError struct {
	Path string
	Err  error
}

func (e ArtifactError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// WriteError reports artifacts of one document that failed to persist.
// Artifacts written before or after a failure are left in place.
type WriteError struct {
	Dir      string
	Failures []ArtifactError
}

func (e *WriteError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("writing %s: %s", e.Dir, strings.Join(parts, "; "))
}

// Unwrap exposes every underlying cause to errors.Is and errors.As.
func (e *WriteError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// ScopeOf classifies err. Only FilesystemError is batch-scoped.
func ScopeOf(err error) Scope {
	var fsErr *FilesystemError
	if errors.As(err, &fsErr) {
		return BatchScoped
	}
	return DocumentScoped
}
