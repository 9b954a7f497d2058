// Package library is the prompt/skill content collaborator (§6): it opens
// paths under /AI/Prompts/ (single-file instruction templates) and
// /AI/Skill/ (a folder carrying an index.yaml describing instructions and
// tools), rendering `{{.param}}` substitution (Jinja2-like delimiters) with
// text/template. Grounded on original_source's svc_router.py
// (update_instructions, load_instruction) for exact semantics and on the
// teacher's runtime/agent/runtime/hints/hints.go for the Go text/template
// idiom (compiled template, builder-backed rendering, missing-key safety).
package library

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Service opens library content by path. Paths are library-relative
// ("/AI/Prompts/default.md", "/AI/Skill/triage/"), never host filesystem
// paths; a concrete Service decides how that maps onto real storage.
type Service interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// FSService is a filesystem-backed Service rooted at a local directory,
// the natural stand-in for whatever backs asab's LibraryService
// (filesystem, git, zookeeper) in the original source — none of those
// integrations are named by the spec, so a local directory root is the
// simplest faithful implementation.
type FSService struct {
	Root string
}

// NewFSService constructs an FSService rooted at root.
func NewFSService(root string) *FSService {
	return &FSService{Root: root}
}

// Open resolves path against Root, rejecting escapes via filepath.Clean.
func (s *FSService) Open(_ context.Context, path string) (io.ReadCloser, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.Root, clean)
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// readAll opens path and returns its full contents, or (nil, nil) if the
// path does not exist — the caller treats a missing prompt/skill file as
// "not found", matching original_source's `if item_io is not None` guard.
func readAll(ctx context.Context, svc Service, path string) ([]byte, error) {
	f, err := svc.Open(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
