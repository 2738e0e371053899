// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package static serves files and directory listings from a root folder.
package static

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/z5labs/staticd/http1"
)

// NotFoundPage is the body of every 404 response.
const NotFoundPage = "<html><head><title>404 Not Found</title></head><body>NOT FOUND</body></html>"

const (
	htmlContentType    = "text/html; charset=utf-8"
	defaultContentType = "application/octet-stream"
)

// RootError is returned by [NewResolver] when the root folder is unusable.
type RootError struct {
	Root  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e RootError) Error() string {
	return fmt.Sprintf("invalid root folder %s: %s", e.Root, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e RootError) Unwrap() error {
	return e.Cause
}

var errRootNotDir = fmt.Errorf("not a directory")

// Resolution is the outcome of resolving a request path.
type Resolution struct {
	Status int
	Entity http1.Entity
}

// Resolver maps decoded URL paths onto files below a root folder.
// Resolved paths never escape the root, neither through ".." segments
// nor through symbolic links.
type Resolver struct {
	root string

	// root with symbolic links evaluated
	realRoot string
}

// NewResolver validates that root is an existing directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, RootError{Root: root, Cause: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, RootError{Root: root, Cause: err}
	}
	if !info.IsDir() {
		return nil, RootError{Root: root, Cause: errRootNotDir}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, RootError{Root: root, Cause: err}
	}
	return &Resolver{root: abs, realRoot: resolved}, nil
}

// Root returns the absolute root folder.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns a file entity for regular files, an HTML listing for
// directories and a 404 resolution for anything else.
func (r *Resolver) Resolve(urlPath string) Resolution {
	clean := path.Clean("/" + urlPath)
	name := filepath.Join(r.root, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err != nil {
		return notFound()
	}
	if !r.confined(name) {
		return notFound()
	}

	if info.IsDir() {
		entity, err := listDirectory(name, clean)
		if err != nil {
			return notFound()
		}
		return Resolution{Status: http1.StatusOK, Entity: entity}
	}

	entity, err := http1.NewFileEntity(name, contentTypeOf(name))
	if err != nil {
		return notFound()
	}
	return Resolution{Status: http1.StatusOK, Entity: entity}
}

// confined reports whether name, once its symbolic links are evaluated,
// still lies below the root.
func (r *Resolver) confined(name string) bool {
	resolved, err := filepath.EvalSymlinks(name)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.realRoot, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func notFound() Resolution {
	return Resolution{
		Status: http1.StatusNotFound,
		Entity: http1.NewStringEntity(NotFoundPage, htmlContentType),
	}
}

// contentTypeOf guesses from the file extension only; file contents are
// never sniffed.
func contentTypeOf(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return defaultContentType
	}
	return ct
}
