// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"fmt"
	"io"
	"os"

	"github.com/z5labs/staticd/internal/try"
)

// Entity is a response body whose exact length is known before it is
// written.
type Entity interface {
	io.WriterTo

	// Len is the exact number of bytes WriteTo will write.
	Len() int64

	// ContentType is the media type of the entity, or "" if unknown.
	ContentType() string
}

// StringEntity is an in-memory entity.
type StringEntity struct {
	b           []byte
	contentType string
}

// NewStringEntity returns an entity containing the UTF-8 bytes of s.
func NewStringEntity(s string, contentType string) *StringEntity {
	return &StringEntity{
		b:           []byte(s),
		contentType: contentType,
	}
}

// Len implements the [Entity] interface.
func (e *StringEntity) Len() int64 {
	return int64(len(e.b))
}

// ContentType implements the [Entity] interface.
func (e *StringEntity) ContentType() string {
	return e.contentType
}

// WriteTo implements the [io.WriterTo] interface.
func (e *StringEntity) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e.b)
	return int64(n), err
}

// NotRegularFileError is returned by [NewFileEntity] for directories,
// devices and other non-regular files.
type NotRegularFileError struct {
	Path string
}

// Error implements the [builtin.error] interface.
func (e NotRegularFileError) Error() string {
	return fmt.Sprintf("not a regular file: %s", e.Path)
}

// FileEntity streams a file from disk. The file is opened on every WriteTo
// and never held open between writes.
type FileEntity struct {
	path        string
	size        int64
	contentType string
}

// NewFileEntity stats path to capture its size. It fails if path does not
// name a regular file.
func NewFileEntity(path string, contentType string) (*FileEntity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, NotRegularFileError{Path: path}
	}

	e := &FileEntity{
		path:        path,
		size:        info.Size(),
		contentType: contentType,
	}
	return e, nil
}

// Path returns the file system path of the entity.
func (e *FileEntity) Path() string {
	return e.path
}

// Len implements the [Entity] interface.
func (e *FileEntity) Len() int64 {
	return e.size
}

// ContentType implements the [Entity] interface.
func (e *FileEntity) ContentType() string {
	return e.contentType
}

// WriteTo implements the [io.WriterTo] interface. It writes at most Len
// bytes even if the file has grown since it was stat'ed; a file which has
// shrunk results in a [LengthMismatchError].
func (e *FileEntity) WriteTo(w io.Writer) (n int64, err error) {
	f, err := os.Open(e.path)
	if err != nil {
		return 0, err
	}
	defer try.Close(&err, f)

	n, err = io.CopyN(w, f, e.size)
	if err == io.EOF {
		return n, LengthMismatchError{Declared: e.size, Written: n}
	}
	return n, err
}
