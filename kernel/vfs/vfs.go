// Package vfs is the file boundary used by the process subsystem: a small
// File interface, reference-counted handles shared between descriptor
// tables, and the FS interface used to open executables and devices.
package vfs

import (
	"io"

	"gopherix/kernel"
)

var (
	errNotFound  = &kernel.Error{Module: "vfs", Message: "no such file or directory", Errno: kernel.ENOENT}
	errExists    = &kernel.Error{Module: "vfs", Message: "file exists", Errno: kernel.EEXIST}
	errBadSeek   = &kernel.Error{Module: "vfs", Message: "invalid seek", Errno: kernel.EINVAL}
	errReadOnly  = &kernel.Error{Module: "vfs", Message: "file is read-only", Errno: kernel.EACCES}
	errIOFailure = &kernel.Error{Module: "vfs", Message: "i/o error", Errno: kernel.EINVAL}
)

// File is an open file.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// FS resolves paths to files.
type FS interface {
	Open(path string) (File, *kernel.Error)
}

// Handle is an open file shared by every descriptor that refers to it.
// The file is closed when the last reference is dropped.
type Handle struct {
	file File
	refs int
}

// NewHandle wraps f in a handle holding one reference.
func NewHandle(f File) *Handle {
	return &Handle{file: f, refs: 1}
}

// File returns the underlying file.
func (h *Handle) File() File {
	return h.file
}

// Refs returns the number of descriptors referring to h.
func (h *Handle) Refs() int {
	return h.refs
}

// Acquire adds a reference to h and returns it.
func (h *Handle) Acquire() *Handle {
	h.refs++
	return h
}

// Release drops a reference, closing the file when none are left.
func (h *Handle) Release() {
	if h.refs == 0 {
		return
	}

	h.refs--
	if h.refs == 0 {
		_ = h.file.Close()
	}
}

// ToError converts an error returned by a File method into a kernel error.
func ToError(err error) *kernel.Error {
	if err == nil || err == io.EOF {
		return nil
	}
	if kerr, ok := err.(*kernel.Error); ok {
		return kerr
	}
	return errIOFailure
}
