package vfs

import (
	"io"
	"sort"

	"gopherix/kernel"
)

// MemFS is an in-memory file system holding read-only images (for example
// executables) and device nodes.
type MemFS struct {
	files   map[string][]byte
	devices map[string]File
}

// NewMemFS returns an empty file system.
func NewMemFS() *MemFS {
	return &MemFS{
		files:   make(map[string][]byte),
		devices: make(map[string]File),
	}
}

// AddFile stores data under path, replacing any previous file.
func (fs *MemFS) AddFile(path string, data []byte) {
	fs.files[path] = data
}

// RegisterDevice makes dev reachable under path. Every Open of the path
// returns the same device.
func (fs *MemFS) RegisterDevice(path string, dev File) *kernel.Error {
	if _, exists := fs.devices[path]; exists {
		return errExists
	}
	fs.devices[path] = dev
	return nil
}

// Paths returns the sorted list of regular files.
func (fs *MemFS) Paths() []string {
	paths := make([]string, 0, len(fs.files))
	for path := range fs.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Open implements FS.
func (fs *MemFS) Open(path string) (File, *kernel.Error) {
	if dev, ok := fs.devices[path]; ok {
		return &device{File: dev}, nil
	}

	data, ok := fs.files[path]
	if !ok {
		return nil, errNotFound
	}
	return &memFile{data: data}, nil
}

// device shares a single device between opens; closing an open does not
// close the device.
type device struct {
	File
}

func (d *device) Close() error {
	return nil
}

// memFile is a read-only view of a MemFS file. It also implements
// io.ReaderAt so executables can be loaded from it directly.
type memFile struct {
	data []byte
	off  int64
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.off:])
	f.off += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errBadSeek
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	return 0, errReadOnly
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.off
	case io.SeekEnd:
		base = int64(len(f.data))
	default:
		return f.off, errBadSeek
	}

	if base+offset < 0 {
		return f.off, errBadSeek
	}
	f.off = base + offset
	return f.off, nil
}

func (f *memFile) Close() error {
	return nil
}
