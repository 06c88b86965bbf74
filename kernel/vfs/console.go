package vfs

import "io"

// Console adapts a terminal to the File interface. Seeking is not
// supported.
type Console struct {
	rw io.ReadWriter
}

// NewConsole returns a console device backed by rw.
func NewConsole(rw io.ReadWriter) *Console {
	return &Console{rw: rw}
}

// Read implements io.Reader.
func (c *Console) Read(p []byte) (int, error) {
	return c.rw.Read(p)
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	return c.rw.Write(p)
}

// Seek implements io.Seeker.
func (c *Console) Seek(int64, int) (int64, error) {
	return 0, errBadSeek
}

// Close implements io.Closer.
func (c *Console) Close() error {
	return nil
}
