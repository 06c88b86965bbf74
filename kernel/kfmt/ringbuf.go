package kfmt

import "io"

// ringBufferSize defines size of the ring buffer that buffers early Printf
// output. It can hold roughly two screens of an 80*25 text-mode console. The
// ring buffer size must always be a power of 2.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Once
// full, each write discards the oldest bytes.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start is the index of the oldest unread byte and count the number
	// of unread bytes.
	start, count int
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		end := (rb.start + rb.count) & (ringBufferSize - 1)
		rb.buffer[end] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
		} else {
			rb.count++
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once all buffered
// bytes have been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.count > 0 {
		// copy up to the end of the backing array in one go
		chunk := ringBufferSize - rb.start
		if chunk > rb.count {
			chunk = rb.count
		}
		copied := copy(p[n:], rb.buffer[rb.start:rb.start+chunk])
		n += copied
		rb.count -= copied
		rb.start = (rb.start + copied) & (ringBufferSize - 1)
	}

	return n, nil
}
