package mm

import (
	"encoding/binary"
	"gopherix/kernel"
)

var errPhysOutOfRange = &kernel.Error{Module: "mm", Message: "physical address out of range", Errno: kernel.EFAULT}

// PhysMem is the machine's physical memory. Backing storage for each large
// frame is allocated the first time the frame is touched so that machines
// with a large address space only pay for the frames they use.
type PhysMem struct {
	size   uint32
	frames [][]byte
}

// NewPhysMem creates a physical memory of the given size, rounded down to a
// multiple of LargePageSize.
func NewPhysMem(size uint32) *PhysMem {
	count := size >> LargePageShift
	return &PhysMem{
		size:   count << LargePageShift,
		frames: make([][]byte, count),
	}
}

// Size returns the amount of physical memory in bytes.
func (m *PhysMem) Size() uint32 {
	return m.size
}

// LargeFrames returns the number of large frames in physical memory.
func (m *PhysMem) LargeFrames() uint32 {
	return uint32(len(m.frames))
}

// Slice returns a view of the physical memory region [addr, addr+length).
// The region may not cross a large frame boundary.
func (m *PhysMem) Slice(addr, length uint32) ([]byte, *kernel.Error) {
	frame := addr >> LargePageShift
	offset := addr & (LargePageSize - 1)
	if frame >= uint32(len(m.frames)) || offset+length > LargePageSize || offset+length < offset {
		return nil, errPhysOutOfRange
	}

	if m.frames[frame] == nil {
		m.frames[frame] = make([]byte, LargePageSize)
	}

	return m.frames[frame][offset : offset+length], nil
}

// Read copies len(buf) bytes starting at physical address addr into buf.
func (m *PhysMem) Read(addr uint32, buf []byte) *kernel.Error {
	return m.each(addr, uint32(len(buf)), func(region []byte, done uint32) {
		kernel.Memcopy(buf[done:], region)
	})
}

// Write copies data to physical memory starting at addr.
func (m *PhysMem) Write(addr uint32, data []byte) *kernel.Error {
	return m.each(addr, uint32(len(data)), func(region []byte, done uint32) {
		kernel.Memcopy(region, data[done:])
	})
}

// Zero clears length bytes of physical memory starting at addr.
func (m *PhysMem) Zero(addr, length uint32) *kernel.Error {
	return m.each(addr, length, func(region []byte, _ uint32) {
		kernel.Memset(region, 0)
	})
}

// Copy copies length bytes from physical address src to dst.
func (m *PhysMem) Copy(dst, src, length uint32) *kernel.Error {
	buf := make([]byte, length)
	if err := m.Read(src, buf); err != nil {
		return err
	}
	return m.Write(dst, buf)
}

// ReadWord returns the little-endian word at addr.
func (m *PhysMem) ReadWord(addr uint32) (uint32, *kernel.Error) {
	var word [WordSize]byte
	if err := m.Read(addr, word[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(word[:]), nil
}

// WriteWord stores value as a little-endian word at addr.
func (m *PhysMem) WriteWord(addr, value uint32) *kernel.Error {
	var word [WordSize]byte
	binary.LittleEndian.PutUint32(word[:], value)
	return m.Write(addr, word[:])
}

// each invokes fn for every frame-contained chunk of [addr, addr+length).
func (m *PhysMem) each(addr, length uint32, fn func(region []byte, done uint32)) *kernel.Error {
	for done := uint32(0); done < length; {
		chunk := LargePageSize - ((addr + done) & (LargePageSize - 1))
		if rem := length - done; chunk > rem {
			chunk = rem
		}

		region, err := m.Slice(addr+done, chunk)
		if err != nil {
			return err
		}
		fn(region, done)
		done += chunk
	}
	return nil
}
