// Package pmm tracks physical memory frames. Two pools are managed
// independently: large (4MB) frames covering all of physical memory and fine
// (4KB) frames carved out of a single reserved large frame. Every frame
// carries a reference count; a count of zero marks the frame as free and a
// count above one marks a frame shared between address spaces.
package pmm

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
)

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory", Errno: kernel.ENOMEM}
	errNotAllocated    = &kernel.Error{Module: "pmm", Message: "frame is not allocated", Errno: kernel.EINVAL}
	errMisaligned      = &kernel.Error{Module: "pmm", Message: "misaligned frame address", Errno: kernel.EINVAL}
	errOutOfRange      = &kernel.Error{Module: "pmm", Message: "frame address out of range", Errno: kernel.EINVAL}
	errReservedFrame   = &kernel.Error{Module: "pmm", Message: "frame is reserved by the kernel", Errno: kernel.EACCES}
	errTooLittleMemory = &kernel.Error{Module: "pmm", Message: "not enough physical memory for the kernel layout", Errno: kernel.ENOMEM}
)

// pool tracks the reference counts of a set of equally sized frames.
type pool struct {
	refs     []uint16
	reserved []bool

	// cursor is the index where the next allocation scan starts.
	cursor uint32
}

func newPool(count uint32) pool {
	return pool{
		refs:     make([]uint16, count),
		reserved: make([]bool, count),
	}
}

// alloc scans for a free frame starting at the cursor and wrapping around
// the end of the pool. It gives up after one full lap.
func (p *pool) alloc() (uint32, bool) {
	count := uint32(len(p.refs))
	for scanned := uint32(0); scanned < count; scanned++ {
		index := (p.cursor + scanned) % count
		if p.refs[index] != 0 {
			continue
		}

		p.refs[index] = 1
		p.cursor = (index + 1) % count
		return index, true
	}

	return 0, false
}

func (p *pool) free() uint32 {
	var count uint32
	for _, refs := range p.refs {
		if refs == 0 {
			count++
		}
	}
	return count
}

// Allocator is the physical frame allocator.
type Allocator struct {
	large pool
	fine  pool
}

// NewAllocator creates an allocator for the large frames of mem. The kernel
// frames and the fine-pool reservation are marked as permanently allocated.
func NewAllocator(mem *mm.PhysMem) (*Allocator, *kernel.Error) {
	count := mem.LargeFrames()
	if count <= uint32(mm.FirstDynamicFrame) {
		return nil, errTooLittleMemory
	}

	alloc := &Allocator{
		large: newPool(count),
		fine:  newPool(mm.FinePerLarge),
	}

	for frame := mm.LowMemoryFrame; frame < mm.FirstDynamicFrame; frame++ {
		alloc.large.refs[frame] = 1
		alloc.large.reserved[frame] = true
	}
	alloc.large.cursor = uint32(mm.FirstDynamicFrame)

	kfmt.Printf("[pmm] %d large frames (%d dynamic), %d fine frames\n",
		count, count-uint32(mm.FirstDynamicFrame), mm.FinePerLarge)

	return alloc, nil
}

// AllocLarge reserves a free 4MB frame and returns its physical address.
func (a *Allocator) AllocLarge() (uint32, *kernel.Error) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	index, ok := a.large.alloc()
	if !ok {
		kfmt.Printf("[pmm] large pool exhausted\n")
		return 0, errOutOfMemory
	}
	return mm.LargeFrame(index).Address(), nil
}

// AllocFine reserves a free 4KB frame from the fine pool and returns its
// physical address.
func (a *Allocator) AllocFine() (uint32, *kernel.Error) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	index, ok := a.fine.alloc()
	if !ok {
		kfmt.Printf("[pmm] fine pool exhausted\n")
		return 0, errOutOfMemory
	}
	return mm.FineFrame(index).Address(), nil
}

// AddReference increments the reference count of an allocated frame. It is
// used when a frame becomes shared between two address spaces.
func (a *Allocator) AddReference(addr uint32, large bool) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	p, index, err := a.lookup(addr, large)
	if err != nil {
		return err
	}

	if p.refs[index] == 0 {
		return errNotAllocated
	}
	p.refs[index]++
	return nil
}

// Release drops one reference to a frame. The frame becomes available for
// allocation once its count reaches zero. Kernel-reserved frames can never
// be released. Release does not touch any page tables; callers must remove
// the mappings themselves.
func (a *Allocator) Release(addr uint32, large bool) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	p, index, err := a.lookup(addr, large)
	if err != nil {
		return err
	}

	switch {
	case p.reserved[index]:
		return errReservedFrame
	case p.refs[index] == 0:
		return errNotAllocated
	}

	p.refs[index]--
	return nil
}

// ReferenceCount returns the number of references held on a frame.
func (a *Allocator) ReferenceCount(addr uint32, large bool) (uint16, *kernel.Error) {
	p, index, err := a.lookup(addr, large)
	if err != nil {
		return 0, err
	}
	return p.refs[index], nil
}

// IsReserved returns true if the frame belongs to the kernel. For large
// frames this includes the frame hosting the fine pool.
func (a *Allocator) IsReserved(addr uint32, large bool) bool {
	p, index, err := a.lookup(addr, large)
	return err == nil && p.reserved[index]
}

// IsAllocated returns true if the frame has at least one reference.
func (a *Allocator) IsAllocated(addr uint32, large bool) bool {
	p, index, err := a.lookup(addr, large)
	return err == nil && p.refs[index] != 0
}

// FreeLarge returns the number of free large frames.
func (a *Allocator) FreeLarge() uint32 {
	return a.large.free()
}

// FreeFine returns the number of free fine frames.
func (a *Allocator) FreeFine() uint32 {
	return a.fine.free()
}

func (a *Allocator) lookup(addr uint32, large bool) (*pool, uint32, *kernel.Error) {
	if large {
		if !mm.IsLargePageAligned(addr) {
			return nil, 0, errMisaligned
		}
		index := uint32(mm.LargeFrameFromAddress(addr))
		if index >= uint32(len(a.large.refs)) {
			return nil, 0, errOutOfRange
		}
		return &a.large, index, nil
	}

	if !mm.IsPageAligned(addr) {
		return nil, 0, errMisaligned
	}
	index, ok := mm.FineFrameFromAddress(addr)
	if !ok {
		return nil, 0, errOutOfRange
	}
	return &a.fine, uint32(index), nil
}
