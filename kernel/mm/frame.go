package mm

// LargeFrame describes a 4MB physical memory frame index.
type LargeFrame uint32

// Address returns the physical address of the frame.
func (f LargeFrame) Address() uint32 {
	return uint32(f) << LargePageShift
}

// LargeFrameFromAddress returns the large frame that contains physAddr.
func LargeFrameFromAddress(physAddr uint32) LargeFrame {
	return LargeFrame(physAddr >> LargePageShift)
}

// FineFrame describes a 4KB frame index inside the fine-grained pool.
type FineFrame uint32

// Address returns the physical address of the frame.
func (f FineFrame) Address() uint32 {
	return FinePoolFrame.Address() + uint32(f)<<PageShift
}

// FineFrameFromAddress returns the fine frame that contains physAddr. The
// second return value is false if physAddr lies outside the fine pool.
func FineFrameFromAddress(physAddr uint32) (FineFrame, bool) {
	if LargeFrameFromAddress(physAddr) != FinePoolFrame {
		return 0, false
	}
	return FineFrame((physAddr - FinePoolFrame.Address()) >> PageShift), true
}

// IsPageAligned returns true if addr is a multiple of PageSize.
func IsPageAligned(addr uint32) bool {
	return addr&(PageSize-1) == 0
}

// IsLargePageAligned returns true if addr is a multiple of LargePageSize.
func IsLargePageAligned(addr uint32) bool {
	return addr&(LargePageSize-1) == 0
}

// PageAlignDown rounds addr down to a page boundary of the given size,
// which must be a power of two.
func PageAlignDown(addr, size uint32) uint32 {
	return addr &^ (size - 1)
}

// PageAlignUp rounds addr up to a page boundary of the given size, which
// must be a power of two.
func PageAlignUp(addr, size uint32) uint32 {
	return (addr + size - 1) &^ (size - 1)
}
