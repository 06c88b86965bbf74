// Package vmm manages the processor's two-level page tables: one page
// directory whose entries either map a 4MB large page directly or point to a
// page table of 1024 fine (4KB) entries. The page directory is the single
// active translation root; address spaces are switched by removing the
// outgoing task's entries and installing the incoming task's.
package vmm

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page
// directory or page table entry.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagLargePage is set on directory entries that map a 4MB page.
	FlagLargePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagCopyOnWrite is used to implement copy-on-write functionality. This
	// flag and FlagRW are mutually exclusive. The CPU ignores it.
	FlagCopyOnWrite
)

const (
	// entryCount is the number of entries in a page directory or table.
	entryCount = 1024

	// entryFlagMask selects the flag bits of an entry.
	entryFlagMask = uint32(0xfff)

	tableAddrMask = ^uint32(mm.PageSize - 1)
	largeAddrMask = ^uint32(mm.LargePageSize - 1)
)

// EntryKind identifies which paging structure a mapping lives in.
type EntryKind uint8

const (
	// KindLarge is a directory entry mapping a 4MB page.
	KindLarge EntryKind = iota

	// KindTable is a directory entry pointing to a page table.
	KindTable

	// KindFine is a page table entry mapping a 4KB page.
	KindFine
)

// PageSize returns the span of virtual memory covered by an entry of this
// kind.
func (k EntryKind) PageSize() uint32 {
	if k == KindFine {
		return mm.PageSize
	}
	return mm.LargePageSize
}

// FrameTracker reports the allocation state of physical frames. It is
// implemented by the physical frame allocator.
type FrameTracker interface {
	IsAllocated(addr uint32, large bool) bool
	IsReserved(addr uint32, large bool) bool
}

// FaultHandler is invoked for protection faults raised while the kernel
// accesses user memory. It returns true if the fault was resolved and the
// access should be retried.
type FaultHandler func(fault *Fault) bool

var (
	// switchPDTFn is used by tests to observe reloads of the paging root.
	switchPDTFn = cpu.ReloadCR3

	errNotMapped     = &kernel.Error{Module: "vmm", Message: "virtual address is not mapped", Errno: kernel.EINVAL}
	errMisaligned    = &kernel.Error{Module: "vmm", Message: "misaligned address", Errno: kernel.EINVAL}
	errNoTable       = &kernel.Error{Module: "vmm", Message: "directory entry does not point to a page table", Errno: kernel.EINVAL}
	errUnallocated   = &kernel.Error{Module: "vmm", Message: "target frame is not allocated", Errno: kernel.EINVAL}
	errAlreadyMapped = &kernel.Error{Module: "vmm", Message: "entry already present", Errno: kernel.EEXIST}
	errReservedFrame = &kernel.Error{Module: "vmm", Message: "target frame is reserved by the kernel", Errno: kernel.EACCES}
	errStaticEntry   = &kernel.Error{Module: "vmm", Message: "statically mapped entries cannot be removed", Errno: kernel.EACCES}
	errBadAddress    = &kernel.Error{Module: "vmm", Message: "bad address", Errno: kernel.EFAULT}
)

// Mapper owns the page directory and the TLB.
type Mapper struct {
	mem    *mm.PhysMem
	frames FrameTracker

	directory [entryCount]pageTableEntry
	tlb       map[uint32]tlbEntry

	faultHandler FaultHandler
}

// NewMapper creates a mapper with an empty page directory.
func NewMapper(mem *mm.PhysMem, frames FrameTracker) *Mapper {
	return &Mapper{
		mem:    mem,
		frames: frames,
		tlb:    make(map[uint32]tlbEntry),
	}
}

// Init installs the static low mappings shared by every address space: the
// page table for the first 4MB (which lives in lowTable, a fine frame) and
// the global large page holding the kernel image.
func (m *Mapper) Init(lowTable uint32) *kernel.Error {
	if err := m.mem.Zero(lowTable, mm.PageSize); err != nil {
		return err
	}

	m.MapKernelTable(0, lowTable, FlagRW|FlagUserAccessible)
	m.MapKernelLarge(mm.KernelBase, mm.KernelImageFrame.Address(), FlagRW|FlagGlobal)
	m.Flush()
	return nil
}

// SetFaultHandler registers the handler used to resolve protection faults
// raised by CopyIn/CopyOut.
func (m *Mapper) SetFaultHandler(handler FaultHandler) {
	m.faultHandler = handler
}
