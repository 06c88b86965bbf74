package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the size of a fine (4KB) page in bytes.
	PageSize = uint32(1 << PageShift)

	// LargePageShift is equal to log2(LargePageSize).
	LargePageShift = 22

	// LargePageSize defines the size of a large (4MB) page in bytes.
	LargePageSize = uint32(1 << LargePageShift)

	// FinePerLarge is the number of fine pages that fit in a large page.
	FinePerLarge = LargePageSize / PageSize

	// WordSize is the size of a machine word in bytes.
	WordSize = 4
)

// Physical memory layout. The first large frames are owned by the kernel and
// can never be released; the fine-grained pool lives inside its own reserved
// large frame.
const (
	// LowMemoryFrame holds the first 4MB of physical memory (BIOS area,
	// video memory, boot structures).
	LowMemoryFrame = LargeFrame(0)

	// KernelImageFrame holds the kernel image.
	KernelImageFrame = LargeFrame(1)

	// KernelStackFrame holds the kernel-stack slots of all tasks.
	KernelStackFrame = LargeFrame(2)

	// FinePoolFrame is the large frame carved into 4KB frames.
	FinePoolFrame = LargeFrame(3)

	// FirstDynamicFrame is the first large frame handed out by the
	// allocator.
	FirstDynamicFrame = LargeFrame(4)
)

// Virtual memory layout shared by every address space.
const (
	// KernelBase is the virtual address of the kernel image. It is mapped
	// 1:1 with a global large page.
	KernelBase = uint32(KernelImageFrame) << LargePageShift

	// StaticLimit is the end of the statically mapped low region. Directory
	// entries below it are installed at boot and never removed.
	StaticLimit = uint32(2) << LargePageShift

	// TrampolineAddr is the user-visible page holding the signal-return
	// trampoline and the termination stub. It is the last fine page of the
	// static low table.
	TrampolineAddr = LargePageSize - PageSize

	// UserStackTop is the initial user stack pointer of a freshly
	// executed program.
	UserStackTop = uint32(0xc0000000)

	// UserStackBase is the address of the large page backing the user
	// stack.
	UserStackBase = UserStackTop - LargePageSize

	// TransientStackBase is the scratch large page used by execve to
	// build the argument block of the new program before the old address
	// space is discarded.
	TransientStackBase = uint32(0xffc00000)
)
