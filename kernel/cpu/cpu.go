// Package cpu models the parts of an i386 processor that the kernel drives
// directly: the register file, the interrupt flag, the task-state segment,
// the paging root register and the interrupt request line.
package cpu

import "sync/atomic"

// EFlags bits used by the kernel.
const (
	FlagZero      = uint32(1 << 6)
	FlagInterrupt = uint32(1 << 9)

	// flagReserved is bit 1 which always reads as 1.
	flagReserved = uint32(1 << 1)

	// UserFlags is the EFLAGS value loaded when entering a fresh program.
	UserFlags = FlagInterrupt | flagReserved
)

// Segment selectors for the flat protected-mode model.
const (
	KernelCS = uint32(0x10)
	KernelDS = uint32(0x18)
	UserCS   = uint32(0x23)
	UserDS   = uint32(0x2b)
)

// Context is a snapshot of the register state of an execution context. It is
// the value saved into a task when it is switched out and loaded back into
// the trap frame when the task is resumed.
type Context struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32
	ESP uint32

	// OrigEAX holds the syscall number for contexts that entered the
	// kernel through a syscall so an interrupted call can be re-issued.
	OrigEAX uint32

	// The return frame used by IRET
	EIP    uint32
	CS     uint32
	EFlags uint32
	SS     uint32
}

// Reg returns a pointer to the general purpose register encoded by index
// using the x86 register numbering (EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI).
func (c *Context) Reg(index uint8) *uint32 {
	switch index & 7 {
	case 0:
		return &c.EAX
	case 1:
		return &c.ECX
	case 2:
		return &c.EDX
	case 3:
		return &c.EBX
	case 4:
		return &c.ESP
	case 5:
		return &c.EBP
	case 6:
		return &c.ESI
	default:
		return &c.EDI
	}
}

// TSS holds the fields of the hardware task-state segment the kernel uses.
// On a privilege change the CPU loads the kernel stack from ESP0/SS0.
type TSS struct {
	ESP0 uint32
	SS0  uint32
}

var (
	// TaskState is the single task-state segment of the processor.
	TaskState = TSS{SS0: KernelDS}

	interruptsEnabled uint32
	pendingIRQ        uint32
	halted            uint32
	cr2               uint32
	cr3Reloads        uint64
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	atomic.StoreUint32(&interruptsEnabled, 1)
}

// DisableInterrupts disables interrupt handling and returns whether
// interrupts were enabled before the call so it can be passed to
// RestoreInterrupts at the end of a critical section.
func DisableInterrupts() bool {
	return atomic.SwapUint32(&interruptsEnabled, 0) == 1
}

// RestoreInterrupts re-enables interrupts if they were enabled when the
// matching DisableInterrupts call was made.
func RestoreInterrupts(wasEnabled bool) {
	if wasEnabled {
		EnableInterrupts()
	}
}

// InterruptsEnabled reports the state of the interrupt flag.
func InterruptsEnabled() bool {
	return atomic.LoadUint32(&interruptsEnabled) == 1
}

// RaiseIRQ asserts the interrupt request line for the given IRQ number. It
// may be called from any goroutine; the line is sampled by TakeIRQ between
// instructions.
func RaiseIRQ(line uint8) {
	for {
		old := atomic.LoadUint32(&pendingIRQ)
		if atomic.CompareAndSwapUint32(&pendingIRQ, old, old|(1<<(line&31))) {
			return
		}
	}
}

// TakeIRQ acknowledges the lowest pending IRQ line. It reports false if no
// line is asserted or if interrupts are disabled.
func TakeIRQ() (uint8, bool) {
	if !InterruptsEnabled() {
		return 0, false
	}

	for {
		old := atomic.LoadUint32(&pendingIRQ)
		if old == 0 {
			return 0, false
		}

		var line uint8
		for old&(1<<line) == 0 {
			line++
		}

		if atomic.CompareAndSwapUint32(&pendingIRQ, old, old&^(1<<line)) {
			return line, true
		}
	}
}

// Halt stops instruction execution until the next interrupt.
func Halt() {
	atomic.StoreUint32(&halted, 1)
}

// Halted reports whether Halt was called and clears the halted state.
func Halted() bool {
	return atomic.SwapUint32(&halted, 0) == 1
}

// SetKernelStack points the TSS kernel stack at esp0.
func SetKernelStack(esp0 uint32) {
	TaskState.ESP0 = esp0
}

// ReloadCR3 reloads the root page-table pointer which invalidates every
// non-global TLB entry.
func ReloadCR3() {
	atomic.AddUint64(&cr3Reloads, 1)
}

// CR3Reloads returns the number of times the paging root was reloaded.
func CR3Reloads() uint64 {
	return atomic.LoadUint64(&cr3Reloads)
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint32 {
	return atomic.LoadUint32(&cr2)
}

func writeCR2(addr uint32) {
	atomic.StoreUint32(&cr2, addr)
}

// Resume performs the return into a saved register snapshot by loading
// next into the trap frame that the interrupt return path restores. Once
// Resume is called the previous contents of frame belong to nobody; the
// caller must not touch the frame on behalf of the task it interrupted.
func Resume(frame, next *Context) {
	*frame = *next
}
