package vmm

import "gopherix/kernel/cpu"

// Fault describes a failed translation.
type Fault struct {
	// Addr is the virtual address that could not be accessed.
	Addr uint32

	// Code holds the page-fault error code bits (cpu.FaultPresent,
	// cpu.FaultWrite and cpu.FaultUser).
	Code uint32
}

func newFault(addr uint32, present, write, user bool) *Fault {
	f := &Fault{Addr: addr}
	if present {
		f.Code |= cpu.FaultPresent
	}
	if write {
		f.Code |= cpu.FaultWrite
	}
	if user {
		f.Code |= cpu.FaultUser
	}
	return f
}

// Present returns true if the fault was caused by a protection violation
// on a present page.
func (f *Fault) Present() bool { return f.Code&cpu.FaultPresent != 0 }

// Write returns true if the faulting access was a write.
func (f *Fault) Write() bool { return f.Code&cpu.FaultWrite != 0 }

// Exception converts the fault into the page-fault exception raised by the
// processor.
func (f *Fault) Exception() *cpu.Exception {
	return &cpu.Exception{Vector: cpu.VectorPageFault, ErrorCode: f.Code}
}

// Reason returns a human readable description of a page fault error code.
func Reason(errorCode uint32) string {
	switch {
	case errorCode == 0:
		return "read from non-present page"
	case errorCode == 1:
		return "page protection violation (read)"
	case errorCode == 2:
		return "write to non-present page"
	case errorCode == 3:
		return "page protection violation (write)"
	case errorCode == 4:
		return "page-fault in user-mode"
	case errorCode == 5:
		return "read from protected page in user-mode"
	case errorCode == 6:
		return "write to non-present page in user-mode"
	case errorCode == 7:
		return "write to protected page in user-mode"
	default:
		return "unknown"
	}
}
