package kfmt

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	errUnknownPanic = &kernel.Error{Module: "kernel", Message: "unknown cause"}
)

// Panic reports e on the kernel log and halts the CPU. Any value that is not
// a *kernel.Error, an error or a string is reported as an unknown cause.
func Panic(e interface{}) {
	err := errUnknownPanic
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case error:
		err = &kernel.Error{Module: errUnknownPanic.Module, Message: t.Error()}
	case string:
		err = &kernel.Error{Module: errUnknownPanic.Module, Message: t}
	}

	if err.Errno != 0 {
		Printf("\n[%s] panic: %s (errno %d)\n", err.Module, err.Message, int32(err.Errno))
	} else {
		Printf("\n[%s] panic: %s\n", err.Module, err.Message)
	}
	Printf("system halted\n")

	cpuHaltFn()
}
