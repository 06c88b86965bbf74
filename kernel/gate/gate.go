// Package gate routes exceptions, hardware interrupts and syscalls raised by
// the CPU to the kernel handlers registered for them.
package gate

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"io"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. It is the trap frame left by the interrupt
// entry code; returning from the interrupt restores the CPU from it.
type Registers struct {
	cpu.Context

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %08x EBX = %08x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %08x EDX = %08x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %08x EDI = %08x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %08x\n", r.EBP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %08x CS  = %08x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %08x SS  = %08x\n", r.ESP, r.SS)
	kfmt.Fprintf(w, "EFL = %08x\n", r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(cpu.VectorInvalidOpcode)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(cpu.VectorGPF)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(cpu.VectorPageFault)

	// IRQBase is the vector that the PIC maps IRQ 0 to.
	IRQBase = InterruptNumber(0x20)

	// TimerIRQ is raised by the programmable interval timer.
	TimerIRQ = IRQBase

	// Syscall is the software interrupt used by user programs to invoke
	// kernel services.
	Syscall = InterruptNumber(cpu.VectorSyscall)
)

// Handler services an interrupt. The handler may modify regs; the CPU
// resumes from the modified frame.
type Handler func(regs *Registers)

var (
	handlers [256]Handler

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
)

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Passing a nil handler removes any
// previously installed handler.
func HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	handlers[intNumber] = handler
}

// Dispatch routes an incoming interrupt to the installed handler. Reaching
// an interrupt without a handler is a fatal kernel error.
func Dispatch(intNumber InterruptNumber, regs *Registers) {
	if handler := handlers[intNumber]; handler != nil {
		handler(regs)
		return
	}

	kfmt.Printf("\nunhandled interrupt %d\nRegisters:\n", uint8(intNumber))
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errUnhandledInterrupt)
}
