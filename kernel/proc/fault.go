package proc

import (
	"gopherix/kernel/cpu"
	"gopherix/kernel/gate"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/signal"
)

var readCR2Fn = cpu.ReadCR2

// handlePageFault resolves copy-on-write faults and turns every other user
// page fault into SIGSEGV. The faulting instruction is retried once the
// handler returns.
func (k *Kernel) handlePageFault(regs *gate.Registers) {
	var (
		t    = k.tasks.Current()
		addr = readCR2Fn()
		code = regs.Info
	)

	if code&cpu.FaultPresent != 0 && code&cpu.FaultWrite != 0 {
		if err := k.tasks.ResolveCopyOnWrite(t, addr); err == nil {
			return
		}
	}

	kfmt.Printf("[proc] pid %d: page fault at 0x%x (%s), eip 0x%x\n", t.Pid, addr, vmm.Reason(code), regs.EIP)
	k.forceSignal(t, signal.SIGSEGV)
}

func (k *Kernel) handleGPF(regs *gate.Registers) {
	t := k.tasks.Current()
	kfmt.Printf("[proc] pid %d: general protection fault, eip 0x%x\n", t.Pid, regs.EIP)
	k.forceSignal(t, signal.SIGSEGV)
}

func (k *Kernel) handleInvalidOpcode(regs *gate.Registers) {
	t := k.tasks.Current()
	kfmt.Printf("[proc] pid %d: invalid opcode, eip 0x%x\n", t.Pid, regs.EIP)
	k.forceSignal(t, signal.SIGILL)
}

func (k *Kernel) handleDivideByZero(regs *gate.Registers) {
	t := k.tasks.Current()
	kfmt.Printf("[proc] pid %d: divide error, eip 0x%x\n", t.Pid, regs.EIP)
	k.forceSignal(t, signal.SIGFPE)
}

// resolveKernelFault lets the kernel write to copy-on-write pages of the
// current task while copying data out to user space.
func (k *Kernel) resolveKernelFault(f *vmm.Fault) bool {
	return f.Present() && f.Write() && k.tasks.ResolveCopyOnWrite(k.tasks.Current(), f.Addr) == nil
}
