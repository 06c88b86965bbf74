package proc

import (
	"gopherix/kernel"
	"gopherix/kernel/gate"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/task"
)

// System call numbers. The POSIX calls use the i386 Linux numbers.
const (
	SysExit        = uint32(1)
	SysFork        = uint32(2)
	SysRead        = uint32(3)
	SysWrite       = uint32(4)
	SysOpen        = uint32(5)
	SysClose       = uint32(6)
	SysWaitpid     = uint32(7)
	SysExecve      = uint32(11)
	SysLseek       = uint32(19)
	SysGetpid      = uint32(20)
	SysKill        = uint32(37)
	SysBrk         = uint32(45)
	SysGetppid     = uint32(64)
	SysSigaction   = uint32(67)
	SysSigsuspend  = uint32(72)
	SysSigreturn   = uint32(119)
	SysSigprocmask = uint32(126)

	// Legacy interface.
	SysHalt       = uint32(0x101)
	SysExecute    = uint32(0x102)
	SysSetHandler = uint32(0x103)
	SysSbrk       = uint32(0x104)

	// sysKilled is issued by the death stub.
	sysKilled = uint32(0x1ff)
)

// blocked is returned by system calls that already stored the value seen
// by the caller in its registers, typically because the caller was put to
// sleep or its instruction pointer was rewound.
const blocked = int32(-1 << 31)

var errNoSyscall = &kernel.Error{Module: "proc", Message: "unknown system call", Errno: kernel.ENOSYS}

type syscallFn func(t *task.Task, arg1, arg2, arg3 uint32) int32

func (k *Kernel) syscallTable() map[uint32]syscallFn {
	return map[uint32]syscallFn{
		SysExit:        k.sysExit,
		SysFork:        k.sysFork,
		SysRead:        k.sysRead,
		SysWrite:       k.sysWrite,
		SysOpen:        k.sysOpen,
		SysClose:       k.sysClose,
		SysWaitpid:     k.sysWaitpid,
		SysExecve:      k.sysExecve,
		SysLseek:       k.sysLseek,
		SysGetpid:      k.sysGetpid,
		SysKill:        k.sysKill,
		SysBrk:         k.sysBrk,
		SysGetppid:     k.sysGetppid,
		SysSigaction:   k.sysSigaction,
		SysSigsuspend:  k.sysSigsuspend,
		SysSigreturn:   k.sysSigreturn,
		SysSigprocmask: k.sysSigprocmask,
		SysHalt:        k.sysHalt,
		SysExecute:     k.sysExecute,
		SysSetHandler:  k.sysSetHandler,
		SysSbrk:        k.sysSbrk,
		sysKilled:      k.sysKilled,
	}
}

// handleSyscall is the "int 0x80" handler. The syscall number is in EAX and
// the arguments in EBX, ECX and EDX. The result is returned in EAX unless
// the call switched away from the caller.
func (k *Kernel) handleSyscall(regs *gate.Registers) {
	caller := k.tasks.Current()
	regs.OrigEAX = regs.EAX

	fn, ok := k.syscalls[regs.EAX]
	if !ok {
		kfmt.Printf("[proc] pid %d: unknown syscall 0x%x\n", caller.Pid, regs.EAX)
		regs.EAX = uint32(errNoSyscall.Negated())
		return
	}

	ret := fn(caller, regs.EBX, regs.ECX, regs.EDX)
	if ret != blocked && k.tasks.Current() == caller {
		regs.EAX = uint32(ret)
	}
}

// rewind makes the current task re-issue its system call once it resumes.
func (k *Kernel) rewind() {
	k.frame.EIP -= 2
	k.frame.EAX = k.frame.OrigEAX
}

func errno(err *kernel.Error) int32 {
	return err.Negated()
}
