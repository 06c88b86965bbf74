// Package proc ties the task table, the scheduler and the signal subsystem
// together behind the system call interface and drives the CPU loop.
package proc

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/gate"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/sched"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

// Addresses inside the trampoline page.
const (
	// SigreturnTrampoline is the return address of every signal handler.
	SigreturnTrampoline = mm.TrampolineAddr

	// DeathStub re-enters the kernel to terminate a task killed by a
	// signal. EBX holds the signal number.
	DeathStub = mm.TrampolineAddr + 16
)

var (
	// trampolineCode is "mov eax, SysSigreturn; int 0x80".
	trampolineCode = []byte{0xb8, byte(SysSigreturn), 0, 0, 0, 0xcd, 0x80}

	// deathStubCode is "mov eax, sysKilled; int 0x80".
	deathStubCode = []byte{0xb8, byte(sysKilled & 0xff), byte(sysKilled >> 8), 0, 0, 0xcd, 0x80}
)

// Config holds the tunables of the process subsystem.
type Config struct {
	// FS resolves executable paths and files opened by user programs.
	FS vfs.FS

	// PageMapReserve is the number of page map slots added to each
	// executable's own mappings for its stack and heap.
	PageMapReserve int

	// Quantum is the number of user instructions executed between timer
	// interrupts raised by Run. Zero leaves the timer to an external
	// source.
	Quantum int
}

// Kernel is the process subsystem.
type Kernel struct {
	tasks  *task.Table
	sched  *sched.Scheduler
	frames task.FrameAllocator
	mem    *mm.PhysMem
	fs     vfs.FS

	// frame holds the registers of the current task while the kernel
	// handles a trap.
	frame gate.Registers

	reserve  int
	quantum  int
	steps    uint64
	syscalls map[uint32]syscallFn
}

// New creates the process subsystem for tasks. It installs the trampoline
// page, registers the trap handlers and the copy-on-write fault handler.
func New(tasks *task.Table, frames task.FrameAllocator, mem *mm.PhysMem, cfg Config) (*Kernel, *kernel.Error) {
	k := &Kernel{
		tasks:   tasks,
		frames:  frames,
		mem:     mem,
		fs:      cfg.FS,
		reserve: cfg.PageMapReserve,
		quantum: cfg.Quantum,
	}
	if k.reserve < 1 {
		k.reserve = 1
	}

	k.sched = sched.New(tasks, &k.frame)
	k.sched.SetCheckpoint(k.deliver)
	k.syscalls = k.syscallTable()

	if err := k.installTrampoline(); err != nil {
		return nil, err
	}

	k.frame.Context = tasks.Current().Context
	tasks.Mapper().SetFaultHandler(k.resolveKernelFault)

	gate.HandleInterrupt(gate.Syscall, k.handleSyscall)
	gate.HandleInterrupt(gate.TimerIRQ, k.sched.Tick)
	gate.HandleInterrupt(gate.PageFaultException, k.handlePageFault)
	gate.HandleInterrupt(gate.GPFException, k.handleGPF)
	gate.HandleInterrupt(gate.InvalidOpcode, k.handleInvalidOpcode)
	gate.HandleInterrupt(gate.DivideByZero, k.handleDivideByZero)

	return k, nil
}

// Tasks returns the task table.
func (k *Kernel) Tasks() *task.Table {
	return k.tasks
}

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler {
	return k.sched
}

// Frame returns the trap frame holding the registers of the current task.
func (k *Kernel) Frame() *gate.Registers {
	return &k.frame
}

// Frames returns the allocator backing task address spaces.
func (k *Kernel) Frames() task.FrameAllocator {
	return k.frames
}

// Memory returns the physical memory of the machine.
func (k *Kernel) Memory() *mm.PhysMem {
	return k.mem
}

// Steps returns the number of user instructions executed so far.
func (k *Kernel) Steps() uint64 {
	return k.steps
}

// installTrampoline copies the signal return trampoline and the death stub
// into a fine frame mapped read-only for user code in the static low table
// so every address space sees it.
func (k *Kernel) installTrampoline() *kernel.Error {
	phys, err := k.frames.AllocFine()
	if err != nil {
		return err
	}

	if err = k.mem.Zero(phys, mm.PageSize); err != nil {
		return err
	}
	if err = k.mem.Write(phys, trampolineCode); err != nil {
		return err
	}
	if err = k.mem.Write(phys+(DeathStub-SigreturnTrampoline), deathStubCode); err != nil {
		return err
	}

	mapper := k.tasks.Mapper()
	if err = mapper.MapKernelFine(mm.TrampolineAddr, phys, vmm.FlagUserAccessible); err != nil {
		return err
	}
	mapper.Flush()
	return nil
}

// trap dispatches an interrupt on behalf of the current task and, if that
// task is still current afterwards, delivers its pending signals before it
// resumes.
func (k *Kernel) trap(n gate.InterruptNumber, info uint32) {
	caller := k.tasks.Current()
	k.frame.Info = info
	gate.Dispatch(n, &k.frame)

	if k.tasks.Current() == caller {
		k.deliver(caller)
	}
}

// Run executes up to maxSteps user instructions, servicing traps and
// interrupts in between. It returns early with idle set when no task other
// than the kernel task is runnable.
func (k *Kernel) Run(maxSteps int) (steps int, idle bool) {
	for steps < maxSteps {
		if line, ok := cpu.TakeIRQ(); ok {
			k.trap(gate.IRQBase+gate.InterruptNumber(line), uint32(line))
			continue
		}

		cur := k.tasks.Current()
		if cur.Pid == 0 {
			next := k.sched.Next()
			if next == cur {
				return steps, true
			}
			k.sched.Switch(next)
			continue
		}

		exc := cpu.Step(&k.frame.Context, k.tasks.Mapper())
		steps++
		k.steps++

		if exc != nil {
			k.trap(gate.InterruptNumber(exc.Vector), exc.ErrorCode)
		}

		if k.quantum > 0 && k.steps%uint64(k.quantum) == 0 {
			cpu.RaiseIRQ(0)
		}
	}
	return steps, false
}

// Spawn creates a child of the kernel task running the executable at
// path. It is used at boot to start the first user program.
func (k *Kernel) Spawn(path string, argv []string) (*task.Task, *kernel.Error) {
	parent := k.tasks.Get(0)
	parent.Context = k.frame.Context

	child, err := k.tasks.Clone(parent)
	if err != nil {
		return nil, err
	}

	if _, err := k.exec(child, path, argv, nil, &child.Context); err != nil {
		if child.State != task.StateNA {
			_ = k.tasks.Release(child)
		}
		return nil, err
	}

	kfmt.Printf("[proc] spawned %s as pid %d\n", path, child.Pid)
	return child, nil
}

// Syscall invokes a system call on behalf of the current task as if it had
// executed "int 0x80" and returns the value left in EAX.
func (k *Kernel) Syscall(num, arg1, arg2, arg3 uint32) int32 {
	k.frame.EAX, k.frame.EBX, k.frame.ECX, k.frame.EDX = num, arg1, arg2, arg3
	k.trap(gate.Syscall, num)
	return int32(k.frame.EAX)
}
