package task

import (
	"io"

	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/vfs"
)

var (
	errNoFreePid         = &kernel.Error{Module: "task", Message: "task table is full", Errno: kernel.EAGAIN}
	errKernelTaskExists  = &kernel.Error{Module: "task", Message: "kernel task already created", Errno: kernel.EEXIST}
	errReleaseKernelTask = &kernel.Error{Module: "task", Message: "the kernel task cannot be released", Errno: kernel.EPERM}
)

// FrameAllocator is the subset of the physical frame allocator used to back
// task address spaces.
type FrameAllocator interface {
	AllocLarge() (uint32, *kernel.Error)
	AllocFine() (uint32, *kernel.Error)
	AddReference(addr uint32, large bool) *kernel.Error
	Release(addr uint32, large bool) *kernel.Error
	ReferenceCount(addr uint32, large bool) (uint16, *kernel.Error)
}

// Table is the fixed-size task table. Tasks are addressed by pid which is
// also their index in the table.
type Table struct {
	tasks   []Task
	lastPid int
	current int

	// mapped is the pid whose page map is installed in the page tables, or
	// -1.
	mapped int

	maxFiles int
	stacks   *StackPool
	mem      *mm.PhysMem
	frames   FrameAllocator
	mapper   *vmm.Mapper
}

// NewTable creates a task table with size slots. Each task gets a
// descriptor table of maxFiles entries.
func NewTable(size, maxFiles int, mem *mm.PhysMem, frames FrameAllocator, mapper *vmm.Mapper, stacks *StackPool) *Table {
	return &Table{
		tasks:    make([]Task, size),
		mapped:   -1,
		maxFiles: maxFiles,
		stacks:   stacks,
		mem:      mem,
		frames:   frames,
		mapper:   mapper,
	}
}

// Size returns the number of task slots.
func (tb *Table) Size() int {
	return len(tb.tasks)
}

// Get returns the task with the given pid or nil if pid is out of range.
func (tb *Table) Get(pid int) *Task {
	if pid < 0 || pid >= len(tb.tasks) {
		return nil
	}
	return &tb.tasks[pid]
}

// Current returns the running task.
func (tb *Table) Current() *Task {
	return &tb.tasks[tb.current]
}

// SetCurrent marks pid as the running task.
func (tb *Table) SetCurrent(pid int) {
	tb.current = pid
}

// Stacks returns the kernel stack pool.
func (tb *Table) Stacks() *StackPool {
	return tb.stacks
}

// Mapper returns the page table mapper.
func (tb *Table) Mapper() *vmm.Mapper {
	return tb.mapper
}

// AllocPid returns the first free pid after the last one handed out,
// wrapping around the table.
func (tb *Table) AllocPid() (int, *kernel.Error) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	for i := 1; i <= len(tb.tasks); i++ {
		pid := (tb.lastPid + i) % len(tb.tasks)
		if tb.tasks[pid].State == StateNA {
			tb.lastPid = pid
			return pid, nil
		}
	}
	return -1, errNoFreePid
}

// CreateKernelTask sets up pid 0 with descriptors 0, 1 and 2 open on the
// console. Pid 0 owns the first kernel stack slot and is never released.
func (tb *Table) CreateKernelTask(console vfs.File) (*Task, *kernel.Error) {
	t := &tb.tasks[0]
	if t.State != StateNA {
		return nil, errKernelTaskExists
	}

	stackTop, err := tb.stacks.Claim(0)
	if err != nil {
		return nil, err
	}

	*t = Task{
		Pid:         0,
		State:       StateRunning,
		Files:       make([]*vfs.Handle, tb.maxFiles),
		Cwd:         "/",
		KernelStack: stackTop,
		Context: cpu.Context{
			CS:     cpu.KernelCS,
			SS:     cpu.KernelDS,
			EFlags: cpu.UserFlags,
		},
	}

	h := vfs.NewHandle(console)
	for fd := 0; fd < 3 && fd < tb.maxFiles; fd++ {
		if fd > 0 {
			h.Acquire()
		}
		t.Files[fd] = h
	}

	tb.current = 0
	tb.mapped = 0
	kfmt.Printf("[task] kernel task created\n")
	return t, nil
}

// Clone creates a child of parent: the task record and working directory
// are duplicated, every open handle gains a reference, a kernel stack slot
// is claimed and the address space is shared copy-on-write.
func (tb *Table) Clone(parent *Task) (*Task, *kernel.Error) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	pid, err := tb.AllocPid()
	if err != nil {
		return nil, err
	}

	stackTop, err := tb.stacks.Claim(pid)
	if err != nil {
		return nil, err
	}

	child := &tb.tasks[pid]
	*child = *parent
	child.Pid = pid
	child.Parent = parent.Pid
	child.State = StateRunning
	child.Stopped, child.StopReported = false, false
	child.Pending = 0
	child.SavedMask, child.HasSavedMask = 0, false
	child.Status = 0
	child.KernelStack = stackTop
	child.PageMap = parent.PageMap.Clone()

	child.Files = make([]*vfs.Handle, len(parent.Files))
	for fd, h := range parent.Files {
		if h != nil {
			child.Files[fd] = h.Acquire()
		}
	}

	if err := tb.shareForFork(parent, child); err != nil {
		_ = tb.Release(child)
		return nil, err
	}

	return child, nil
}

// Release frees every resource held by t and returns its slot to the pool
// of free pids.
func (tb *Table) Release(t *Task) *kernel.Error {
	if t.Pid == 0 {
		return errReleaseKernelTask
	}

	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t.State = StateDead
	tb.ReleaseAddressSpace(t)
	if tb.mapped == t.Pid {
		tb.mapped = -1
	}

	t.CloseFrom(0)
	t.Cwd = ""
	tb.stacks.Free(t.Pid)

	pid := t.Pid
	*t = Task{Pid: pid}
	return nil
}

// Dump writes a line for every task slot in use.
func (tb *Table) Dump(w io.Writer) {
	for i := range tb.tasks {
		t := &tb.tasks[i]
		if t.State == StateNA {
			continue
		}

		marker := ' '
		if i == tb.current {
			marker = '*'
		}
		kfmt.Fprintf(w, "%c%3d %3d %-7s pages %d/%d brk 0x%08x pending 0x%08x blocked 0x%08x\n",
			marker, t.Pid, t.Parent, t.State, t.PageMap.Len(), t.PageMap.Cap(), t.Brk, uint32(t.Pending), uint32(t.Blocked))
	}
}
