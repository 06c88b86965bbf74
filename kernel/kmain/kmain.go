// Package kmain contains the boot sequence of the kernel.
package kmain

import (
	"io"

	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/pmm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/proc"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

// Config holds the boot parameters.
type Config struct {
	// MemSize is the amount of physical memory in bytes. It is rounded
	// down to a multiple of the large page size.
	MemSize uint32

	// Tasks is the capacity of the task table.
	Tasks int

	// MaxFiles is the size of each task's descriptor table.
	MaxFiles int

	// StackSlotSize is the size of each kernel stack carved out of the
	// kernel stack frame.
	StackSlotSize uint32

	// HZ is the timer frequency used by the host runner.
	HZ int

	// Init is the path of the first user program. No program is started
	// when it is empty.
	Init string

	// InitArgs is the argument vector passed to Init.
	InitArgs []string

	// PageMapReserve is the number of page map slots reserved for the
	// stack and heap of each program.
	PageMapReserve int

	// Quantum is the number of user instructions between two timer
	// interrupts raised by the CPU loop. Zero leaves the timer to an
	// external source.
	Quantum int
}

// DefaultConfig returns the boot parameters used when none are supplied.
func DefaultConfig() Config {
	return Config{
		MemSize:        64 << 20,
		Tasks:          16,
		MaxFiles:       16,
		StackSlotSize:  8192,
		HZ:             100,
		Init:           "/bin/init",
		PageMapReserve: 8,
	}
}

var (
	errBadTaskCount = &kernel.Error{Module: "kmain", Message: "task table needs at least two slots", Errno: kernel.EINVAL}
	errStackSlots   = &kernel.Error{Module: "kmain", Message: "kernel stack slots do not fit in the kernel stack frame", Errno: kernel.EINVAL}
)

// Kmain brings up physical memory, paging, the task table and the process
// subsystem, then spawns the init program and enables preemptive
// scheduling. The returned kernel is driven by calling Run.
func Kmain(cfg Config, fs vfs.FS, console io.ReadWriter) (*proc.Kernel, *kernel.Error) {
	if cfg.Tasks < 2 {
		return nil, errBadTaskCount
	}
	if cfg.StackSlotSize == 0 || uint64(cfg.StackSlotSize)*uint64(cfg.Tasks) > uint64(mm.LargePageSize) {
		return nil, errStackSlots
	}

	kfmt.Printf("[kmain] starting gopherix with %d MB of memory\n", cfg.MemSize>>20)

	mem := mm.NewPhysMem(cfg.MemSize)
	alloc, err := pmm.NewAllocator(mem)
	if err != nil {
		return nil, err
	}

	lowTable, err := alloc.AllocFine()
	if err != nil {
		return nil, err
	}

	mapper := vmm.NewMapper(mem, alloc)
	if err = mapper.Init(lowTable); err != nil {
		return nil, err
	}

	stacks := task.NewStackPool(mm.KernelStackFrame.Address(), cfg.StackSlotSize, cfg.Tasks)
	tasks := task.NewTable(cfg.Tasks, cfg.MaxFiles, mem, alloc, mapper, stacks)
	if _, err = tasks.CreateKernelTask(vfs.NewConsole(console)); err != nil {
		return nil, err
	}

	k, err := proc.New(tasks, alloc, mem, proc.Config{
		FS:             fs,
		PageMapReserve: cfg.PageMapReserve,
		Quantum:        cfg.Quantum,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Init != "" {
		argv := cfg.InitArgs
		if len(argv) == 0 {
			argv = []string{cfg.Init}
		}
		if _, err = k.Spawn(cfg.Init, argv); err != nil {
			return nil, err
		}
	}

	k.Scheduler().Enable()
	cpu.EnableInterrupts()
	return k, nil
}
