package sched

import (
	"bytes"
	"testing"

	"gopherix/kernel/cpu"
	"gopherix/kernel/gate"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/pmm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

func setup(t *testing.T, extraTasks int) (*Scheduler, *task.Table, *gate.Registers) {
	mem := mm.NewPhysMem(8 * mm.LargePageSize)
	alloc, err := pmm.NewAllocator(mem)
	if err != nil {
		t.Fatal(err)
	}

	lowTable, _ := alloc.AllocFine()
	mapper := vmm.NewMapper(mem, alloc)
	if err = mapper.Init(lowTable); err != nil {
		t.Fatal(err)
	}

	size := extraTasks + 2
	tb := task.NewTable(size, 4, mem, alloc, mapper, task.NewStackPool(mm.KernelStackFrame.Address(), 8192, size))
	k, err := tb.CreateKernelTask(vfs.NewConsole(new(bytes.Buffer)))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < extraTasks; i++ {
		child, err := tb.Clone(k)
		if err != nil {
			t.Fatal(err)
		}
		child.Context.EAX = uint32(child.Pid) * 0x100
	}

	frame := &gate.Registers{}
	return New(tb, frame), tb, frame
}

func TestRoundRobinFairness(t *testing.T) {
	s, tb, _ := setup(t, 3)

	seen := make(map[int]int)
	for i := 0; i < 4; i++ {
		s.Schedule()
		seen[tb.Current().Pid]++
	}

	for pid := 0; pid < 4; pid++ {
		if seen[pid] != 1 {
			t.Fatalf("expected pid %d to be selected exactly once in 4 events; got %d (%v)", pid, seen[pid], seen)
		}
	}

	if s.Switches() != 4 {
		t.Fatalf("expected 4 switches; got %d", s.Switches())
	}
}

func TestNextSkipsNonRunnable(t *testing.T) {
	s, tb, _ := setup(t, 3)

	tb.Get(1).State = task.StateSleep
	tb.Get(2).State = task.StateZombie

	if next := s.Next(); next.Pid != 3 {
		t.Fatalf("expected pid 3; got %d", next.Pid)
	}

	tb.SetCurrent(3)
	if next := s.Next(); next.Pid != 0 {
		t.Fatalf("expected wrap around to pid 0; got %d", next.Pid)
	}

	tb.Get(3).State = task.StateSleep
	if next := s.Next(); next.Pid != 0 {
		t.Fatalf("expected idle task when nothing else is runnable; got %d", next.Pid)
	}

	// Only the current task is runnable: no switch happens.
	tb.SetCurrent(0)
	s.Schedule()
	if s.Switches() != 0 {
		t.Fatalf("expected no switch; got %d", s.Switches())
	}
}

func TestSwitchSavesAndRestoresContext(t *testing.T) {
	s, tb, frame := setup(t, 1)

	defer func(origFn func(*cpu.Context, *cpu.Context)) { resumeFn = origFn }(resumeFn)
	var resumed int
	resumeFn = func(dst, src *cpu.Context) {
		resumed++
		*dst = *src
	}

	var checkpoints []int
	s.SetCheckpoint(func(t *task.Task) { checkpoints = append(checkpoints, t.Pid) })

	frame.EAX = 0xdead
	s.Switch(tb.Get(1))

	if tb.Get(0).Context.EAX != 0xdead {
		t.Fatalf("expected kernel task context to be saved; got EAX 0x%x", tb.Get(0).Context.EAX)
	}
	if frame.EAX != 0x100 || resumed != 1 {
		t.Fatalf("expected frame to hold pid 1 registers; got EAX 0x%x", frame.EAX)
	}
	if top, _ := tb.Stacks().Lookup(1); cpu.TaskState.ESP0 != top {
		t.Fatalf("expected ESP0 0x%x; got 0x%x", top, cpu.TaskState.ESP0)
	}
	if tb.Mapped() != 1 || tb.Current().Pid != 1 {
		t.Fatalf("expected pid 1 to be current and mapped; got %d/%d", tb.Current().Pid, tb.Mapped())
	}
	if len(checkpoints) != 1 || checkpoints[0] != 1 {
		t.Fatalf("expected checkpoint for pid 1; got %v", checkpoints)
	}

	// A released task's registers are not saved.
	if err := tb.Release(tb.Get(1)); err != nil {
		t.Fatal(err)
	}
	frame.EAX = 0xbeef
	s.Switch(tb.Get(0))
	if tb.Get(1).Context.EAX != 0 || frame.EAX != 0xdead {
		t.Fatalf("unexpected contexts after switching away from a released task")
	}
}

func TestTickRequiresEnable(t *testing.T) {
	s, tb, frame := setup(t, 1)

	s.Tick(frame)
	if tb.Current().Pid != 0 {
		t.Fatal("expected timer ticks to be ignored before scheduling is enabled")
	}

	s.Enable()
	s.Tick(frame)
	if !s.Enabled() || tb.Current().Pid != 1 {
		t.Fatalf("expected tick to switch to pid 1; current %d", tb.Current().Pid)
	}
}
