// Package sched implements the round-robin scheduler and the context switch
// between tasks.
package sched

import (
	"gopherix/kernel/cpu"
	"gopherix/kernel/gate"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/task"
)

var (
	// resumeFn loads a saved context into the trap frame. Returning from
	// the trap then continues the selected task.
	resumeFn = cpu.Resume
)

// Checkpoint is invoked with the incoming task after every switch so that
// pending signals can be delivered before the task resumes.
type Checkpoint func(t *task.Task)

// Scheduler selects the task that runs next and switches to it.
type Scheduler struct {
	tasks *task.Table

	// frame is the trap frame shared by every kernel entry. It holds the
	// registers of the current task while the kernel runs.
	frame *gate.Registers

	enabled    bool
	checkpoint Checkpoint
	switches   uint64
}

// New returns a scheduler for tasks whose kernel entries save user state
// into frame.
func New(tasks *task.Table, frame *gate.Registers) *Scheduler {
	return &Scheduler{tasks: tasks, frame: frame}
}

// SetCheckpoint installs the function run after each switch.
func (s *Scheduler) SetCheckpoint(fn Checkpoint) {
	s.checkpoint = fn
}

// Enable allows timer interrupts to preempt the running task.
func (s *Scheduler) Enable() {
	s.enabled = true
	kfmt.Printf("[sched] preemptive scheduling enabled\n")
}

// Enabled returns true once Enable has been called.
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// Switches returns the number of context switches performed.
func (s *Scheduler) Switches() uint64 {
	return s.switches
}

// Next returns the first RUNNING task after the current one, wrapping
// around the task table. The current task is returned if no other task is
// runnable and pid 0 if nothing is runnable at all.
func (s *Scheduler) Next() *task.Task {
	cur := s.tasks.Current().Pid
	size := s.tasks.Size()

	for i := 1; i <= size; i++ {
		t := s.tasks.Get((cur + i) % size)
		if t.State == task.StateRunning {
			return t
		}
	}
	return s.tasks.Get(0)
}

// Schedule switches to the next runnable task.
func (s *Scheduler) Schedule() {
	if next := s.Next(); next != s.tasks.Current() {
		s.Switch(next)
	}
}

// Tick is the timer interrupt handler.
func (s *Scheduler) Tick(_ *gate.Registers) {
	if !s.enabled {
		return
	}
	s.Schedule()
}

// Switch saves the registers of the outgoing task, activates the address
// space and kernel stack of next and loads its registers into the trap
// frame.
func (s *Scheduler) Switch(next *task.Task) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	prev := s.tasks.Current()
	switch prev.State {
	case task.StateRunning, task.StateSleep, task.StateZombie:
		prev.Context = s.frame.Context
	}

	if err := s.tasks.Map(next); err != nil {
		kfmt.Panic(err)
		return
	}

	if top, ok := s.tasks.Stacks().Lookup(next.Pid); ok {
		cpu.SetKernelStack(top)
	}

	s.tasks.SetCurrent(next.Pid)
	s.switches++
	resumeFn(&s.frame.Context, &next.Context)

	if s.checkpoint != nil {
		s.checkpoint(next)
	}
}
