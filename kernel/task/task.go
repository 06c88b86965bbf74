// Package task implements the process control blocks, the fixed-size task
// table and the bookkeeping that ties a task's page map to the frame
// allocator and the page tables.
package task

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/signal"
	"gopherix/kernel/vfs"
)

var (
	errTooManyFiles  = &kernel.Error{Module: "task", Message: "too many open files", Errno: kernel.EMFILE}
	errBadDescriptor = &kernel.Error{Module: "task", Message: "bad file descriptor", Errno: kernel.EBADF}
)

// State is the lifecycle state of a task.
type State uint8

// Task states.
const (
	// StateNA marks a free task table slot.
	StateNA State = iota
	StateRunning
	StateSleep
	StateZombie

	// StateDead marks a task whose resources are being released.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateSleep:
		return "SLEEP"
	case StateZombie:
		return "ZOMBIE"
	case StateDead:
		return "DEAD"
	default:
		return "NA"
	}
}

// Task is a process control block.
type Task struct {
	Pid    int
	Parent int
	State  State

	// Stopped is set while the task is suspended by a stop signal.
	// StopReported is set once waitpid has reported the stop to the
	// parent.
	Stopped      bool
	StopReported bool

	// Context holds the user registers while the task is not running.
	Context cpu.Context

	Files []*vfs.Handle
	Cwd   string

	PageMap   PageMap
	HeapStart uint32
	Brk       uint32

	Blocked signal.Set
	Pending signal.Set
	Actions [signal.Max + 1]signal.Action

	// SavedMask is the blocked set to restore once a signal dispatched
	// while the task was suspended has been handled.
	SavedMask    signal.Set
	HasSavedMask bool

	// KernelStack is the top of the task's kernel stack slot.
	KernelStack uint32
	Terminal    int

	// Status is the packed wait status reported to the parent.
	Status uint32
}

// Alive returns true if the task can still run or receive signals.
func (t *Task) Alive() bool {
	return t.State == StateRunning || t.State == StateSleep
}

// File returns the handle installed at fd.
func (t *Task) File(fd int) (*vfs.Handle, *kernel.Error) {
	if fd < 0 || fd >= len(t.Files) || t.Files[fd] == nil {
		return nil, errBadDescriptor
	}
	return t.Files[fd], nil
}

// InstallFile stores h in the lowest free descriptor and returns it. The
// caller's reference to h is transferred to the descriptor table.
func (t *Task) InstallFile(h *vfs.Handle) (int, *kernel.Error) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	for fd, cur := range t.Files {
		if cur == nil {
			t.Files[fd] = h
			return fd, nil
		}
	}
	return -1, errTooManyFiles
}

// CloseFile releases the handle installed at fd.
func (t *Task) CloseFile(fd int) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	if fd < 0 || fd >= len(t.Files) || t.Files[fd] == nil {
		return errBadDescriptor
	}

	t.Files[fd].Release()
	t.Files[fd] = nil
	return nil
}

// CloseFrom releases every descriptor greater or equal to fd.
func (t *Task) CloseFrom(fd int) {
	for ; fd < len(t.Files); fd++ {
		if t.Files[fd] != nil {
			_ = t.CloseFile(fd)
		}
	}
}

// ResetActions restores the default action of every signal.
func (t *Task) ResetActions() {
	for i := range t.Actions {
		t.Actions[i] = signal.Action{}
	}
}
