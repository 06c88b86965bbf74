package proc

import (
	"encoding/binary"
	"io"
	"strings"

	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/loader"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/signal"
	"gopherix/kernel/task"
)

const (
	maxPathLen = 256
	maxArgLen  = 256
	maxArgs    = 32
)

var (
	errChild     = &kernel.Error{Module: "proc", Message: "no child processes", Errno: kernel.ECHILD}
	errBadArgs   = &kernel.Error{Module: "proc", Message: "argument list too long", Errno: kernel.EINVAL}
	errNotImage  = &kernel.Error{Module: "proc", Message: "file cannot be loaded", Errno: kernel.ENOEXEC}
	errHeapLimit = &kernel.Error{Module: "proc", Message: "program break out of range", Errno: kernel.ENOMEM}
)

func (k *Kernel) sysGetpid(t *task.Task, _, _, _ uint32) int32 {
	return int32(t.Pid)
}

func (k *Kernel) sysGetppid(t *task.Task, _, _, _ uint32) int32 {
	if k.tasks.Get(t.Parent) == nil {
		return 0
	}
	return int32(t.Parent)
}

// sysFork duplicates the caller. The child resumes with EAX set to 0.
func (k *Kernel) sysFork(t *task.Task, _, _, _ uint32) int32 {
	t.Context = k.frame.Context

	child, err := k.tasks.Clone(t)
	if err != nil {
		return errno(err)
	}

	child.Context.EAX = 0
	return int32(child.Pid)
}

func (k *Kernel) sysExecve(t *task.Task, pathAddr, argvAddr, envpAddr uint32) int32 {
	mapper := k.tasks.Mapper()

	path, err := mapper.ReadString(pathAddr, maxPathLen)
	if err != nil {
		return errno(err)
	}

	argv, err := k.readStrings(argvAddr)
	if err != nil {
		return errno(err)
	}

	envp, err := k.readStrings(envpAddr)
	if err != nil {
		return errno(err)
	}

	if fatal, err := k.exec(t, path, argv, envp, &k.frame.Context); err != nil {
		if fatal {
			return blocked
		}
		return errno(err)
	}
	return 0
}

// sysExecute is the legacy exec: the argument is a command line whose
// first word is the program.
func (k *Kernel) sysExecute(t *task.Task, cmdAddr, _, _ uint32) int32 {
	cmd, err := k.tasks.Mapper().ReadString(cmdAddr, maxPathLen)
	if err != nil {
		return errno(err)
	}

	argv := strings.Fields(cmd)
	if len(argv) == 0 {
		return errno(errNotImage)
	}

	if fatal, err := k.exec(t, argv[0], argv, nil, &k.frame.Context); err != nil {
		if fatal {
			return blocked
		}
		return errno(err)
	}
	return 0
}

// readStrings reads a NULL terminated array of string pointers.
func (k *Kernel) readStrings(addr uint32) ([]string, *kernel.Error) {
	if addr == 0 {
		return nil, nil
	}

	mapper := k.tasks.Mapper()
	var out []string
	for i := uint32(0); ; i++ {
		if i == maxArgs {
			return nil, errBadArgs
		}

		ptr, err := mapper.ReadWord(addr + i*4)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}

		s, err := mapper.ReadString(ptr, maxArgLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

// exec replaces the program run by t. The new register state is written
// to ctx. Errors detected before t's address space is discarded are
// returned with fatal unset; later failures terminate t and are reported
// with fatal set.
func (k *Kernel) exec(t *task.Task, path string, argv, envp []string, ctx *cpu.Context) (fatal bool, err *kernel.Error) {
	f, err := k.fs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	image, ok := f.(io.ReaderAt)
	if !ok {
		return false, errNotImage
	}
	if err = loader.Check(image); err != nil {
		return false, err
	}

	stack, esp, err := buildStack(argv, envp)
	if err != nil {
		return false, err
	}

	// The argument block is assembled in a kernel-owned frame mapped at
	// the transient stack address so it survives the release of the old
	// address space. The frame becomes the new program's stack.
	mapper := k.tasks.Mapper()
	stackFrame, err := k.frames.AllocLarge()
	if err != nil {
		return false, err
	}
	if err = k.mem.Zero(stackFrame, mm.LargePageSize); err == nil {
		if err = mapper.AddLargeEntry(mm.TransientStackBase, stackFrame, vmm.FlagRW); err == nil {
			mapper.Flush()
			err = mapper.CopyOut(mm.TransientStackBase+(esp-mm.UserStackBase), stack, false)
			_ = mapper.Delete(vmm.KindLarge, mm.TransientStackBase)
			mapper.Flush()
		}
	}
	if err != nil {
		_ = k.frames.Release(stackFrame, true)
		return false, err
	}

	t.CloseFrom(3)
	k.tasks.ReleaseAddressSpace(t)

	img, err := loader.Load(k.tasks, t, image, k.reserve)
	if err == nil {
		err = k.tasks.AddMapping(t, task.PageMapEntry{
			Kind:  vmm.KindLarge,
			Virt:  mm.UserStackBase,
			Phys:  stackFrame,
			Flags: vmm.FlagRW | vmm.FlagUserAccessible,
		})
	}
	if err != nil {
		_ = k.frames.Release(stackFrame, true)
		kfmt.Printf("[proc] pid %d: exec of %s failed after releasing its address space: %s\n", t.Pid, path, err.Message)
		k.exitTask(t, KilledStatus(signal.SIGSEGV))
		return true, err
	}
	k.tasks.Flush()

	t.HeapStart, t.Brk = img.HeapStart, img.HeapStart
	t.ResetActions()
	t.Terminal = 0
	t.HasSavedMask = false

	*ctx = cpu.Context{
		EIP:    img.Entry,
		ESP:    esp,
		CS:     cpu.UserCS,
		SS:     cpu.UserDS,
		EFlags: cpu.UserFlags,
	}
	return false, nil
}

// buildStack lays out the initial user stack below UserStackTop: argc, the
// argv pointers, a NULL, the envp pointers, a NULL and finally the strings.
// It returns the bytes from the initial stack pointer up to UserStackTop.
func buildStack(argv, envp []string) ([]byte, uint32, *kernel.Error) {
	var strSize uint32
	for _, s := range append(append([]string(nil), argv...), envp...) {
		strSize += uint32(len(s)) + 1
	}

	words := uint32(1 + len(argv) + 1 + len(envp) + 1)
	strBase := mm.PageAlignDown(mm.UserStackTop-strSize, mm.WordSize)
	esp := strBase - words*mm.WordSize
	if mm.UserStackTop-esp > mm.LargePageSize/2 {
		return nil, 0, errBadArgs
	}

	stack := make([]byte, mm.UserStackTop-esp)
	put := func(addr, value uint32) {
		binary.LittleEndian.PutUint32(stack[addr-esp:], value)
	}

	put(esp, uint32(len(argv)))
	slot, str := esp+4, strBase
	for _, list := range [][]string{argv, envp} {
		for _, s := range list {
			put(slot, str)
			copy(stack[str-esp:], s)
			slot += 4
			str += uint32(len(s)) + 1
		}
		put(slot, 0)
		slot += 4
	}
	return stack, esp, nil
}

func (k *Kernel) sysExit(t *task.Task, status, _, _ uint32) int32 {
	k.exitTask(t, ExitedStatus(status))
	return blocked
}

func (k *Kernel) sysHalt(t *task.Task, status, _, _ uint32) int32 {
	return k.sysExit(t, status&0xff, 0, 0)
}

func (k *Kernel) sysKilled(t *task.Task, sig, _, _ uint32) int32 {
	k.exitTask(t, KilledStatus(signal.Signal(sig)))
	return blocked
}

// exitTask terminates t with the given wait status. A task whose parent
// reaps its children becomes a zombie; otherwise it is released at once.
// Orphans are not re-parented.
func (k *Kernel) exitTask(t *task.Task, status uint32) {
	t.CloseFrom(0)
	t.Status = status

	// Children lose their parent; zombies nobody can reap are released.
	for pid := 1; pid < k.tasks.Size(); pid++ {
		child := k.tasks.Get(pid)
		if child.Parent != t.Pid || child.Pid == t.Pid || child.State == task.StateNA {
			continue
		}
		if child.State == task.StateZombie {
			_ = k.tasks.Release(child)
			continue
		}
		child.Parent = -1
	}

	wasCurrent := k.tasks.Current() == t
	parent := k.tasks.Get(t.Parent)
	switch {
	case parent == nil || !parent.Alive():
		_ = k.tasks.Release(t)
	case reapsChildren(parent):
		k.tasks.ReleaseAddressSpace(t)
		t.State = task.StateZombie
		k.post(parent, signal.SIGCHLD)
	default:
		_ = k.tasks.Release(t)
		k.post(parent, signal.SIGCHLD)
	}

	if wasCurrent {
		k.sched.Schedule()
	}
}

// reapsChildren returns false if t has opted out of waiting for its
// children.
func reapsChildren(t *task.Task) bool {
	act := t.Actions[signal.SIGCHLD]
	return !act.Ignored() && act.Flags&signal.NoCldWait == 0
}

func (k *Kernel) sysWaitpid(t *task.Task, pidArg, statusAddr, options uint32) int32 {
	pid := int32(pidArg)
	found := false

	for i := 1; i < k.tasks.Size(); i++ {
		child := k.tasks.Get(i)
		if child.Parent != t.Pid || child.Pid == t.Pid || child.State == task.StateNA {
			continue
		}
		if pid > 0 && int32(child.Pid) != pid {
			continue
		}
		found = true

		switch {
		case child.State == task.StateZombie:
			if err := k.putStatus(statusAddr, child.Status); err != nil {
				return errno(err)
			}
			k.restoreSavedMask(t)
			cpid := child.Pid
			_ = k.tasks.Release(child)
			return int32(cpid)
		case child.Stopped && !child.StopReported && options&WUNTRACED != 0:
			if err := k.putStatus(statusAddr, child.Status); err != nil {
				return errno(err)
			}
			k.restoreSavedMask(t)
			child.StopReported = true
			return int32(child.Pid)
		}
	}

	if !found {
		k.restoreSavedMask(t)
		return errno(errChild)
	}
	if options&WNOHANG != 0 {
		k.restoreSavedMask(t)
		return 0
	}

	// Wait for SIGCHLD with the instruction pointer on the trap so the
	// call is re-issued once the task wakes up.
	if !t.HasSavedMask {
		t.SavedMask, t.HasSavedMask = t.Blocked, true
	}
	t.Blocked = t.Blocked.Del(signal.SIGCHLD)
	k.rewind()
	k.sleepUnlessPending(t)
	return blocked
}

func (k *Kernel) putStatus(addr, status uint32) *kernel.Error {
	if addr == 0 {
		return nil
	}
	return k.tasks.Mapper().WriteWord(addr, status)
}

// sleepUnlessPending suspends t unless a signal can already be delivered
// to it.
func (k *Kernel) sleepUnlessPending(t *task.Task) {
	if deliverable(t) != 0 {
		return
	}
	t.State = task.StateSleep
	k.sched.Schedule()
}

func (k *Kernel) sysBrk(t *task.Task, addr, _, _ uint32) int32 {
	if err := k.setBrk(t, addr); err != nil {
		return errno(err)
	}
	return int32(t.Brk)
}

func (k *Kernel) sysSbrk(t *task.Task, delta, _, _ uint32) int32 {
	old := t.Brk
	if err := k.setBrk(t, old+delta); err != nil {
		return errno(err)
	}
	return int32(old)
}

// setBrk moves the program break of t, mapping or unmapping the large
// pages between the old and the new break.
func (k *Kernel) setBrk(t *task.Task, addr uint32) *kernel.Error {
	if addr == 0 || addr == t.Brk {
		return nil
	}
	if addr < t.HeapStart || addr > mm.UserStackBase {
		return errHeapLimit
	}

	oldEnd := mm.PageAlignUp(t.Brk, mm.LargePageSize)
	newEnd := mm.PageAlignUp(addr, mm.LargePageSize)

	for virt := oldEnd; virt < newEnd; virt += mm.LargePageSize {
		if _, err := k.tasks.AllocMapping(t, vmm.KindLarge, virt, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			for undo := oldEnd; undo < virt; undo += mm.LargePageSize {
				_ = k.tasks.RemoveMapping(t, vmm.KindLarge, undo)
			}
			k.tasks.Flush()
			return errHeapLimit
		}
	}

	for virt := newEnd; virt < oldEnd; virt += mm.LargePageSize {
		_ = k.tasks.RemoveMapping(t, vmm.KindLarge, virt)
	}

	k.tasks.Flush()
	t.Brk = addr
	return nil
}
