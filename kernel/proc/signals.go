package proc

import (
	"encoding/binary"
	"fmt"

	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/signal"
	"gopherix/kernel/task"
)

// sigprocmask operations.
const (
	SigBlock   = uint32(0)
	SigUnblock = uint32(1)
	SigSetmask = uint32(2)
)

// actionSize is the size of the user-space sigaction structure: handler,
// flags and mask, one word each.
const actionSize = 12

var (
	errBadSignal     = &kernel.Error{Module: "proc", Message: "invalid signal", Errno: kernel.EINVAL}
	errNoTarget      = &kernel.Error{Module: "proc", Message: "no such process", Errno: kernel.ESRCH}
	errSignalKernel  = &kernel.Error{Module: "proc", Message: "the kernel task cannot be signaled", Errno: kernel.EPERM}
	errBadHow        = &kernel.Error{Module: "proc", Message: "invalid sigprocmask operation", Errno: kernel.EINVAL}
	errFixedAction   = &kernel.Error{Module: "proc", Message: "the action of SIGKILL and SIGSTOP cannot be changed", Errno: kernel.EINVAL}
	errLegacySignal  = &kernel.Error{Module: "proc", Message: "invalid legacy signal", Errno: kernel.EINVAL}
	errInterrupted   = &kernel.Error{Module: "proc", Message: "interrupted system call", Errno: kernel.EINTR}
	stopSignals      = signal.SetOf(signal.SIGSTOP, signal.SIGTSTP, signal.SIGTTIN, signal.SIGTTOU)
	restartSignature = []byte{0xcd, 0x80}
)

// deliverable returns the pending signals of t that are not blocked.
func deliverable(t *task.Task) signal.Set {
	return t.Pending &^ (t.Blocked &^ signal.Unblockable)
}

func (k *Kernel) sysKill(t *task.Task, pidArg, sigArg, _ uint32) int32 {
	sig := signal.Signal(sigArg)
	if sigArg > uint32(signal.Max) {
		return errno(errBadSignal)
	}

	target := k.tasks.Get(int(int32(pidArg)))
	if target == nil || !target.Alive() {
		return errno(errNoTarget)
	}
	if target.Pid == 0 {
		return errno(errSignalKernel)
	}

	if sig != 0 {
		k.post(target, sig)
	}
	return 0
}

// post marks sig pending for t and wakes t if the signal can be delivered
// to it. Delivery happens when t next returns to user mode.
func (k *Kernel) post(t *task.Task, sig signal.Signal) {
	if !t.Alive() || t.Pid == 0 {
		return
	}

	switch {
	case sig == signal.SIGCONT:
		t.Pending &^= stopSignals
	case signal.IsStop(sig):
		t.Pending = t.Pending.Del(signal.SIGCONT)
	}

	ignored := t.Actions[sig].Ignored() && !signal.Unblockable.Has(sig)
	if !ignored {
		t.Pending = t.Pending.Add(sig)
	}

	if t.State != task.StateSleep {
		return
	}

	if t.Stopped {
		if sig == signal.SIGCONT || sig == signal.SIGKILL {
			t.Stopped = false
			t.State = task.StateRunning
		}
		return
	}

	// Ignored signals still end a wait so that waitpid notices a child
	// that was released without becoming a zombie. A suspended task
	// returns EINTR without running a handler.
	if !t.Blocked.Has(sig) || signal.Unblockable.Has(sig) {
		t.State = task.StateRunning
	}
}

// forceSignal posts a signal raised by a fault. A blocked or ignored fault
// signal is reset to its default action so the task cannot loop on the
// faulting instruction.
func (k *Kernel) forceSignal(t *task.Task, sig signal.Signal) {
	if t.Blocked.Has(sig) || t.Actions[sig].Ignored() {
		t.Blocked = t.Blocked.Del(sig)
		t.Actions[sig] = signal.Action{}
	}
	k.post(t, sig)
}

// restoreSavedMask reinstates the blocked set saved by a suspending system
// call.
func (k *Kernel) restoreSavedMask(t *task.Task) {
	if t.HasSavedMask {
		t.Blocked = t.SavedMask
		t.HasSavedMask = false
	}
}

// deliver acts on the pending signals of t, which must be the current
// task. Ignored signals are discarded until a signal that stops or
// terminates t or runs a handler is found.
func (k *Kernel) deliver(t *task.Task) {
	for t.Pid != 0 && t.State == task.StateRunning && k.tasks.Current() == t {
		sig, ok := deliverable(t).First()
		if !ok {
			k.restoreSavedMask(t)
			return
		}
		t.Pending = t.Pending.Del(sig)

		act := t.Actions[sig]
		if signal.Unblockable.Has(sig) {
			act = signal.Action{}
		}

		switch {
		case act.Ignored():
			k.restoreSavedMask(t)
		case act.Custom():
			k.dispatch(t, sig, act)
			return
		default:
			switch signal.DefaultDisposition(sig) {
			case signal.Ignore:
				k.restoreSavedMask(t)
			case signal.Stop:
				k.stop(t, sig)
				return
			default:
				k.terminate(t, sig)
				return
			}
		}
	}
}

// stop suspends t until it receives SIGCONT or SIGKILL.
func (k *Kernel) stop(t *task.Task, sig signal.Signal) {
	t.Stopped = true
	t.StopReported = false
	t.Status = StoppedStatus(sig)
	t.State = task.StateSleep

	if parent := k.tasks.Get(t.Parent); parent != nil {
		k.post(parent, signal.SIGCHLD)
	}
	k.sched.Schedule()
}

// terminate reports the signal on the task's standard output and redirects
// it to the death stub, which exits with a killed-by-signal status.
func (k *Kernel) terminate(t *task.Task, sig signal.Signal) {
	msg := fmt.Sprintf("\nprocess %d killed by signal %s\n", t.Pid, sig)
	if h, err := t.File(1); err == nil {
		_, _ = h.File().Write([]byte(msg))
	}
	kfmt.Printf("[proc] pid %d killed by signal %s\n", t.Pid, sig)

	// Only SIGKILL may preempt the death stub.
	t.Blocked = ^signal.Set(0)
	k.frame.EIP = DeathStub
	k.frame.EBX = uint32(sig)
	k.frame.CS = cpu.UserCS
}

// dispatch pushes a signal frame onto the user stack of t and redirects it
// to the handler of act.
func (k *Kernel) dispatch(t *task.Task, sig signal.Signal, act signal.Action) {
	ctx := &k.frame.Context

	oldMask := t.Blocked
	if t.HasSavedMask {
		oldMask = t.SavedMask
		t.HasSavedMask = false
	}

	if act.Flags&signal.Restart != 0 && int32(ctx.EAX) == errno(errInterrupted) &&
		ctx.OrigEAX != SysSigsuspend && k.followsSyscall(ctx.EIP) {
		k.rewind()
	}

	frame := signal.Frame{
		ReturnAddr: SigreturnTrampoline,
		Signum:     signal.HandlerArgument(act, sig),
		OldMask:    oldMask,
		Regs:       *ctx,
	}

	sp := ctx.ESP - signal.FrameSize
	if err := k.tasks.Mapper().CopyOut(sp, frame.Encode(), true); err != nil {
		kfmt.Printf("[proc] pid %d: cannot push frame for %s: %s\n", t.Pid, sig, err.Message)
		t.Blocked = oldMask
		k.terminate(t, signal.SIGSEGV)
		return
	}

	ctx.ESP = sp
	ctx.EIP = act.Handler
	t.Blocked = (t.Blocked | act.Mask).Add(sig) &^ signal.Unblockable
}

// followsSyscall returns true if the two bytes before eip encode int 0x80.
func (k *Kernel) followsSyscall(eip uint32) bool {
	var insn [2]byte
	if err := k.tasks.Mapper().CopyIn(eip-2, insn[:], true); err != nil {
		return false
	}
	return insn[0] == restartSignature[0] && insn[1] == restartSignature[1]
}

// sysSigreturn is reached through the trampoline once a handler returns.
// The handler's ret popped the return address, so the rest of the frame
// starts one word below the stack pointer.
func (k *Kernel) sysSigreturn(t *task.Task, _, _, _ uint32) int32 {
	ctx := &k.frame.Context

	buf := make([]byte, signal.FrameSize)
	if err := k.tasks.Mapper().CopyIn(ctx.ESP-4, buf, true); err != nil {
		k.forceSignal(t, signal.SIGSEGV)
		return errno(err)
	}

	saved := signal.DecodeFrame(buf)
	cs, ss := ctx.CS, ctx.SS
	*ctx = saved.Regs
	ctx.CS, ctx.SS = cs, ss
	ctx.EFlags |= cpu.UserFlags

	t.Blocked = saved.OldMask &^ signal.Unblockable
	return int32(ctx.EAX)
}

func (k *Kernel) sysSigsuspend(t *task.Task, mask, _, _ uint32) int32 {
	if !t.HasSavedMask {
		t.SavedMask, t.HasSavedMask = t.Blocked, true
	}
	t.Blocked = signal.Set(mask) &^ signal.Unblockable

	k.frame.EAX = uint32(errno(errInterrupted))
	k.sleepUnlessPending(t)
	return blocked
}

func (k *Kernel) sysSigaction(t *task.Task, sigArg, actAddr, oldAddr uint32) int32 {
	sig := signal.Signal(sigArg)
	if sigArg > uint32(signal.Max) || !sig.Valid() {
		return errno(errBadSignal)
	}
	if actAddr != 0 && signal.Unblockable.Has(sig) {
		return errno(errFixedAction)
	}

	mapper := k.tasks.Mapper()
	var buf [actionSize]byte

	if actAddr != 0 {
		if err := mapper.CopyIn(actAddr, buf[:], true); err != nil {
			return errno(err)
		}
	}
	newAct := signal.Action{
		Handler: binary.LittleEndian.Uint32(buf[0:]),
		Flags:   signal.ActionFlag(binary.LittleEndian.Uint32(buf[4:])),
		Mask:    signal.Set(binary.LittleEndian.Uint32(buf[8:])) &^ signal.Unblockable,
	}

	if oldAddr != 0 {
		var out [actionSize]byte
		old := t.Actions[sig]
		binary.LittleEndian.PutUint32(out[0:], old.Handler)
		binary.LittleEndian.PutUint32(out[4:], uint32(old.Flags))
		binary.LittleEndian.PutUint32(out[8:], uint32(old.Mask))
		if err := mapper.CopyOut(oldAddr, out[:], true); err != nil {
			return errno(err)
		}
	}

	if actAddr != 0 {
		t.Actions[sig] = newAct
		if newAct.Ignored() {
			t.Pending = t.Pending.Del(sig)
		}
	}
	return 0
}

func (k *Kernel) sysSigprocmask(t *task.Task, how, setAddr, oldAddr uint32) int32 {
	mapper := k.tasks.Mapper()

	if oldAddr != 0 {
		if err := mapper.WriteWord(oldAddr, uint32(t.Blocked)); err != nil {
			return errno(err)
		}
	}
	if setAddr == 0 {
		return 0
	}

	word, err := mapper.ReadWord(setAddr)
	if err != nil {
		return errno(err)
	}

	set := signal.Set(word)
	switch how {
	case SigBlock:
		t.Blocked |= set
	case SigUnblock:
		t.Blocked &^= set
	case SigSetmask:
		t.Blocked = set
	default:
		return errno(errBadHow)
	}
	t.Blocked &^= signal.Unblockable
	return 0
}

// sysSetHandler installs a handler for a legacy signal. The handler receives
// the legacy signal number. A zero address restores the default action.
func (k *Kernel) sysSetHandler(t *task.Task, legacy, handler, _ uint32) int32 {
	sig, ok := signal.FromLegacy(signal.LegacySignal(legacy))
	if !ok {
		return errno(errLegacySignal)
	}

	if handler == 0 {
		t.Actions[sig] = signal.Action{}
		return 0
	}

	t.Actions[sig] = signal.Action{Handler: handler, Flags: signal.Legacy}
	return 0
}
