package signal

import (
	"gopherix/kernel/cpu"
	"testing"
)

func TestSetOperations(t *testing.T) {
	set := SetOf(SIGINT, SIGCHLD)

	if !set.Has(SIGINT) || !set.Has(SIGCHLD) || set.Has(SIGTERM) {
		t.Fatalf("unexpected membership for set 0x%x", set)
	}

	if exp := Set(1<<1 | 1<<16); set != exp {
		t.Fatalf("expected set 0x%x; got 0x%x", exp, set)
	}

	if first, ok := set.First(); !ok || first != SIGINT {
		t.Fatalf("expected first signal SIGINT; got %v", first)
	}

	set = set.Del(SIGINT).Del(SIGCHLD)
	if _, ok := set.First(); ok {
		t.Fatal("expected empty set")
	}

	if set.Add(0) != set || set.Add(Max+1) != set {
		t.Fatal("expected out of range signals to be ignored")
	}

	if !Unblockable.Has(SIGKILL) || !Unblockable.Has(SIGSTOP) || Unblockable.Del(SIGKILL).Del(SIGSTOP) != 0 {
		t.Fatalf("unexpected unblockable set 0x%x", Unblockable)
	}
}

func TestDefaultDisposition(t *testing.T) {
	specs := []struct {
		sig Signal
		exp Disposition
	}{
		{SIGCHLD, Ignore},
		{SIGCONT, Ignore},
		{SIGWINCH, Ignore},
		{SIGALRM, Ignore},
		{SIGUSR1, Ignore},
		{SIGSTOP, Stop},
		{SIGTSTP, Stop},
		{SIGTTOU, Stop},
		{SIGKILL, Terminate},
		{SIGSEGV, Terminate},
		{SIGTERM, Terminate},
	}

	for specIndex, spec := range specs {
		if got := DefaultDisposition(spec.sig); got != spec.exp {
			t.Errorf("[spec %d] expected disposition %d for %s; got %d", specIndex, spec.exp, spec.sig, got)
		}
	}
}

func TestNames(t *testing.T) {
	if got := SIGSEGV.String(); got != "SIGSEGV" {
		t.Fatalf("expected SIGSEGV; got %q", got)
	}
	if got := Signal(40).String(); got != "signal 40" {
		t.Fatalf("expected \"signal 40\"; got %q", got)
	}
}

func TestLegacyMapping(t *testing.T) {
	for l := LegacySignal(0); l < legacyCount; l++ {
		sig, ok := FromLegacy(l)
		if !ok {
			t.Fatalf("expected legacy signal %d to map to a signal", l)
		}
		if back, ok := ToLegacy(sig); !ok || back != l {
			t.Fatalf("expected %s to map back to %d; got %d", sig, l, back)
		}
	}

	if _, ok := FromLegacy(legacyCount); ok {
		t.Fatal("expected out of range legacy signal to be rejected")
	}

	act := Action{Handler: 0x1000, Flags: Legacy}
	if got := HandlerArgument(act, SIGALRM); got != uint32(LegacyAlarm) {
		t.Fatalf("expected legacy argument %d; got %d", LegacyAlarm, got)
	}
	if got := HandlerArgument(Action{Handler: 0x1000}, SIGALRM); got != uint32(SIGALRM) {
		t.Fatalf("expected argument %d; got %d", SIGALRM, got)
	}
}

func TestActionKinds(t *testing.T) {
	specs := []struct {
		act                      Action
		isDefault, ignored, user bool
	}{
		{Action{}, true, false, false},
		{Action{Handler: HandlerIgnore}, false, true, false},
		{Action{Handler: HandlerCompatChild}, false, true, false},
		{Action{Handler: 0x08048000}, false, false, true},
	}

	for specIndex, spec := range specs {
		if spec.act.Default() != spec.isDefault || spec.act.Ignored() != spec.ignored || spec.act.Custom() != spec.user {
			t.Errorf("[spec %d] unexpected classification for handler 0x%x", specIndex, spec.act.Handler)
		}
	}
}

func TestFrameLayout(t *testing.T) {
	f := Frame{
		ReturnAddr: 0x3ff000,
		Signum:     uint32(SIGINT),
		OldMask:    SetOf(SIGUSR1),
		Regs: cpu.Context{
			EAX: 1, EBX: 2, ECX: 3, EDX: 4, ESI: 5, EDI: 6,
			EBP: 7, ESP: 8, EIP: 9, OrigEAX: 10, EFlags: 11,
		},
	}

	buf := f.Encode()
	if len(buf) != FrameSize {
		t.Fatalf("expected frame of %d bytes; got %d", FrameSize, len(buf))
	}

	// EIP is the 9th saved register.
	if buf[12+8*4] != 9 || buf[FrameSize-4] != 11 {
		t.Fatalf("unexpected register layout: % x", buf)
	}

	if got := DecodeFrame(buf); got != f {
		t.Fatalf("expected decoded frame %+v; got %+v", f, got)
	}
}
