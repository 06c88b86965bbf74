package signal

// Handler sentinels. Any other value is the user address of a handler.
const (
	HandlerDefault     = uint32(0)
	HandlerIgnore      = uint32(1)
	HandlerCompatChild = uint32(2)
)

// ActionFlag alters how a handler is dispatched.
type ActionFlag uint32

const (
	// NoCldWait on the SIGCHLD action means the task does not reap its
	// children; they are released as soon as they exit.
	NoCldWait ActionFlag = 1 << iota

	// Restart re-issues a system call interrupted by the handler.
	Restart

	// Legacy passes the legacy signal number to the handler.
	Legacy
)

// Action describes what happens when a signal is delivered.
type Action struct {
	Handler uint32
	Flags   ActionFlag

	// Mask is added to the blocked set while the handler runs.
	Mask Set
}

// Default returns true if the action selects the default disposition.
func (a Action) Default() bool {
	return a.Handler == HandlerDefault
}

// Ignored returns true if the action discards the signal.
func (a Action) Ignored() bool {
	return a.Handler == HandlerIgnore || a.Handler == HandlerCompatChild
}

// Custom returns true if the action runs a user handler.
func (a Action) Custom() bool {
	return !a.Default() && !a.Ignored()
}

// LegacySignal is a signal in the simplified enumeration of the legacy
// set_handler interface.
type LegacySignal uint32

// Legacy signal numbers.
const (
	LegacyDivZero LegacySignal = iota
	LegacySegfault
	LegacyInterrupt
	LegacyAlarm
	LegacyUser1

	legacyCount
)

var legacyTable = [legacyCount]Signal{
	LegacyDivZero:   SIGFPE,
	LegacySegfault:  SIGSEGV,
	LegacyInterrupt: SIGINT,
	LegacyAlarm:     SIGALRM,
	LegacyUser1:     SIGUSR1,
}

// FromLegacy maps a legacy signal number to its signal.
func FromLegacy(l LegacySignal) (Signal, bool) {
	if l >= legacyCount {
		return 0, false
	}
	return legacyTable[l], true
}

// ToLegacy maps a signal back to its legacy number.
func ToLegacy(s Signal) (LegacySignal, bool) {
	for l, sig := range legacyTable {
		if sig == s {
			return LegacySignal(l), true
		}
	}
	return 0, false
}

// HandlerArgument returns the signal number passed to the handler of act
// for signal s.
func HandlerArgument(act Action, s Signal) uint32 {
	if act.Flags&Legacy != 0 {
		if l, ok := ToLegacy(s); ok {
			return uint32(l)
		}
	}
	return uint32(s)
}
