// Package signal defines signal numbers, signal sets, per-signal actions and
// the layout of the frame pushed onto the user stack when a handler runs.
package signal

import "strconv"

// Signal is a signal number in the range [1, Max].
type Signal uint8

// Signal numbers.
const (
	SIGHUP Signal = iota + 1
	SIGINT
	SIGQUIT
	SIGILL
	SIGTRAP
	SIGABRT
	SIGBUS
	SIGFPE
	SIGKILL
	SIGUSR1
	SIGSEGV
	SIGUSR2
	SIGPIPE
	SIGALRM
	SIGTERM
	SIGSTKFLT
	SIGCHLD
	SIGCONT
	SIGSTOP
	SIGTSTP
	SIGTTIN
	SIGTTOU
	SIGURG
	SIGXCPU
	SIGXFSZ
	SIGVTALRM
	SIGPROF
	SIGWINCH
	SIGIO
	SIGPWR
	SIGSYS

	// Max is the highest valid signal number.
	Max = SIGSYS
)

var names = [...]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGSTKFLT: "SIGSTKFLT",
	SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
	SIGTTIN: "SIGTTIN", SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
	SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF", SIGWINCH: "SIGWINCH",
	SIGIO: "SIGIO", SIGPWR: "SIGPWR", SIGSYS: "SIGSYS",
}

// Valid returns true if s is a deliverable signal number.
func (s Signal) Valid() bool {
	return s >= 1 && s <= Max
}

// String implements fmt.Stringer.
func (s Signal) String() string {
	if !s.Valid() {
		return "signal " + strconv.Itoa(int(s))
	}
	return names[s]
}

// Set is a bitmask of signals. Signal s occupies bit s-1.
type Set uint32

// Unblockable contains the signals that can never be blocked, ignored or
// caught.
const Unblockable = Set(1<<(SIGKILL-1) | 1<<(SIGSTOP-1))

// SetOf returns a set containing the given signals.
func SetOf(sigs ...Signal) Set {
	var set Set
	for _, s := range sigs {
		set = set.Add(s)
	}
	return set
}

// Add returns set with s added.
func (set Set) Add(s Signal) Set {
	if !s.Valid() {
		return set
	}
	return set | 1<<(s-1)
}

// Del returns set with s removed.
func (set Set) Del(s Signal) Set {
	if !s.Valid() {
		return set
	}
	return set &^ (1 << (s - 1))
}

// Has returns true if s is a member of set.
func (set Set) Has(s Signal) bool {
	return s.Valid() && set&(1<<(s-1)) != 0
}

// First returns the lowest-numbered signal in set.
func (set Set) First() (Signal, bool) {
	for s := Signal(1); s <= Max; s++ {
		if set.Has(s) {
			return s, true
		}
	}
	return 0, false
}

// Disposition is the default action class of a signal.
type Disposition uint8

// Default action classes.
const (
	Terminate Disposition = iota
	Ignore
	Stop
)

// DefaultDisposition returns the action taken for s when no handler is
// installed. SIGALRM, SIGUSR1 and SIGUSR2 are ignored by default so that
// programs written against the legacy signal interface keep running when
// they did not install a handler for them.
func DefaultDisposition(s Signal) Disposition {
	switch s {
	case SIGCHLD, SIGCONT, SIGURG, SIGWINCH, SIGIO, SIGALRM, SIGUSR1, SIGUSR2:
		return Ignore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return Stop
	default:
		return Terminate
	}
}

// IsStop returns true if the default action of s stops the task.
func IsStop(s Signal) bool {
	return DefaultDisposition(s) == Stop
}
