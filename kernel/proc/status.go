package proc

import "gopherix/kernel/signal"

// waitpid options.
const (
	WNOHANG   = uint32(1)
	WUNTRACED = uint32(2)
)

// ExitedStatus packs the status of a task that called _exit.
func ExitedStatus(code uint32) uint32 {
	return (code & 0xff) << 8
}

// KilledStatus packs the status of a task terminated by sig.
func KilledStatus(sig signal.Signal) uint32 {
	return uint32(sig) & 0x7f
}

// StoppedStatus packs the status of a task stopped by sig.
func StoppedStatus(sig signal.Signal) uint32 {
	return uint32(sig)<<8 | 0x7f
}

// ExitCode decodes a status packed by ExitedStatus.
func ExitCode(status uint32) (uint32, bool) {
	if status&0x7f != 0 {
		return 0, false
	}
	return (status >> 8) & 0xff, true
}

// TermSignal decodes a status packed by KilledStatus.
func TermSignal(status uint32) (signal.Signal, bool) {
	sig := status & 0x7f
	if sig == 0 || sig == 0x7f {
		return 0, false
	}
	return signal.Signal(sig), true
}

// StopSignal decodes a status packed by StoppedStatus.
func StopSignal(status uint32) (signal.Signal, bool) {
	if status&0xff != 0x7f {
		return 0, false
	}
	return signal.Signal((status >> 8) & 0xff), true
}
