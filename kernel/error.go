package kernel

// Errno is the numeric error code reported to user space. Syscalls return
// the negated value of an Errno on failure.
type Errno int32

// Error numbers use the i386 Linux values so that user programs built
// against a standard libc can decode them.
const (
	EPERM   = Errno(1)
	ENOENT  = Errno(2)
	ESRCH   = Errno(3)
	EINTR   = Errno(4)
	ENOEXEC = Errno(8)
	EBADF   = Errno(9)
	ECHILD  = Errno(10)
	EAGAIN  = Errno(11)
	ENOMEM  = Errno(12)
	EACCES  = Errno(13)
	EFAULT  = Errno(14)
	EEXIST  = Errno(17)
	EINVAL  = Errno(22)
	EMFILE  = Errno(24)
	ENOSYS  = Errno(38)
)

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so callers can compare
// them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// The code reported to user space when this error reaches the syscall
	// boundary.
	Errno Errno
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Negated returns the value a syscall returns for this error.
func (e *Error) Negated() int32 {
	return -int32(e.Errno)
}
