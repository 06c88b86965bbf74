package proc

import (
	"path"

	"gopherix/kernel"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

// ioChunk is the largest transfer between a file and user memory done in
// one step.
const ioChunk = 4096

var errNoFS = &kernel.Error{Module: "proc", Message: "no file system", Errno: kernel.ENOENT}

// resolvePath returns p relative to the working directory of t.
func resolvePath(t *task.Task, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	cwd := t.Cwd
	if cwd == "" {
		cwd = "/"
	}
	return path.Join(cwd, p)
}

func (k *Kernel) sysOpen(t *task.Task, pathAddr, _, _ uint32) int32 {
	if k.fs == nil {
		return errno(errNoFS)
	}

	p, err := k.tasks.Mapper().ReadString(pathAddr, maxPathLen)
	if err != nil {
		return errno(err)
	}

	f, err := k.fs.Open(resolvePath(t, p))
	if err != nil {
		return errno(err)
	}

	fd, err := t.InstallFile(vfs.NewHandle(f))
	if err != nil {
		_ = f.Close()
		return errno(err)
	}
	return int32(fd)
}

func (k *Kernel) sysClose(t *task.Task, fd, _, _ uint32) int32 {
	if err := t.CloseFile(int(int32(fd))); err != nil {
		return errno(err)
	}
	return 0
}

// sysRead performs a single read of at most ioChunk bytes.
func (k *Kernel) sysRead(t *task.Task, fd, bufAddr, count uint32) int32 {
	h, err := t.File(int(int32(fd)))
	if err != nil {
		return errno(err)
	}

	if count > ioChunk {
		count = ioChunk
	}
	buf := make([]byte, count)

	n, rerr := h.File().Read(buf)
	if n == 0 {
		if kerr := vfs.ToError(rerr); kerr != nil {
			return errno(kerr)
		}
		return 0
	}

	if err = k.tasks.Mapper().CopyOut(bufAddr, buf[:n], true); err != nil {
		return errno(err)
	}
	return int32(n)
}

func (k *Kernel) sysWrite(t *task.Task, fd, bufAddr, count uint32) int32 {
	h, err := t.File(int(int32(fd)))
	if err != nil {
		return errno(err)
	}

	var (
		written uint32
		buf     = make([]byte, ioChunk)
	)
	for written < count {
		chunk := count - written
		if chunk > ioChunk {
			chunk = ioChunk
		}

		if err = k.tasks.Mapper().CopyIn(bufAddr+written, buf[:chunk], true); err != nil {
			if written > 0 {
				break
			}
			return errno(err)
		}

		n, werr := h.File().Write(buf[:chunk])
		written += uint32(n)
		if werr != nil {
			if written > 0 {
				break
			}
			return errno(vfs.ToError(werr))
		}
	}
	return int32(written)
}

func (k *Kernel) sysLseek(t *task.Task, fd, offset, whence uint32) int32 {
	h, err := t.File(int(int32(fd)))
	if err != nil {
		return errno(err)
	}

	pos, serr := h.File().Seek(int64(int32(offset)), int(whence))
	if serr != nil {
		return errno(vfs.ToError(serr))
	}
	return int32(pos)
}
