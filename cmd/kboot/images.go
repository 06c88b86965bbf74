package main

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"gopherix/internal/asm"
	"gopherix/kernel/mm"
	"gopherix/kernel/proc"
	"gopherix/kernel/vfs"
)

// loadImages copies every regular file below root into fs. A file at
// root/bin/init becomes /bin/init.
func loadImages(fs *vfs.MemFS, root string) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		data, err := ioutil.ReadFile(path)
		if err != nil {
			return err
		}

		fs.AddFile("/"+filepath.ToSlash(rel), data)
		count++
		return nil
	})
	return count, err
}

const (
	demoText = uint32(0x08048000)
	demoData = uint32(0x08400000)
)

// demoInit builds the init program used when no image directory is given.
// It forks a child that greets the console, waits for it and exits with
// the child's pid.
func demoInit() []byte {
	const (
		parentMsg = demoData
		childMsg  = demoData + 32
	)

	data := make([]byte, 64)
	copy(data, "init: waiting for child\n")
	copy(data[32:], "child: hello from user mode\n")

	text := asm.New().
		Syscall(proc.SysFork).
		TestEAX().
		Jz("child").
		Syscall(proc.SysWrite, 1, parentMsg, 24).
		Syscall(proc.SysWaitpid, 0xffffffff, 0, 0).
		MovReg(asm.EBX, asm.EAX).
		Mov(asm.EAX, proc.SysExit).
		Int80().
		Label("child").
		Syscall(proc.SysWrite, 1, childMsg, 28).
		Syscall(proc.SysExit, 0).
		MustBytes()

	return asm.Image(demoText,
		asm.Segment{Vaddr: demoText, Data: text, Align: mm.PageSize},
		asm.Segment{Vaddr: demoData, Data: data, Align: mm.LargePageSize, Writable: true},
	)
}
