package loader

import (
	"bytes"
	"testing"

	"gopherix/internal/asm"
	"gopherix/kernel"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/pmm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/task"
	"gopherix/kernel/vfs"
)

const (
	textAddr = uint32(0x08048000)
	dataAddr = uint32(0x08400000)
)

func setup(t *testing.T) (*task.Table, *task.Task, *pmm.Allocator) {
	mem := mm.NewPhysMem(8 * mm.LargePageSize)
	alloc, err := pmm.NewAllocator(mem)
	if err != nil {
		t.Fatal(err)
	}

	lowTable, _ := alloc.AllocFine()
	mapper := vmm.NewMapper(mem, alloc)
	if err = mapper.Init(lowTable); err != nil {
		t.Fatal(err)
	}

	tb := task.NewTable(4, 4, mem, alloc, mapper, task.NewStackPool(mm.KernelStackFrame.Address(), 8192, 4))
	k, err := tb.CreateKernelTask(vfs.NewConsole(new(bytes.Buffer)))
	if err != nil {
		t.Fatal(err)
	}

	child, err := tb.Clone(k)
	if err != nil {
		t.Fatal(err)
	}
	return tb, child, alloc
}

func testImage() []byte {
	text := asm.New().Syscall(1, 42).MustBytes()
	return asm.Image(textAddr,
		asm.Segment{Vaddr: textAddr, Data: text, Align: mm.PageSize},
		asm.Segment{Vaddr: dataAddr, Data: []byte("data"), Memsz: 2 * mm.PageSize, Align: mm.LargePageSize, Writable: true},
	)
}

func TestLoad(t *testing.T) {
	tb, child, _ := setup(t)

	img, err := Load(tb, child, bytes.NewReader(testImage()), 2)
	if err != nil {
		t.Fatal(err)
	}

	if img.Entry != textAddr || img.HeapStart != 0x08800000 {
		t.Fatalf("unexpected entry 0x%x / heap start 0x%x", img.Entry, img.HeapStart)
	}

	if child.PageMap.Len() != 3 || child.PageMap.Cap() != 5 {
		t.Fatalf("expected 3 of 5 page map slots in use; got %d of %d", child.PageMap.Len(), child.PageMap.Cap())
	}
	if tb.Mapped() != child.Pid {
		t.Fatalf("expected pid %d to be mapped; got %d", child.Pid, tb.Mapped())
	}

	mapper := tb.Mapper()
	buf := make([]byte, 2)
	if err = mapper.CopyIn(textAddr, buf, true); err != nil || buf[0] != 0xb8 {
		t.Fatalf("unexpected text contents % x (%v)", buf, err)
	}

	// Text is read-only once loaded.
	if _, fault := mapper.Translate(textAddr, true, true); fault == nil {
		t.Fatal("expected text segment to be read-only")
	}

	word, err := mapper.ReadWord(dataAddr)
	if err != nil || word != 0x61746164 {
		t.Fatalf("unexpected data word 0x%x (%v)", word, err)
	}
	if word, _ = mapper.ReadWord(dataAddr + mm.PageSize); word != 0 {
		t.Fatalf("expected bss to be zeroed; got 0x%x", word)
	}
	if err = mapper.WriteWord(dataAddr+8, 1); err != nil {
		t.Fatalf("expected data segment to be writable; got %v", err)
	}
}

func TestLoadRejectsBadImages(t *testing.T) {
	corrupt := func(offset int, value byte) []byte {
		img := testImage()
		img[offset] = value
		return img
	}

	specs := []struct {
		descr  string
		img    []byte
		expErr *kernel.Error
	}{
		{"bad magic", corrupt(1, 'X'), errNotExecutable},
		{"wrong architecture", corrupt(18, 62), errNotExecutable},
		{"64-bit class", corrupt(4, 2), errNotExecutable},
		{"big endian", corrupt(5, 2), errNotExecutable},
		{"truncated", testImage()[:20], errNotExecutable},
		{
			"odd alignment",
			asm.Image(textAddr, asm.Segment{Vaddr: textAddr, Data: []byte{0x90}, Align: 0x2000}),
			errBadAlignment,
		},
		{
			"kernel address",
			asm.Image(mm.KernelBase, asm.Segment{Vaddr: mm.KernelBase, Data: []byte{0x90}, Align: mm.PageSize}),
			errBadSegment,
		},
		{
			"mixed page sizes",
			asm.Image(textAddr,
				asm.Segment{Vaddr: textAddr, Data: []byte{0x90}, Align: mm.PageSize},
				asm.Segment{Vaddr: 0x08000000, Data: []byte{0x90}, Align: mm.LargePageSize},
			),
			errOverlap,
		},
		{
			"truncated segment",
			func() []byte {
				img := asm.Image(textAddr,
					asm.Segment{Vaddr: dataAddr, Data: bytes.Repeat([]byte{0xaa}, 64), Align: mm.PageSize, Writable: true},
				)
				return img[:len(img)-32]
			}(),
			errNotExecutable,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			tb, child, alloc := setup(t)
			freeLarge, freeFine := alloc.FreeLarge(), alloc.FreeFine()

			if err := Check(bytes.NewReader(spec.img)); err != spec.expErr {
				t.Fatalf("expected Check to return %v; got %v", spec.expErr, err)
			}

			if _, err := Load(tb, child, bytes.NewReader(spec.img), 2); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if err := spec.expErr; err.Errno != kernel.ENOEXEC {
				t.Fatalf("expected ENOEXEC; got %d", err.Errno)
			}

			if child.PageMap.Len() != 0 || alloc.FreeLarge() != freeLarge || alloc.FreeFine() != freeFine {
				t.Fatal("expected no pages to be left mapped")
			}
		})
	}
}

func TestLoadUnwindsOnOutOfMemory(t *testing.T) {
	tb, child, alloc := setup(t)
	freeFine := alloc.FreeFine()

	for alloc.FreeLarge() > 0 {
		if _, err := alloc.AllocLarge(); err != nil {
			t.Fatal(err)
		}
	}

	_, err := Load(tb, child, bytes.NewReader(testImage()), 2)
	if err == nil || err.Errno != kernel.ENOMEM {
		t.Fatalf("expected ENOMEM; got %v", err)
	}

	if child.PageMap.Len() != 0 || alloc.FreeFine() != freeFine {
		t.Fatalf("expected fine frames to be released; free %d, expected %d", alloc.FreeFine(), freeFine)
	}

	if _, fault := tb.Mapper().Translate(textAddr, false, true); fault == nil {
		t.Fatal("expected text page to be unmapped")
	}
}
