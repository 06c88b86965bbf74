// Package loader maps statically linked ELF32 i386 executables into a
// task's address space.
package loader

import (
	"debug/elf"
	"io"

	"gopherix/kernel"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/vmm"
	"gopherix/kernel/task"
)

var (
	errNotExecutable = &kernel.Error{Module: "loader", Message: "not an executable i386 ELF image", Errno: kernel.ENOEXEC}
	errBadAlignment  = &kernel.Error{Module: "loader", Message: "segment alignment must be 4KB or 4MB", Errno: kernel.ENOEXEC}
	errBadSegment    = &kernel.Error{Module: "loader", Message: "segment outside of the user address range", Errno: kernel.ENOEXEC}
	errOverlap       = &kernel.Error{Module: "loader", Message: "segments mix page sizes in the same region", Errno: kernel.ENOEXEC}
)

const userFlags = vmm.FlagRW | vmm.FlagUserAccessible

// Image describes a loaded executable.
type Image struct {
	Entry uint32

	// HeapStart is the first large page boundary above the highest
	// segment. It is also the initial program break.
	HeapStart uint32
}

// segment is a validated PT_LOAD program header.
type segment struct {
	prog     *elf.Prog
	data     []byte
	kind     vmm.EntryKind
	start    uint32
	end      uint32
	writable bool
}

// pageRef is one mapping planned by the loader.
type pageRef struct {
	kind vmm.EntryKind
	virt uint32

	// readOnly is cleared when any writable segment touches the page.
	readOnly bool
}

// Check runs every validation Load performs before it touches an address
// space: the ELF header, the loadable segments and their file contents, and
// the page layout.
func Check(r io.ReaderAt) *kernel.Error {
	_, _, _, err := inspect(r)
	return err
}

// inspect parses the image and plans its mappings.
func inspect(r io.ReaderAt) (*elf.File, []segment, []pageRef, *kernel.Error) {
	f, segments, err := parse(r)
	if err != nil {
		return nil, nil, nil, err
	}

	refs, err := plan(segments)
	if err != nil {
		return nil, nil, nil, err
	}
	return f, segments, refs, nil
}

func parse(r io.ReaderAt) (*elf.File, []segment, *kernel.Error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, nil, errNotExecutable
	}

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_386 || f.Type != elf.ET_EXEC {
		return nil, nil, errNotExecutable
	}

	var segments []segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		var kind vmm.EntryKind
		switch uint32(prog.Align) {
		case mm.PageSize:
			kind = vmm.KindFine
		case mm.LargePageSize:
			kind = vmm.KindLarge
		default:
			return nil, nil, errBadAlignment
		}

		if prog.Filesz > prog.Memsz || prog.Vaddr < uint64(mm.StaticLimit) || prog.Vaddr+prog.Memsz > uint64(mm.UserStackBase) {
			return nil, nil, errBadSegment
		}

		// A truncated image must not load with zeroes in place of the
		// missing bytes.
		data := make([]byte, prog.Filesz)
		if n, err := prog.ReadAt(data, 0); uint64(n) < prog.Filesz || (err != nil && err != io.EOF) {
			return nil, nil, errNotExecutable
		}

		segments = append(segments, segment{
			prog:     prog,
			data:     data,
			kind:     kind,
			start:    uint32(prog.Vaddr),
			end:      uint32(prog.Vaddr + prog.Memsz),
			writable: prog.Flags&elf.PF_W != 0,
		})
	}

	if len(segments) == 0 {
		return nil, nil, errNotExecutable
	}
	return f, segments, nil
}

// plan returns the mappings needed by segments in the order they must be
// installed: a page table always precedes the fine pages that live in it.
func plan(segments []segment) ([]pageRef, *kernel.Error) {
	var (
		refs  []pageRef
		index = make(map[uint32]int)
		kinds = make(map[uint32]vmm.EntryKind)
	)

	claimRegion := func(region uint32, kind vmm.EntryKind) bool {
		if prev, ok := kinds[region]; ok {
			return prev == kind
		}
		kinds[region] = kind
		return true
	}

	for _, seg := range segments {
		size := seg.kind.PageSize()
		for virt := mm.PageAlignDown(seg.start, size); virt < seg.end; virt += size {
			region := mm.PageAlignDown(virt, mm.LargePageSize)
			regionKind := vmm.KindLarge
			if seg.kind == vmm.KindFine {
				regionKind = vmm.KindTable
			}
			if !claimRegion(region, regionKind) {
				return nil, errOverlap
			}

			if seg.kind == vmm.KindFine {
				if _, ok := index[region|1]; !ok {
					index[region|1] = len(refs)
					refs = append(refs, pageRef{kind: vmm.KindTable, virt: region})
				}
			}

			if i, ok := index[virt]; ok {
				refs[i].readOnly = refs[i].readOnly && !seg.writable
				continue
			}
			index[virt] = len(refs)
			refs = append(refs, pageRef{kind: seg.kind, virt: virt, readOnly: !seg.writable})
		}
	}
	return refs, nil
}

// Load maps the executable read from r into t's address space, which must
// be empty. The page map is sized for the image plus reserve extra entries
// for the stack and heap. On failure every mapping made by Load is
// released again.
func Load(tb *task.Table, t *task.Task, r io.ReaderAt, reserve int) (*Image, *kernel.Error) {
	f, segments, refs, err := inspect(r)
	if err != nil {
		return nil, err
	}

	if err = tb.Map(t); err != nil {
		return nil, err
	}

	t.PageMap = task.NewPageMap(len(refs) + reserve)
	img, err := load(tb, t, f, segments, refs)
	if err != nil {
		kfmt.Printf("[loader] pid %d: %s\n", t.Pid, err.Message)
		tb.ReleaseAddressSpace(t)
		return nil, err
	}
	return img, nil
}

func load(tb *task.Table, t *task.Task, f *elf.File, segments []segment, refs []pageRef) (*Image, *kernel.Error) {
	for _, ref := range refs {
		if _, err := tb.AllocMapping(t, ref.kind, ref.virt, userFlags); err != nil {
			return nil, err
		}
	}
	tb.Flush()

	var heapStart uint32
	for _, seg := range segments {
		if err := tb.Mapper().CopyOut(seg.start, seg.data, false); err != nil {
			return nil, err
		}

		if gap := seg.prog.Memsz - seg.prog.Filesz; gap > 0 {
			if err := tb.Mapper().CopyOut(seg.start+uint32(seg.prog.Filesz), make([]byte, gap), false); err != nil {
				return nil, err
			}
		}

		if end := mm.PageAlignUp(seg.end, mm.LargePageSize); end > heapStart {
			heapStart = end
		}
	}

	// Read-only pages lose write access only once their contents are in
	// place.
	for _, ref := range refs {
		if ref.kind == vmm.KindTable || !ref.readOnly {
			continue
		}

		index := t.PageMap.Index(ref.kind, ref.virt)
		e := t.PageMap.Entries()[index]
		if err := tb.SetMappingFlags(t, index, e.Phys, e.Flags&^vmm.FlagRW); err != nil {
			return nil, err
		}
	}
	tb.Flush()

	return &Image{Entry: uint32(f.Entry), HeapStart: heapStart}, nil
}
