package task

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/kfmt"
	"gopherix/kernel/mm"
	"gopherix/kernel/mm/vmm"
)

var (
	errNotCopyOnWrite = &kernel.Error{Module: "task", Message: "address is not a copy-on-write page", Errno: kernel.EFAULT}
	errNoSuchMapping  = &kernel.Error{Module: "task", Message: "no such mapping", Errno: kernel.EINVAL}
)

// Map makes t's address space the active one: the entries of the
// previously mapped task are removed, t's entries are installed and the TLB
// is flushed.
func (tb *Table) Map(t *Task) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	if tb.mapped == t.Pid {
		return nil
	}

	if old := tb.Get(tb.mapped); old != nil {
		tb.uninstall(old)
	}
	tb.mapped = -1

	if err := tb.install(t); err != nil {
		return err
	}
	tb.mapped = t.Pid
	tb.mapper.Flush()
	return nil
}

// Mapped returns the pid whose address space is active, or -1.
func (tb *Table) Mapped() int {
	return tb.mapped
}

// Flush flushes the TLB.
func (tb *Table) Flush() {
	tb.mapper.Flush()
}

// install adds the entries of t's page map in order so tables are present
// before the fine entries that live in them.
func (tb *Table) install(t *Task) *kernel.Error {
	for _, e := range t.PageMap.Entries() {
		if err := tb.mapper.Add(e.Kind, e.Virt, e.Phys, e.Flags); err != nil {
			kfmt.Printf("[task] pid %d: cannot map 0x%08x: %s\n", t.Pid, e.Virt, err.Message)
			return err
		}
	}
	return nil
}

// uninstall removes the entries of t's page map in reverse order.
func (tb *Table) uninstall(t *Task) {
	entries := t.PageMap.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		_ = tb.mapper.Delete(entries[i].Kind, entries[i].Virt)
	}
}

// ReleaseAddressSpace unmaps and releases every frame in t's page map and
// empties it. The TLB is flushed once.
func (tb *Table) ReleaseAddressSpace(t *Task) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	if tb.mapped == t.Pid {
		tb.uninstall(t)
	}

	for _, e := range t.PageMap.Entries() {
		tb.releaseFrame(t, e)
	}
	t.PageMap.Clear()
	tb.mapper.Flush()
}

func (tb *Table) releaseFrame(t *Task, e PageMapEntry) {
	if err := tb.frames.Release(e.Phys, e.Large()); err != nil {
		kfmt.Printf("[task] pid %d: cannot release frame 0x%08x: %s\n", t.Pid, e.Phys, err.Message)
	}
}

// AllocMapping allocates a zeroed frame of the given kind and maps it at
// virt in t's address space. Table entries get a fine frame holding an
// empty page table. The TLB is not flushed.
func (tb *Table) AllocMapping(t *Task, kind vmm.EntryKind, virt uint32, flags vmm.PageTableEntryFlag) (uint32, *kernel.Error) {
	var (
		phys uint32
		err  *kernel.Error
	)

	if kind == vmm.KindLarge {
		phys, err = tb.frames.AllocLarge()
	} else {
		phys, err = tb.frames.AllocFine()
	}
	if err != nil {
		return 0, err
	}

	size := mm.PageSize
	if kind == vmm.KindLarge {
		size = mm.LargePageSize
	}

	if err = tb.mem.Zero(phys, size); err == nil {
		err = tb.AddMapping(t, PageMapEntry{Kind: kind, Virt: virt, Phys: phys, Flags: flags})
	}
	if err != nil {
		_ = tb.frames.Release(phys, kind == vmm.KindLarge)
		return 0, err
	}
	return phys, nil
}

// AddMapping appends e to t's page map and installs it if t's address
// space is active. The caller's reference to the frame is transferred to
// the page map.
func (tb *Table) AddMapping(t *Task, e PageMapEntry) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	e.Flags |= vmm.FlagPresent
	if t.PageMap.Len() == t.PageMap.Cap() {
		return errPageMapFull
	}

	if tb.mapped == t.Pid {
		if err := tb.mapper.Add(e.Kind, e.Virt, e.Phys, e.Flags); err != nil {
			return err
		}
	}
	return t.PageMap.Add(e)
}

// RemoveMapping unmaps the entry of the given kind at virt and releases
// its frame. The TLB is not flushed.
func (tb *Table) RemoveMapping(t *Task, kind vmm.EntryKind, virt uint32) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	index := t.PageMap.Index(kind, virt)
	if index < 0 {
		return errNoSuchMapping
	}

	e := t.PageMap.entries[index]
	if tb.mapped == t.Pid {
		if err := tb.mapper.Delete(e.Kind, e.Virt); err != nil {
			return err
		}
	}

	t.PageMap.Remove(index)
	tb.releaseFrame(t, e)
	return nil
}

// SetMappingFlags replaces the flags of the entry at index in t's page map
// and updates the page tables if t is mapped. The TLB is not flushed.
func (tb *Table) SetMappingFlags(t *Task, index int, phys uint32, flags vmm.PageTableEntryFlag) *kernel.Error {
	e := &t.PageMap.entries[index]
	flags |= vmm.FlagPresent

	if tb.mapped == t.Pid {
		if err := tb.mapper.Delete(e.Kind, e.Virt); err != nil {
			return err
		}
		if err := tb.mapper.Add(e.Kind, e.Virt, phys, flags); err != nil {
			return err
		}
	}

	e.Phys, e.Flags = phys, flags
	return nil
}

// shareForFork gives child a reference to every frame mapped by parent and
// demotes every writable page in both to read-only copy-on-write. Page
// tables are shared by reference.
func (tb *Table) shareForFork(parent, child *Task) *kernel.Error {
	entries := child.PageMap.Entries()
	for i, e := range entries {
		if err := tb.frames.AddReference(e.Phys, e.Large()); err != nil {
			for _, done := range entries[:i] {
				tb.releaseFrame(child, done)
			}
			child.PageMap.Clear()
			return err
		}
	}

	remap := tb.mapped == parent.Pid
	if remap {
		tb.uninstall(parent)
	}

	parentEntries := parent.PageMap.Entries()
	for i := range entries {
		if entries[i].Kind == vmm.KindTable || entries[i].Flags&vmm.FlagRW == 0 {
			continue
		}

		demoted := (entries[i].Flags &^ vmm.FlagRW) | vmm.FlagCopyOnWrite
		entries[i].Flags = demoted
		parentEntries[i].Flags = demoted
	}

	if remap {
		if err := tb.install(parent); err != nil {
			return err
		}
		tb.mapper.Flush()
	}
	return nil
}

// ResolveCopyOnWrite handles a write to a copy-on-write page of t at virt.
// A frame that is no longer shared is made writable in place; otherwise the
// contents are copied into a private frame and the shared reference is
// dropped.
func (tb *Table) ResolveCopyOnWrite(t *Task, virt uint32) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	index := t.PageMap.Lookup(virt)
	if index < 0 || t.PageMap.entries[index].Flags&vmm.FlagCopyOnWrite == 0 {
		return errNotCopyOnWrite
	}

	e := t.PageMap.entries[index]
	newFlags := (e.Flags | vmm.FlagRW) &^ vmm.FlagCopyOnWrite

	refs, err := tb.frames.ReferenceCount(e.Phys, e.Large())
	if err != nil {
		return err
	}

	phys := e.Phys
	if refs > 1 {
		if e.Large() {
			phys, err = tb.frames.AllocLarge()
		} else {
			phys, err = tb.frames.AllocFine()
		}
		if err != nil {
			return err
		}

		if err = tb.mem.Copy(phys, e.Phys, e.Kind.PageSize()); err != nil {
			_ = tb.frames.Release(phys, e.Large())
			return err
		}
	}

	if err = tb.SetMappingFlags(t, index, phys, newFlags); err != nil {
		return err
	}

	if phys != e.Phys {
		tb.releaseFrame(t, e)
	}
	tb.mapper.Flush()
	return nil
}
