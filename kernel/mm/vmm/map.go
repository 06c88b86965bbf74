package vmm

import (
	"gopherix/kernel"
	"gopherix/kernel/mm"
)

// Add installs an entry of the given kind. See AddLargeEntry, AddTableEntry
// and AddFineEntry for the checks applied to each kind.
func (m *Mapper) Add(kind EntryKind, virt, phys uint32, flags PageTableEntryFlag) *kernel.Error {
	switch kind {
	case KindLarge:
		return m.AddLargeEntry(virt, phys, flags)
	case KindTable:
		return m.AddTableEntry(virt, phys, flags)
	default:
		return m.AddFineEntry(virt, phys, flags)
	}
}

// AddLargeEntry maps the 4MB page at virt to the allocated large frame at
// phys. The present and large-page flags are always set.
func (m *Mapper) AddLargeEntry(virt, phys uint32, flags PageTableEntryFlag) *kernel.Error {
	if !mm.IsLargePageAligned(virt) || !mm.IsLargePageAligned(phys) {
		return errMisaligned
	}

	pde := &m.directory[virt>>mm.LargePageShift]
	if pde.HasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	if err := m.checkFrame(phys, true); err != nil {
		return err
	}

	*pde = newEntry(phys, flags|FlagPresent|FlagLargePage)
	return nil
}

// AddTableEntry points the directory slot covering virt to the page table
// stored in the allocated fine frame at phys. The table contents are left
// untouched so that tables shared between address spaces keep their
// entries. The present flag is always set.
func (m *Mapper) AddTableEntry(virt, phys uint32, flags PageTableEntryFlag) *kernel.Error {
	if !mm.IsLargePageAligned(virt) || !mm.IsPageAligned(phys) {
		return errMisaligned
	}

	pde := &m.directory[virt>>mm.LargePageShift]
	if pde.HasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	if err := m.checkFrame(phys, false); err != nil {
		return err
	}

	*pde = newEntry(phys, (flags|FlagPresent)&^FlagLargePage)
	return nil
}

// AddFineEntry maps the 4KB page at virt to the allocated fine frame at
// phys. The directory slot covering virt must already point to a page table.
// The present flag is always set.
func (m *Mapper) AddFineEntry(virt, phys uint32, flags PageTableEntryFlag) *kernel.Error {
	if !mm.IsPageAligned(virt) || !mm.IsPageAligned(phys) {
		return errMisaligned
	}

	pteAddr, err := m.fineEntryAddr(virt)
	if err != nil {
		return err
	}

	pte, err := m.readEntry(pteAddr)
	if err != nil {
		return err
	}
	if pte.HasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	if err := m.checkFrame(phys, false); err != nil {
		return err
	}

	return m.writeEntry(pteAddr, newEntry(phys, (flags|FlagPresent)&^FlagLargePage))
}

// MapKernelLarge installs a directory entry for a kernel-owned large frame.
// Unlike AddLargeEntry it accepts reserved frames and overwrites whatever
// the slot held. It is used while setting up the static mappings.
func (m *Mapper) MapKernelLarge(virt, phys uint32, flags PageTableEntryFlag) {
	m.directory[virt>>mm.LargePageShift] = newEntry(phys&largeAddrMask, flags|FlagPresent|FlagLargePage)
}

// MapKernelTable points a directory slot at a kernel-owned page table.
func (m *Mapper) MapKernelTable(virt, phys uint32, flags PageTableEntryFlag) {
	m.directory[virt>>mm.LargePageShift] = newEntry(phys, (flags|FlagPresent)&^FlagLargePage)
}

// MapKernelFine installs a fine entry inside a kernel-owned page table.
func (m *Mapper) MapKernelFine(virt, phys uint32, flags PageTableEntryFlag) *kernel.Error {
	pteAddr, err := m.fineEntryAddr(virt)
	if err != nil {
		return err
	}
	return m.writeEntry(pteAddr, newEntry(phys, (flags|FlagPresent)&^FlagLargePage))
}

// Delete removes an entry of the given kind by clearing its present flag.
// Entries covering the static low region cannot be removed. The TLB is not
// flushed; callers batch removals and call Flush once.
func (m *Mapper) Delete(kind EntryKind, virt uint32) *kernel.Error {
	if virt < mm.StaticLimit {
		return errStaticEntry
	}

	if kind != KindFine {
		pde := &m.directory[virt>>mm.LargePageShift]
		if !pde.HasFlags(FlagPresent) {
			return errNotMapped
		}
		pde.ClearFlags(FlagPresent)
		return nil
	}

	pteAddr, err := m.fineEntryAddr(virt)
	if err != nil {
		return err
	}

	pte, err := m.readEntry(pteAddr)
	if err != nil {
		return err
	}
	if !pte.HasFlags(FlagPresent) {
		return errNotMapped
	}
	pte.ClearFlags(FlagPresent)
	return m.writeEntry(pteAddr, pte)
}

// Entry returns the raw entry of the given kind that covers virt and
// whether it is present.
func (m *Mapper) Entry(kind EntryKind, virt uint32) (phys uint32, flags PageTableEntryFlag, present bool) {
	var pte pageTableEntry
	if kind == KindFine {
		pteAddr, err := m.fineEntryAddr(virt)
		if err != nil {
			return 0, 0, false
		}
		if pte, err = m.readEntry(pteAddr); err != nil {
			return 0, 0, false
		}
	} else {
		pte = m.directory[virt>>mm.LargePageShift]
	}

	return pte.Address(), pte.Flags(), pte.HasFlags(FlagPresent)
}

// checkFrame ensures that phys refers to a frame that user mappings may
// point to.
func (m *Mapper) checkFrame(phys uint32, large bool) *kernel.Error {
	switch {
	case m.frames.IsReserved(phys, large):
		return errReservedFrame
	case !m.frames.IsAllocated(phys, large):
		return errUnallocated
	}
	return nil
}

// fineEntryAddr returns the physical address of the page table entry for
// virt. The directory slot for virt must point to a page table.
func (m *Mapper) fineEntryAddr(virt uint32) (uint32, *kernel.Error) {
	pde := m.directory[virt>>mm.LargePageShift]
	if !pde.HasFlags(FlagPresent) || pde.HasFlags(FlagLargePage) {
		return 0, errNoTable
	}

	index := (virt >> mm.PageShift) & (entryCount - 1)
	return pde.Address() + index*mm.WordSize, nil
}

func (m *Mapper) readEntry(addr uint32) (pageTableEntry, *kernel.Error) {
	value, err := m.mem.ReadWord(addr)
	return pageTableEntry(value), err
}

func (m *Mapper) writeEntry(addr uint32, pte pageTableEntry) *kernel.Error {
	return m.mem.WriteWord(addr, uint32(pte))
}
