package vmm

import (
	"gopherix/kernel"
	"gopherix/kernel/cpu"
	"gopherix/kernel/mm"
)

// tlbEntry caches the translation of a single fine virtual page. Large
// pages are cached one fine page at a time.
type tlbEntry struct {
	frame  uint32
	flags  PageTableEntryFlag
	global bool
}

// Flush reloads the paging root, discarding every cached translation that
// does not belong to a global page. Until Flush is called, translations
// cached before a mapping changed remain in effect.
func (m *Mapper) Flush() {
	for page, entry := range m.tlb {
		if !entry.global {
			delete(m.tlb, page)
		}
	}
	switchPDTFn()
}

// Translate returns the physical address for virt as seen by an access of
// the given kind. A non-nil Fault describes why the access cannot proceed.
func (m *Mapper) Translate(virt uint32, write, user bool) (uint32, *Fault) {
	page := virt >> mm.PageShift
	offset := virt & (mm.PageSize - 1)

	entry, cached := m.tlb[page]
	if !cached {
		var ok bool
		if entry, ok = m.walk(virt); !ok {
			return 0, newFault(virt, false, write, user)
		}
		m.tlb[page] = entry
	}

	if (user && !entry.flags.has(FlagUserAccessible)) || (write && !entry.flags.has(FlagRW)) {
		return 0, newFault(virt, true, write, user)
	}

	return entry.frame + offset, nil
}

// walk resolves virt through the page tables. Permissions are the
// intersection of the directory and table entry permissions.
func (m *Mapper) walk(virt uint32) (tlbEntry, bool) {
	pde := m.directory[virt>>mm.LargePageShift]
	if !pde.HasFlags(FlagPresent) {
		return tlbEntry{}, false
	}

	if pde.HasFlags(FlagLargePage) {
		return tlbEntry{
			frame:  pde.Address() + (virt & (mm.LargePageSize - 1) &^ (mm.PageSize - 1)),
			flags:  pde.Flags(),
			global: pde.HasFlags(FlagGlobal),
		}, true
	}

	pteAddr, _ := m.fineEntryAddr(virt)
	pte, err := m.readEntry(pteAddr)
	if err != nil || !pte.HasFlags(FlagPresent) {
		return tlbEntry{}, false
	}

	access := PageTableEntryFlag(FlagRW | FlagUserAccessible)
	return tlbEntry{
		frame:  pte.Address(),
		flags:  pte.Flags() &^ (access &^ pde.Flags()),
		global: pte.HasFlags(FlagGlobal),
	}, true
}

func (f PageTableEntryFlag) has(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

// Load implements cpu.Memory. Accesses are performed with user privilege and
// faults are reported to the processor instead of being resolved here.
func (m *Mapper) Load(addr uint32, buf []byte) (uint32, *cpu.Exception) {
	return m.userAccess(addr, buf, false)
}

// Store implements cpu.Memory.
func (m *Mapper) Store(addr uint32, data []byte) (uint32, *cpu.Exception) {
	return m.userAccess(addr, data, true)
}

func (m *Mapper) userAccess(addr uint32, buf []byte, write bool) (uint32, *cpu.Exception) {
	// Check every page first so that a faulting store leaves memory untouched.
	phys := make([]uint32, 0, 2)
	for done := uint32(0); done < uint32(len(buf)); {
		virt := addr + done
		p, fault := m.Translate(virt, write, true)
		if fault != nil {
			return fault.Addr, fault.Exception()
		}
		phys = append(phys, p)
		done += chunkLen(virt, uint32(len(buf))-done)
	}

	done := uint32(0)
	for _, p := range phys {
		n := chunkLen(addr+done, uint32(len(buf))-done)
		var err *kernel.Error
		if write {
			err = m.mem.Write(p, buf[done:done+n])
		} else {
			err = m.mem.Read(p, buf[done:done+n])
		}
		if err != nil {
			return addr + done, newFault(addr+done, false, write, true).Exception()
		}
		done += n
	}
	return 0, nil
}

// chunkLen returns how many of the remaining bytes fit in the page that
// contains virt.
func chunkLen(virt, remaining uint32) uint32 {
	n := mm.PageSize - (virt & (mm.PageSize - 1))
	if n > remaining {
		n = remaining
	}
	return n
}
