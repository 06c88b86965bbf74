package vmm

// pageTableEntry is a page directory or page table entry: the physical
// address of the target in the upper bits and PageTableEntryFlag values in
// the lower 12 bits.
type pageTableEntry uint32

func newEntry(phys uint32, flags PageTableEntryFlag) pageTableEntry {
	pte := pageTableEntry(phys & tableAddrMask)
	pte.SetFlags(PageTableEntryFlag(uint32(flags) & entryFlagMask))
	return pte
}

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Flags returns the flag bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint32(pte) & entryFlagMask)
}

// Address returns the physical address stored in the entry. For large-page
// directory entries the low 22 bits are masked off.
func (pte pageTableEntry) Address() uint32 {
	if pte.HasFlags(FlagLargePage) {
		return uint32(pte) & largeAddrMask
	}
	return uint32(pte) & tableAddrMask
}
