package task

import (
	"gopherix/kernel"
	"gopherix/kernel/mm/vmm"
)

var errPageMapFull = &kernel.Error{Module: "task", Message: "page map is full", Errno: kernel.ENOMEM}

// PageMapEntry records one translation owned by a task. Phys indexes the
// frame arena of the physical allocator; FlagCopyOnWrite in Flags marks a
// frame that is shared with another task until the next write.
type PageMapEntry struct {
	Kind  vmm.EntryKind
	Virt  uint32
	Phys  uint32
	Flags vmm.PageTableEntryFlag
}

// Present returns true if e terminates neither the page map nor a lookup.
func (e PageMapEntry) Present() bool {
	return e.Flags&vmm.FlagPresent != 0
}

// Large returns true if e refers to a large frame.
func (e PageMapEntry) Large() bool {
	return e.Kind == vmm.KindLarge
}

// covers returns true if e maps a page containing virt.
func (e PageMapEntry) covers(virt uint32) bool {
	if e.Kind == vmm.KindTable {
		return false
	}
	return virt >= e.Virt && virt-e.Virt < e.Kind.PageSize()
}

// PageMap is a fixed-capacity ordered list of mappings. The first entry
// that is not present terminates the list.
type PageMap struct {
	entries []PageMapEntry
}

// NewPageMap returns an empty page map with room for capacity entries.
func NewPageMap(capacity int) PageMap {
	return PageMap{entries: make([]PageMapEntry, capacity)}
}

// Cap returns the capacity of the page map.
func (pm *PageMap) Cap() int {
	return len(pm.entries)
}

// Len returns the number of valid entries.
func (pm *PageMap) Len() int {
	for i, e := range pm.entries {
		if !e.Present() {
			return i
		}
	}
	return len(pm.entries)
}

// Entries returns the valid prefix of the page map. The returned slice
// aliases the page map.
func (pm *PageMap) Entries() []PageMapEntry {
	return pm.entries[:pm.Len()]
}

// Add appends e to the page map.
func (pm *PageMap) Add(e PageMapEntry) *kernel.Error {
	n := pm.Len()
	if n == len(pm.entries) {
		return errPageMapFull
	}

	e.Flags |= vmm.FlagPresent
	pm.entries[n] = e
	return nil
}

// Index returns the index of the entry of the given kind starting at virt,
// or -1.
func (pm *PageMap) Index(kind vmm.EntryKind, virt uint32) int {
	for i, e := range pm.Entries() {
		if e.Kind == kind && e.Virt == virt {
			return i
		}
	}
	return -1
}

// Lookup returns the index of the page (not table) entry that maps virt, or
// -1.
func (pm *PageMap) Lookup(virt uint32) int {
	for i, e := range pm.Entries() {
		if e.covers(virt) {
			return i
		}
	}
	return -1
}

// Remove deletes the entry at index, shifting later entries down.
func (pm *PageMap) Remove(index int) {
	n := pm.Len()
	if index < 0 || index >= n {
		return
	}

	copy(pm.entries[index:n], pm.entries[index+1:n])
	pm.entries[n-1] = PageMapEntry{}
}

// Clear removes every entry.
func (pm *PageMap) Clear() {
	for i := range pm.entries {
		pm.entries[i] = PageMapEntry{}
	}
}

// Clone returns a copy of pm with the same capacity.
func (pm *PageMap) Clone() PageMap {
	clone := NewPageMap(len(pm.entries))
	copy(clone.entries, pm.entries)
	return clone
}
