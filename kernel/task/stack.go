package task

import (
	"gopherix/kernel"
	"gopherix/kernel/mm"
)

var errNoStackSlot = &kernel.Error{Module: "task", Message: "no free kernel stack slot", Errno: kernel.ENOMEM}

// StackPool hands out the kernel stacks carved from the reserved kernel
// stack frame. Slots are tagged with the owning pid; -1 marks a free slot.
type StackPool struct {
	base     uint32
	slotSize uint32
	owners   []int
}

// NewStackPool divides the region [base, base+count*slotSize) into count
// stack slots.
func NewStackPool(base, slotSize uint32, count int) *StackPool {
	if max := int(mm.LargePageSize / slotSize); count > max {
		count = max
	}

	owners := make([]int, count)
	for i := range owners {
		owners[i] = -1
	}

	return &StackPool{base: base, slotSize: slotSize, owners: owners}
}

// Claim assigns a free slot to pid and returns the top of its stack.
func (p *StackPool) Claim(pid int) (uint32, *kernel.Error) {
	for slot, owner := range p.owners {
		if owner == -1 {
			p.owners[slot] = pid
			return p.top(slot), nil
		}
	}
	return 0, errNoStackSlot
}

// Free releases the slot owned by pid.
func (p *StackPool) Free(pid int) {
	for slot, owner := range p.owners {
		if owner == pid {
			p.owners[slot] = -1
			return
		}
	}
}

// Lookup returns the top of the stack owned by pid.
func (p *StackPool) Lookup(pid int) (uint32, bool) {
	for slot, owner := range p.owners {
		if owner == pid {
			return p.top(slot), true
		}
	}
	return 0, false
}

func (p *StackPool) top(slot int) uint32 {
	return p.base + uint32(slot+1)*p.slotSize
}
