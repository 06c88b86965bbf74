package pmm

import (
	"gopherix/kernel/mm"
	"math/rand"
	"testing"
)

func newTestAllocator(t *testing.T, largeFrames uint32) *Allocator {
	alloc, err := NewAllocator(mm.NewPhysMem(largeFrames * mm.LargePageSize))
	if err != nil {
		t.Fatal(err)
	}
	return alloc
}

func TestNewAllocatorTooLittleMemory(t *testing.T) {
	if _, err := NewAllocator(mm.NewPhysMem(4 * mm.LargePageSize)); err != errTooLittleMemory {
		t.Fatalf("expected errTooLittleMemory; got %v", err)
	}
}

func TestAllocLargeRotatesAndWraps(t *testing.T) {
	alloc := newTestAllocator(t, 7)

	var got []uint32
	for i := 0; i < 3; i++ {
		addr, err := alloc.AllocLarge()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, addr)
	}

	for i, exp := range []uint32{4 * mm.LargePageSize, 5 * mm.LargePageSize, 6 * mm.LargePageSize} {
		if got[i] != exp {
			t.Fatalf("[alloc %d] expected address 0x%x; got 0x%x", i, exp, got[i])
		}
	}

	if _, err := alloc.AllocLarge(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory after one lap; got %v", err)
	}

	// Freeing the first frame lets the wrapped scan find it again
	if err := alloc.Release(got[0], true); err != nil {
		t.Fatal(err)
	}
	addr, err := alloc.AllocLarge()
	if err != nil || addr != got[0] {
		t.Fatalf("expected the wrapped scan to return 0x%x; got 0x%x (err: %v)", got[0], addr, err)
	}
}

func TestAllocFine(t *testing.T) {
	alloc := newTestAllocator(t, 5)

	first, err := alloc.AllocFine()
	if err != nil {
		t.Fatal(err)
	}
	if first != mm.FinePoolFrame.Address() {
		t.Fatalf("expected first fine frame at 0x%x; got 0x%x", mm.FinePoolFrame.Address(), first)
	}

	for i := uint32(1); i < mm.FinePerLarge; i++ {
		if _, err = alloc.AllocFine(); err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}
	}

	if _, err = alloc.AllocFine(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}

	if alloc.FreeFine() != 0 {
		t.Fatalf("expected no free fine frames; got %d", alloc.FreeFine())
	}
}

func TestReferenceCounting(t *testing.T) {
	alloc := newTestAllocator(t, 6)

	addr, _ := alloc.AllocLarge()
	if err := alloc.AddReference(addr, true); err != nil {
		t.Fatal(err)
	}

	if refs, _ := alloc.ReferenceCount(addr, true); refs != 2 {
		t.Fatalf("expected 2 references; got %d", refs)
	}

	for i := 0; i < 2; i++ {
		if err := alloc.Release(addr, true); err != nil {
			t.Fatalf("[release %d] unexpected error: %v", i, err)
		}
	}

	if alloc.IsAllocated(addr, true) {
		t.Fatal("expected frame to be free")
	}

	if err := alloc.Release(addr, true); err != errNotAllocated {
		t.Fatalf("expected releasing a free frame to fail with errNotAllocated; got %v", err)
	}

	if err := alloc.AddReference(addr, true); err != errNotAllocated {
		t.Fatalf("expected errNotAllocated; got %v", err)
	}
}

func TestReleaseErrors(t *testing.T) {
	alloc := newTestAllocator(t, 6)

	specs := []struct {
		addr   uint32
		large  bool
		expErr interface{}
	}{
		{0, true, errReservedFrame},
		{mm.KernelImageFrame.Address(), true, errReservedFrame},
		{mm.KernelStackFrame.Address(), true, errReservedFrame},
		{mm.FinePoolFrame.Address(), true, errReservedFrame},
		{mm.FirstDynamicFrame.Address() + 4096, true, errMisaligned},
		{mm.FinePoolFrame.Address() + 12, false, errMisaligned},
		{mm.FirstDynamicFrame.Address(), false, errOutOfRange},
		{64 * mm.LargePageSize, true, errOutOfRange},
	}

	for specIndex, spec := range specs {
		if err := alloc.Release(spec.addr, spec.large); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if !alloc.IsReserved(mm.FinePoolFrame.Address(), true) {
		t.Error("expected the fine pool frame to be reserved")
	}
}

// TestFrameAccountingInvariant runs random sequences of allocations, shares
// and releases and checks that the allocator's counts always match a shadow
// model and never go negative.
func TestFrameAccountingInvariant(t *testing.T) {
	alloc := newTestAllocator(t, 12)
	rng := rand.New(rand.NewSource(42))
	shadow := map[uint32]int{}

	for step := 0; step < 5000; step++ {
		switch rng.Intn(3) {
		case 0:
			large := rng.Intn(2) == 0
			var (
				addr uint32
				err  = errOutOfMemory
			)
			if large {
				addr, err = alloc.AllocLarge()
			} else {
				addr, err = alloc.AllocFine()
			}
			if err == nil {
				if shadow[addr] != 0 {
					t.Fatalf("[step %d] allocator returned busy frame 0x%x", step, addr)
				}
				shadow[addr] = 1
			}
		case 1, 2:
			addr, ok := pick(rng, shadow)
			if !ok {
				continue
			}
			large := !isFine(addr)
			if rng.Intn(2) == 0 {
				if err := alloc.AddReference(addr, large); err != nil {
					t.Fatalf("[step %d] AddReference: %v", step, err)
				}
				shadow[addr]++
			} else {
				if err := alloc.Release(addr, large); err != nil {
					t.Fatalf("[step %d] Release: %v", step, err)
				}
				if shadow[addr]--; shadow[addr] == 0 {
					delete(shadow, addr)
				}
			}
		}

		if step%250 == 0 {
			for addr, exp := range shadow {
				if got, _ := alloc.ReferenceCount(addr, !isFine(addr)); int(got) != exp {
					t.Fatalf("[step %d] frame 0x%x: expected %d refs; got %d", step, addr, exp, got)
				}
			}
		}
	}
}

func isFine(addr uint32) bool {
	_, ok := mm.FineFrameFromAddress(addr)
	return ok
}

func pick(rng *rand.Rand, shadow map[uint32]int) (uint32, bool) {
	if len(shadow) == 0 {
		return 0, false
	}
	n := rng.Intn(len(shadow))
	for addr := range shadow {
		if n == 0 {
			return addr, true
		}
		n--
	}
	return 0, false
}
