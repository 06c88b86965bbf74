package kernel

import "testing"

func TestMemset(t *testing.T) {
	for _, size := range []int{0, 1, 7, 4096, 4097} {
		buf := make([]byte, size)
		Memset(buf, 0xfe)
		for i, b := range buf {
			if b != 0xfe {
				t.Fatalf("[size %d] expected byte at index %d to be 0xfe; got 0x%x", size, i, b)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	dst := make([]byte, 3)

	if exp, got := 3, Memcopy(dst, src); got != exp {
		t.Fatalf("expected Memcopy to copy %d bytes; got %d", exp, got)
	}

	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at index %d", i)
		}
	}

	if got := Memcopy(nil, src); got != 0 {
		t.Fatalf("expected Memcopy into an empty slice to copy nothing; got %d", got)
	}
}
