package asm

import "encoding/binary"

const (
	elfHeaderSize  = 52
	progHeaderSize = 32

	ptLoad = 1
	pfX    = 1
	pfW    = 2
	pfR    = 4
)

// Segment is a loadable segment of an executable image.
type Segment struct {
	Vaddr uint32
	Data  []byte

	// Memsz is the in-memory size; it defaults to len(Data).
	Memsz    uint32
	Align    uint32
	Writable bool
}

// Image builds a little-endian ELF32 i386 executable with the given entry
// point and segments. The image has no section headers.
func Image(entry uint32, segments ...Segment) []byte {
	var (
		le      = binary.LittleEndian
		dataOff = uint32(elfHeaderSize + progHeaderSize*len(segments))
		img     = make([]byte, dataOff)
	)

	copy(img, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	le.PutUint16(img[16:], 2) // ET_EXEC
	le.PutUint16(img[18:], 3) // EM_386
	le.PutUint32(img[20:], 1)
	le.PutUint32(img[24:], entry)
	le.PutUint32(img[28:], elfHeaderSize)
	le.PutUint16(img[40:], elfHeaderSize)
	le.PutUint16(img[42:], progHeaderSize)
	le.PutUint16(img[44:], uint16(len(segments)))
	le.PutUint16(img[46:], 40)

	for i, seg := range segments {
		memsz := seg.Memsz
		if memsz < uint32(len(seg.Data)) {
			memsz = uint32(len(seg.Data))
		}
		flags := uint32(pfR | pfX)
		if seg.Writable {
			flags = pfR | pfW
		}

		ph := img[elfHeaderSize+progHeaderSize*i:]
		le.PutUint32(ph[0:], ptLoad)
		le.PutUint32(ph[4:], uint32(len(img)))
		le.PutUint32(ph[8:], seg.Vaddr)
		le.PutUint32(ph[12:], seg.Vaddr)
		le.PutUint32(ph[16:], uint32(len(seg.Data)))
		le.PutUint32(ph[20:], memsz)
		le.PutUint32(ph[24:], flags)
		le.PutUint32(ph[28:], seg.Align)

		img = append(img, seg.Data...)
	}
	return img
}
