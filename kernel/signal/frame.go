package signal

import (
	"encoding/binary"

	"gopherix/kernel/cpu"
)

// FrameSize is the size in bytes of the frame pushed onto the user stack
// when a handler is dispatched.
const FrameSize = 14 * 4

// Frame is the state saved on the user stack while a handler runs. From the
// lowest address upwards it holds the return address, the handler argument,
// the blocked set to restore, the general registers and EFLAGS.
type Frame struct {
	ReturnAddr uint32
	Signum     uint32
	OldMask    Set
	Regs       cpu.Context
}

// frameRegs lists the saved registers in stack order.
func frameRegs(ctx *cpu.Context) []*uint32 {
	return []*uint32{
		&ctx.EAX, &ctx.EBX, &ctx.ECX, &ctx.EDX, &ctx.ESI, &ctx.EDI,
		&ctx.EBP, &ctx.ESP, &ctx.EIP, &ctx.OrigEAX, &ctx.EFlags,
	}
}

// Encode serializes the frame in its in-memory layout.
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(buf[0:], f.ReturnAddr)
	binary.LittleEndian.PutUint32(buf[4:], f.Signum)
	binary.LittleEndian.PutUint32(buf[8:], uint32(f.OldMask))

	regs := f.Regs
	for i, reg := range frameRegs(&regs) {
		binary.LittleEndian.PutUint32(buf[12+4*i:], *reg)
	}
	return buf
}

// DecodeFrame parses a frame previously produced by Encode. Segment
// selectors are not part of the frame and are left zero.
func DecodeFrame(buf []byte) Frame {
	f := Frame{
		ReturnAddr: binary.LittleEndian.Uint32(buf[0:]),
		Signum:     binary.LittleEndian.Uint32(buf[4:]),
		OldMask:    Set(binary.LittleEndian.Uint32(buf[8:])),
	}
	for i, reg := range frameRegs(&f.Regs) {
		*reg = binary.LittleEndian.Uint32(buf[12+4*i:])
	}
	return f
}
