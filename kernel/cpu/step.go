package cpu

import "encoding/binary"

// Exception vectors raised by Step.
const (
	VectorInvalidOpcode = uint8(6)
	VectorGPF           = uint8(13)
	VectorPageFault     = uint8(14)
	VectorSyscall       = uint8(0x80)
)

// Page-fault error code bits.
const (
	FaultPresent = uint32(1 << 0)
	FaultWrite   = uint32(1 << 1)
	FaultUser    = uint32(1 << 2)
)

// Exception describes a trap raised while executing an instruction.
type Exception struct {
	Vector uint8

	// ErrorCode is the code pushed by the CPU for exceptions that carry
	// one (e.g. the page-fault access bits).
	ErrorCode uint32
}

// Memory is the user-mode view of the address space that Step reads and
// writes through. Implementations return a page-fault Exception for
// accesses that cannot be translated and record the faulting address via
// the returned fault address.
type Memory interface {
	Load(addr uint32, buf []byte) (faultAddr uint32, exc *Exception)
	Store(addr uint32, data []byte) (faultAddr uint32, exc *Exception)
}

// Step executes the single user-mode instruction at ctx.EIP. The supported
// subset covers what the kernel places in user memory itself (the signal
// trampoline and the termination stub) plus a few instructions for
// straight-line programs:
//
//	90          nop
//	B8+r id     mov r32, imm32
//	89 /r       mov r/m32, r32 (register form only)
//	85 C0       test eax, eax
//	50+r/58+r   push r32 / pop r32
//	A1 id       mov eax, [moffs32]
//	A3 id       mov [moffs32], eax
//	74/75/EB cb jz / jnz / jmp rel8
//	C3          ret
//	CD 80       int 0x80
//
// Step returns nil when the instruction retired. Otherwise the returned
// Exception describes the trap; EIP points past the instruction for the
// syscall trap and at the faulting instruction for every other exception so
// the instruction can be restarted once the fault is resolved.
func Step(ctx *Context, mem Memory) *Exception {
	var (
		insn [6]byte
		exc  *Exception
	)

	if exc = fetch(ctx, mem, insn[:1]); exc != nil {
		return exc
	}

	op := insn[0]
	switch {
	case op == 0x90:
		ctx.EIP++
	case op >= 0xb8 && op <= 0xbf:
		if exc = fetch(ctx, mem, insn[:5]); exc != nil {
			return exc
		}
		*ctx.Reg(op - 0xb8) = binary.LittleEndian.Uint32(insn[1:])
		ctx.EIP += 5
	case op == 0x89:
		if exc = fetch(ctx, mem, insn[:2]); exc != nil {
			return exc
		}
		modrm := insn[1]
		if modrm>>6 != 3 {
			return &Exception{Vector: VectorInvalidOpcode}
		}
		*ctx.Reg(modrm & 7) = *ctx.Reg((modrm >> 3) & 7)
		ctx.EIP += 2
	case op == 0x85:
		if exc = fetch(ctx, mem, insn[:2]); exc != nil {
			return exc
		}
		if insn[1] != 0xc0 {
			return &Exception{Vector: VectorInvalidOpcode}
		}
		if ctx.EAX == 0 {
			ctx.EFlags |= FlagZero
		} else {
			ctx.EFlags &^= FlagZero
		}
		ctx.EIP += 2
	case op >= 0x50 && op <= 0x57:
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], *ctx.Reg(op - 0x50))
		if exc = store(mem, ctx.ESP-4, word[:]); exc != nil {
			return exc
		}
		ctx.ESP -= 4
		ctx.EIP++
	case op >= 0x58 && op <= 0x5f:
		var word [4]byte
		if exc = load(mem, ctx.ESP, word[:]); exc != nil {
			return exc
		}
		ctx.ESP += 4
		*ctx.Reg(op - 0x58) = binary.LittleEndian.Uint32(word[:])
		ctx.EIP++
	case op == 0xa1 || op == 0xa3:
		if exc = fetch(ctx, mem, insn[:5]); exc != nil {
			return exc
		}
		var (
			addr = binary.LittleEndian.Uint32(insn[1:])
			word [4]byte
		)
		if op == 0xa1 {
			if exc = load(mem, addr, word[:]); exc != nil {
				return exc
			}
			ctx.EAX = binary.LittleEndian.Uint32(word[:])
		} else {
			binary.LittleEndian.PutUint32(word[:], ctx.EAX)
			if exc = store(mem, addr, word[:]); exc != nil {
				return exc
			}
		}
		ctx.EIP += 5
	case op == 0x74 || op == 0x75 || op == 0xeb:
		if exc = fetch(ctx, mem, insn[:2]); exc != nil {
			return exc
		}
		taken := op == 0xeb ||
			(op == 0x74 && ctx.EFlags&FlagZero != 0) ||
			(op == 0x75 && ctx.EFlags&FlagZero == 0)
		ctx.EIP += 2
		if taken {
			ctx.EIP = uint32(int32(ctx.EIP) + int32(int8(insn[1])))
		}
	case op == 0xc3:
		var word [4]byte
		if exc = load(mem, ctx.ESP, word[:]); exc != nil {
			return exc
		}
		ctx.ESP += 4
		ctx.EIP = binary.LittleEndian.Uint32(word[:])
	case op == 0xcd:
		if exc = fetch(ctx, mem, insn[:2]); exc != nil {
			return exc
		}
		// Only the syscall gate is reachable from ring 3.
		if insn[1] != VectorSyscall {
			return &Exception{Vector: VectorGPF}
		}
		ctx.EIP += 2
		return &Exception{Vector: VectorSyscall}
	case op == 0xf4:
		// hlt is privileged
		return &Exception{Vector: VectorGPF}
	default:
		return &Exception{Vector: VectorInvalidOpcode}
	}

	return nil
}

func fetch(ctx *Context, mem Memory, buf []byte) *Exception {
	return load(mem, ctx.EIP, buf)
}

func load(mem Memory, addr uint32, buf []byte) *Exception {
	faultAddr, exc := mem.Load(addr, buf)
	if exc != nil && exc.Vector == VectorPageFault {
		writeCR2(faultAddr)
	}
	return exc
}

func store(mem Memory, addr uint32, data []byte) *Exception {
	faultAddr, exc := mem.Store(addr, data)
	if exc != nil && exc.Vector == VectorPageFault {
		writeCR2(faultAddr)
	}
	return exc
}
