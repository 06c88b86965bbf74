// Package asm assembles the small subset of i386 instructions understood by
// the kernel's instruction stepper and wraps the result in an ELF32
// executable image.
package asm

import (
	"encoding/binary"
	"fmt"
)

// Reg is a general purpose register in x86 encoding order.
type Reg uint8

// Registers.
const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

type fixup struct {
	at    int
	label string
}

// Assembler accumulates machine code. Jumps may refer to labels defined
// later; they are resolved by Bytes.
type Assembler struct {
	code   []byte
	labels map[string]int
	fixups []fixup
}

// New returns an empty assembler.
func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Emit appends raw bytes.
func (a *Assembler) Emit(b ...byte) *Assembler {
	a.code = append(a.code, b...)
	return a
}

// Label defines name at the current position.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.code)
	return a
}

// Nop emits nop.
func (a *Assembler) Nop() *Assembler { return a.Emit(0x90) }

// Hlt emits hlt, which faults when executed in user mode.
func (a *Assembler) Hlt() *Assembler { return a.Emit(0xf4) }

// Ret emits ret.
func (a *Assembler) Ret() *Assembler { return a.Emit(0xc3) }

// Int80 emits int 0x80.
func (a *Assembler) Int80() *Assembler { return a.Emit(0xcd, 0x80) }

// TestEAX emits test eax, eax.
func (a *Assembler) TestEAX() *Assembler { return a.Emit(0x85, 0xc0) }

// Push emits push r32.
func (a *Assembler) Push(r Reg) *Assembler { return a.Emit(0x50 + byte(r)) }

// Pop emits pop r32.
func (a *Assembler) Pop(r Reg) *Assembler { return a.Emit(0x58 + byte(r)) }

// Mov emits mov r32, imm32.
func (a *Assembler) Mov(r Reg, imm uint32) *Assembler {
	return a.Emit(0xb8 + byte(r)).word(imm)
}

// MovReg emits mov dst, src.
func (a *Assembler) MovReg(dst, src Reg) *Assembler {
	return a.Emit(0x89, 0xc0|byte(src)<<3|byte(dst))
}

// Load emits mov eax, [addr].
func (a *Assembler) Load(addr uint32) *Assembler {
	return a.Emit(0xa1).word(addr)
}

// Store emits mov [addr], eax.
func (a *Assembler) Store(addr uint32) *Assembler {
	return a.Emit(0xa3).word(addr)
}

// Syscall loads the syscall number and up to three arguments into EAX,
// EBX, ECX and EDX and traps into the kernel.
func (a *Assembler) Syscall(num uint32, args ...uint32) *Assembler {
	a.Mov(EAX, num)
	for i, arg := range args {
		a.Mov([]Reg{EBX, ECX, EDX}[i], arg)
	}
	return a.Int80()
}

// Jmp emits jmp rel8 to label.
func (a *Assembler) Jmp(label string) *Assembler { return a.jump(0xeb, label) }

// Jz emits jz rel8 to label.
func (a *Assembler) Jz(label string) *Assembler { return a.jump(0x74, label) }

// Jnz emits jnz rel8 to label.
func (a *Assembler) Jnz(label string) *Assembler { return a.jump(0x75, label) }

func (a *Assembler) jump(op byte, label string) *Assembler {
	a.Emit(op, 0)
	a.fixups = append(a.fixups, fixup{at: len(a.code) - 1, label: label})
	return a
}

func (a *Assembler) word(v uint32) *Assembler {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return a.Emit(buf[:]...)
}

// Bytes resolves jump targets and returns the machine code.
func (a *Assembler) Bytes() ([]byte, error) {
	out := append([]byte(nil), a.code...)
	for _, fix := range a.fixups {
		target, ok := a.labels[fix.label]
		if !ok {
			return nil, fmt.Errorf("asm: undefined label %q", fix.label)
		}

		rel := target - (fix.at + 1)
		if rel < -128 || rel > 127 {
			return nil, fmt.Errorf("asm: jump to %q out of range (%d)", fix.label, rel)
		}
		out[fix.at] = byte(int8(rel))
	}
	return out, nil
}

// MustBytes is like Bytes but panics on error.
func (a *Assembler) MustBytes() []byte {
	code, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return code
}
