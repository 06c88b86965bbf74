package vmm

import (
	"encoding/binary"

	"gopherix/kernel"
)

// CopyIn reads len(buf) bytes from the virtual address virt. When user is
// set the access is checked with user privilege, which is what the kernel
// does for pointers supplied by a user program.
func (m *Mapper) CopyIn(virt uint32, buf []byte, user bool) *kernel.Error {
	return m.copyVirt(virt, buf, false, user)
}

// CopyOut writes data to the virtual address virt. Protection faults are
// offered to the registered fault handler (which resolves copy-on-write
// pages) before the access fails.
func (m *Mapper) CopyOut(virt uint32, data []byte, user bool) *kernel.Error {
	return m.copyVirt(virt, data, true, user)
}

// ReadWord reads a little-endian word from user memory.
func (m *Mapper) ReadWord(virt uint32) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := m.CopyIn(virt, buf[:], true); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteWord writes a little-endian word to user memory.
func (m *Mapper) WriteWord(virt, value uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return m.CopyOut(virt, buf[:], true)
}

// ReadString reads a NUL-terminated string of at most maxLen bytes from user
// memory.
func (m *Mapper) ReadString(virt uint32, maxLen int) (string, *kernel.Error) {
	var (
		out []byte
		b   [1]byte
	)
	for len(out) < maxLen {
		if err := m.CopyIn(virt+uint32(len(out)), b[:], true); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", errBadAddress
}

func (m *Mapper) copyVirt(virt uint32, buf []byte, write, user bool) *kernel.Error {
	for done := uint32(0); done < uint32(len(buf)); {
		addr := virt + done
		if addr < virt {
			return errBadAddress
		}

		phys, err := m.translateResolving(addr, write, user)
		if err != nil {
			return err
		}

		n := chunkLen(addr, uint32(len(buf))-done)
		if write {
			err = m.mem.Write(phys, buf[done:done+n])
		} else {
			err = m.mem.Read(phys, buf[done:done+n])
		}
		if err != nil {
			return err
		}
		done += n
	}
	return nil
}

// translateResolving translates addr, giving the fault handler one chance
// to fix up protection faults on present pages.
func (m *Mapper) translateResolving(addr uint32, write, user bool) (uint32, *kernel.Error) {
	phys, fault := m.Translate(addr, write, user)
	if fault == nil {
		return phys, nil
	}

	if fault.Present() && m.faultHandler != nil && m.faultHandler(fault) {
		if phys, fault = m.Translate(addr, write, user); fault == nil {
			return phys, nil
		}
	}
	return 0, errBadAddress
}
