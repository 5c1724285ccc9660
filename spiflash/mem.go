// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spiflash simulates an SPI NOR flash device. It implements
// the device capability the flash session engine drives, with real
// NOR behavior: erasing sets a whole sector to 0xff, programming can
// only clear bits and an erase takes time during which the device
// reports not ready. It backs tests and the image-building commands
// that need no hardware.
package spiflash

import (
	"errors"
	"fmt"
)

// Erase geometry of the simulated part.
const (
	SectorSize   = 4096
	BlockSectors = 8
	BlockSize    = SectorSize * BlockSectors
)

// Mem is an in-memory NOR flash. The zero value is not usable, create
// it with NewMem.
type Mem struct {
	// EraseLatency is how many Ready polls an erase stays in flight
	// for. Zero makes every erase complete instantly.
	EraseLatency int

	data       []byte
	eraseCount []int
	busy       int // Ready polls left until the current erase settles
	locked     bool

	// Operation counters, readable by tests and tools.
	SectorEraseOps int
	BlockEraseOps  int
	// BusyViolations counts erase commands issued while an earlier
	// erase was still in flight. A correct scheduler keeps this zero.
	BusyViolations int
}

// NewMem returns a locked flash of the given size, rounded up to a
// whole number of sectors. All bytes read as 0xff but no sector counts
// as erased yet: programming a sector that was never erased in this
// power cycle is an error, which is how tests catch erase scheduling
// bugs that real hardware would turn into silent corruption.
func NewMem(size int) *Mem {
	sectors := (size + SectorSize - 1) / SectorSize
	m := &Mem{
		EraseLatency: 2,
		data:         make([]byte, sectors*SectorSize),
		eraseCount:   make([]int, sectors),
		locked:       true,
	}
	for i := range m.data {
		m.data[i] = 0xff
	}
	return m
}

// Unlock clears the write protection. It waits for an in-flight erase
// the way the ROM routine does.
func (m *Mem) Unlock() error {
	m.busy = 0
	m.locked = false
	return nil
}

// Ready reports whether the device can accept the next command. Each
// poll of a busy device brings the in-flight erase one step closer to
// completion.
func (m *Mem) Ready() bool {
	if m.busy > 0 {
		m.busy--
		return false
	}
	return true
}

// EraseSector erases the sector containing addr.
func (m *Mem) EraseSector(addr uint32) {
	m.erase(addr, SectorSize)
	m.SectorEraseOps++
}

// EraseBlock erases the BlockSectors sectors starting at addr.
func (m *Mem) EraseBlock(addr uint32) {
	m.erase(addr, BlockSize)
	m.BlockEraseOps++
}

func (m *Mem) erase(addr, size uint32) {
	if m.busy > 0 {
		m.BusyViolations++
	}
	addr -= addr % SectorSize
	end := min(addr+size, uint32(len(m.data)))
	for i := addr; i < end; i++ {
		m.data[i] = 0xff
	}
	for s := addr / SectorSize; s*SectorSize < end; s++ {
		m.eraseCount[s]++
	}
	m.busy = m.EraseLatency
}

// Write programs p at addr. Like the ROM SPI write it drains an
// in-flight erase first. It fails when the device is locked, the range
// leaves the array or any covered sector was never erased.
func (m *Mem) Write(addr uint32, p []byte) error {
	m.busy = 0
	if m.locked {
		return errors.New("write protected")
	}
	if int64(addr)+int64(len(p)) > int64(len(m.data)) {
		return fmt.Errorf("write of %d bytes at %#x beyond end of flash", len(p), addr)
	}
	if len(p) == 0 {
		return nil
	}
	first := addr / SectorSize
	last := (addr + uint32(len(p)) - 1) / SectorSize
	for s := first; s <= last; s++ {
		if m.eraseCount[s] == 0 {
			return fmt.Errorf("write to sector %d which was never erased", s)
		}
	}
	for i, b := range p {
		// NOR programming can only clear bits.
		m.data[int(addr)+i] &= b
	}
	return nil
}

// Bytes returns the flash array. The caller must not keep the slice
// across further operations on m.
func (m *Mem) Bytes() []byte {
	return m.data
}

// Size returns the size of the flash array in bytes.
func (m *Mem) Size() int {
	return len(m.data)
}

// EraseCount returns how many times the given sector was erased.
func (m *Mem) EraseCount(sector int) int {
	return m.eraseCount[sector]
}
