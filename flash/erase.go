// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

// eraseNext issues the next erase unit if the device is ready for it.
// It never waits for the device: when an earlier operation is still in
// flight it returns immediately and the caller invokes it again later.
// This is what lets DeflatedData run an erase in the background while
// the decoder burns CPU time.
//
// A block erase is used only when at least BlockSectors sectors remain
// and the erase cursor sits on a block boundary; erasing a partially
// covered or unaligned block would wipe sectors outside the image.
func (s *Session) eraseNext() {
	if s.eraseRemain == 0 {
		return // nothing left to erase
	}
	if !s.dev.Ready() {
		return
	}

	sectors := 1
	block := false
	if s.eraseRemain >= s.BlockSectors && s.eraseSector%s.BlockSectors == 0 {
		sectors = s.BlockSectors
		block = true
	}

	addr := uint32(s.eraseSector) * s.SectorSize
	if block {
		s.dev.EraseBlock(addr)
	} else {
		s.dev.EraseSector(addr)
	}
	s.eraseRemain -= sectors
	s.eraseSector += sectors
}
