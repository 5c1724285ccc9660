// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash implements the flash programming engine of an
// esptool-style flasher stub: one session at a time receives a
// (possibly zlib-compressed) image in arbitrarily sized chunks,
// erases exactly the sectors the image covers and writes the bytes
// to an SPI flash device.
//
// Mid-stream failures never abort a transfer. They are recorded in
// the session's sticky error and surface from Err or End, so the
// chunk-delivery layer can keep its acknowledge loop simple and a
// failed transfer still reaches a well defined end state.
package flash

import (
	"fmt"

	"github.com/espkit/stubtool/inflate"
)

// Device is the SPI flash capability a session drives. EraseSector and
// EraseBlock only issue the erase command; its completion is observed
// through Ready. Write and Unlock wait for any in-flight operation on
// their own, the way the ROM SPI routines do.
type Device interface {
	Unlock() error
	Write(addr uint32, p []byte) error
	EraseSector(addr uint32)
	EraseBlock(addr uint32)
	Ready() bool
}

// Default erase geometry of the supported parts.
const (
	DefaultSectorSize   = 4096
	DefaultBlockSectors = 8
)

// outBufSize is the capacity of the decompressed-data staging buffer.
// It is never grown; the deflate path flushes it to flash whenever it
// fills up.
const outBufSize = 32768

// A Session is the programming state machine for one image transfer.
// Create it with NewSession, open it with Begin or BeginDeflated, feed
// it with Data or DeflatedData and close it with End. Only one
// transfer is active at a time; a new Begin fully reinitializes the
// session.
type Session struct {
	// Erase geometry, may be changed before Begin.
	SectorSize   uint32 // smallest erasable unit
	BlockSectors int    // sectors covered by a block erase

	dev Device

	active      bool   // set by Begin, cleared by End
	writeAddr   uint32 // flash offset of the next write
	eraseSector int    // index of the next sector to erase
	remaining   uint32 // output bytes still to be written
	eraseRemain int    // sectors still to be erased
	err         error  // sticky, cleared by Begin

	// Deflate mode state.
	dec        *inflate.Decoder
	remainingZ uint32 // compressed bytes not yet consumed
	buf        []byte // decompressed bytes not yet flushed
	fill       int    // 0 <= fill <= len(buf)
}

func NewSession(dev Device) *Session {
	return &Session{
		SectorSize:   DefaultSectorSize,
		BlockSectors: DefaultBlockSectors,
		dev:          dev,
	}
}

// Begin opens a session for totalSize bytes of raw image data written
// from offset on. It resets all bookkeeping, clears the sticky error
// and unlocks the device write protection. An unlock failure is
// reported as ErrUnlock but does not close the session or set the
// sticky error: the caller decides whether to carry on.
func (s *Session) Begin(totalSize, offset uint32) error {
	s.active = true
	s.writeAddr = offset
	s.eraseSector = int(offset / s.SectorSize)
	s.remaining = totalSize
	s.eraseRemain = int((totalSize + s.SectorSize - 1) / s.SectorSize)
	s.err = nil
	if err := s.dev.Unlock(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnlock, err)
	}
	return nil
}

// BeginDeflated opens a session for a zlib stream of compressedSize
// bytes that inflates to uncompressedSize bytes written from offset
// on. The size and erase bookkeeping uses the uncompressed size.
func (s *Session) BeginDeflated(uncompressedSize, compressedSize, offset uint32) error {
	err := s.Begin(uncompressedSize, offset)
	if s.dec != nil {
		s.dec.Close()
	}
	s.dec = inflate.NewDecoder()
	s.remainingZ = compressedSize
	if s.buf == nil {
		s.buf = make([]byte, outBufSize)
	}
	s.fill = 0
	return err
}

// Data writes one chunk of raw image data at the current write offset,
// erasing as far ahead as the chunk reaches. A device write failure is
// recorded in the sticky error but the cursors still advance, so the
// byte accounting stays consistent and the session reaches End
// normally.
func (s *Session) Data(p []byte) {
	// The sector just past the end of this chunk. Everything below it
	// must be erased before the write starts.
	last := int((s.writeAddr + uint32(len(p)) + s.SectorSize - 1) / s.SectorSize)
	for s.eraseSector < last && s.eraseRemain > 0 {
		s.eraseNext()
	}

	if err := s.dev.Write(s.writeAddr, p); err != nil {
		if s.err == nil {
			s.err = fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	s.writeAddr += uint32(len(p))
	s.remaining -= uint32(len(p))
}

// End closes the session. It fails with ErrNotInFlashMode when no
// session is open and with ErrNotEnoughData when the declared image
// size has not been reached yet. In every case but the first the
// session is closed afterwards; there is no way to resume a transfer.
// On a complete transfer End returns the sticky error accumulated by
// the data path, nil if nothing went wrong.
func (s *Session) End() error {
	if !s.active {
		return ErrNotInFlashMode
	}
	s.active = false
	if s.dec != nil {
		s.dec.Close()
		s.dec = nil
	}
	if s.remaining > 0 {
		return ErrNotEnoughData
	}
	return s.err
}

// InProgress reports whether a session is open.
func (s *Session) InProgress() bool {
	return s.active
}

// Err returns the sticky error recorded by the data path since the
// last Begin, nil if there is none.
func (s *Session) Err() error {
	return s.err
}
