// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stubproto

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"io"

	"github.com/espkit/stubtool/flash"
	"github.com/espkit/stubtool/spiflash"
)

// Server emulates the flash side of a stub: it answers the commands a
// Client sends, programming a simulated flash array. One command is
// served at a time, in arrival order.
type Server struct {
	rw  io.ReadWriter
	fr  *frameReader
	mem *spiflash.Mem
	ses *flash.Session

	deflated bool // current session carries compressed data

	// OnFlashEnd, if set, is called with the session outcome every
	// time a FLASH_END or FLASH_DEFL_END command is served.
	OnFlashEnd func(error)
}

func NewServer(rw io.ReadWriter, mem *spiflash.Mem) *Server {
	return &Server{
		rw:  rw,
		fr:  newFrameReader(rw),
		mem: mem,
		ses: flash.NewSession(mem),
	}
}

// Serve reads and answers commands until rw is exhausted or a
// transport error occurs. A clean EOF returns nil.
func (s *Server) Serve() error {
	for {
		f, err := s.fr.readFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(f) < hdrSize || f[0] != dirRequest {
			continue
		}
		op := f[1]
		n := int(binary.LittleEndian.Uint16(f[2:4]))
		csum := binary.LittleEndian.Uint32(f[4:8])
		body := f[hdrSize:]
		if n != len(body) {
			if err := s.respond(op, 0, nil, StatusBadDataLen); err != nil {
				return err
			}
			continue
		}
		if err := s.serve(op, csum, body); err != nil {
			return err
		}
	}
}

func (s *Server) serve(op byte, csum uint32, body []byte) error {
	switch op {
	case CmdSync:
		return s.respond(op, 0, nil, StatusOK)
	case CmdFlashBegin, CmdFlashDeflBegin:
		if len(body) < 16 {
			return s.respond(op, 0, nil, StatusBadDataLen)
		}
		le := binary.LittleEndian
		size := le.Uint32(body[0:])
		numPackets := le.Uint32(body[4:])
		packetSize := le.Uint32(body[8:])
		offset := le.Uint32(body[12:])
		var err error
		if op == CmdFlashBegin {
			s.deflated = false
			err = s.ses.Begin(size, offset)
		} else {
			// The true compressed length is not on the wire; an
			// upper bound is enough, the stream carries its own end.
			s.deflated = true
			err = s.ses.BeginDeflated(size, numPackets*packetSize, offset)
		}
		return s.respond(op, 0, nil, errCode(err))
	case CmdFlashData, CmdFlashDeflData:
		if len(body) < 16 {
			return s.respond(op, 0, nil, StatusBadDataLen)
		}
		dlen := binary.LittleEndian.Uint32(body[0:])
		if uint32(len(body)-16) < dlen {
			return s.respond(op, 0, nil, StatusBadDataLen)
		}
		data := body[16 : 16+dlen]
		if !s.ses.InProgress() {
			return s.respond(op, 0, nil, StatusNotInFlashMode)
		}
		if (op == CmdFlashDeflData) != s.deflated {
			return s.respond(op, 0, nil, StatusInvalidCommand)
		}
		if uint32(Checksum(data)) != csum {
			return s.respond(op, 0, nil, StatusBadDataChecksum)
		}
		// Data errors are sticky and reported by FLASH_END, the data
		// command itself always succeeds.
		if s.deflated {
			s.ses.DeflatedData(data)
		} else {
			s.ses.Data(data)
		}
		return s.respond(op, 0, nil, StatusOK)
	case CmdFlashEnd, CmdFlashDeflEnd:
		err := s.ses.End()
		if s.OnFlashEnd != nil {
			s.OnFlashEnd(err)
		}
		return s.respond(op, 0, nil, errCode(err))
	case CmdSpiFlashMD5:
		if len(body) < 16 {
			return s.respond(op, 0, nil, StatusBadDataLen)
		}
		le := binary.LittleEndian
		addr, size := le.Uint32(body[0:]), le.Uint32(body[4:])
		if int64(addr)+int64(size) > int64(s.mem.Size()) {
			return s.respond(op, 0, nil, StatusBadDataLen)
		}
		sum := md5.Sum(s.mem.Bytes()[addr : addr+size])
		return s.respond(op, 0, sum[:], StatusOK)
	}
	return s.respond(op, 0, nil, StatusInvalidCommand)
}

func (s *Server) respond(op byte, value uint32, data []byte, code byte) error {
	return writeFrame(s.rw, appendResponse(nil, op, value, data, code))
}

// errCode maps a session error to the status byte it travels as.
func errCode(err error) byte {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, flash.ErrUnlock):
		return StatusFailedSPIUnlock
	case errors.Is(err, flash.ErrWrite):
		return StatusFailedSPIOp
	case errors.Is(err, flash.ErrInflate):
		return StatusInflateError
	case errors.Is(err, flash.ErrNotEnoughData):
		return StatusNotEnoughData
	case errors.Is(err, flash.ErrTooMuchData):
		return StatusTooMuchData
	case errors.Is(err, flash.ErrNotInFlashMode):
		return StatusNotInFlashMode
	}
	return StatusFailedSPIOp
}
