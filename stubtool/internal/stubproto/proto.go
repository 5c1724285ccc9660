// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stubproto speaks the serial protocol of the esptool flasher
// stub: SLIP framed command/response packets. Client is the host side,
// Server is the stub side dispatching onto a flash session. Both work
// over any io.ReadWriter, a serial port as well as a test pipe.
package stubproto

import "encoding/binary"

// Command opcodes.
const (
	CmdFlashBegin     byte = 0x02
	CmdFlashData      byte = 0x03
	CmdFlashEnd       byte = 0x04
	CmdSync           byte = 0x08
	CmdFlashDeflBegin byte = 0x10
	CmdFlashDeflData  byte = 0x11
	CmdFlashDeflEnd   byte = 0x12
	CmdSpiFlashMD5    byte = 0x13
)

// Status codes returned by the stub in the trailing status bytes of a
// response.
const (
	StatusOK              byte = 0x00
	StatusBadDataLen      byte = 0xc0
	StatusBadDataChecksum byte = 0xc1
	StatusBadBlocksize    byte = 0xc2
	StatusInvalidCommand  byte = 0xc3
	StatusFailedSPIOp     byte = 0xc4
	StatusFailedSPIUnlock byte = 0xc5
	StatusNotInFlashMode  byte = 0xc6
	StatusInflateError    byte = 0xc7
	StatusNotEnoughData   byte = 0xc8
	StatusTooMuchData     byte = 0xc9
)

func statusText(code byte) string {
	switch code {
	case StatusOK:
		return "ok"
	case StatusBadDataLen:
		return "bad data length"
	case StatusBadDataChecksum:
		return "bad data checksum"
	case StatusBadBlocksize:
		return "bad block size"
	case StatusInvalidCommand:
		return "invalid command"
	case StatusFailedSPIOp:
		return "SPI operation failed"
	case StatusFailedSPIUnlock:
		return "SPI unlock failed"
	case StatusNotInFlashMode:
		return "not in flash mode"
	case StatusInflateError:
		return "inflate error"
	case StatusNotEnoughData:
		return "not enough data"
	case StatusTooMuchData:
		return "too much data"
	}
	return "unknown status"
}

func cmdName(op byte) string {
	switch op {
	case CmdFlashBegin:
		return "FlashBegin"
	case CmdFlashData:
		return "FlashData"
	case CmdFlashEnd:
		return "FlashEnd"
	case CmdSync:
		return "Sync"
	case CmdFlashDeflBegin:
		return "FlashDeflBegin"
	case CmdFlashDeflData:
		return "FlashDeflData"
	case CmdFlashDeflEnd:
		return "FlashDeflEnd"
	case CmdSpiFlashMD5:
		return "SpiFlashMD5"
	}
	return "unknown command"
}

// Error is a failure status reported by the remote side.
type Error struct {
	Op   string
	Code byte
}

func (e *Error) Error() string {
	return "stubproto: " + e.Op + ": " + statusText(e.Code)
}

// Checksum is the checksum carried by the data commands: XOR over the
// payload bytes, seeded with 0xef.
func Checksum(p []byte) byte {
	c := byte(0xef)
	for _, b := range p {
		c ^= b
	}
	return c
}

const (
	dirRequest  byte = 0x00
	dirResponse byte = 0x01

	hdrSize = 8 // direction, opcode, length, checksum/value
)

func appendRequest(buf []byte, op byte, csum uint32, body []byte) []byte {
	le := binary.LittleEndian
	buf = append(buf, dirRequest, op)
	buf = le.AppendUint16(buf, uint16(len(body)))
	buf = le.AppendUint32(buf, csum)
	return append(buf, body...)
}

func appendResponse(buf []byte, op byte, value uint32, data []byte, code byte) []byte {
	le := binary.LittleEndian
	fail := byte(0)
	if code != StatusOK {
		fail = 1
	}
	buf = append(buf, dirResponse, op)
	buf = le.AppendUint16(buf, uint16(len(data)+2))
	buf = le.AppendUint32(buf, value)
	buf = append(buf, data...)
	return append(buf, fail, code)
}
