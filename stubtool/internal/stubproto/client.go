// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stubproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

func wrapErr(op string, err *error) {
	var e *Error
	if *err != nil && !errors.As(*err, &e) {
		*err = fmt.Errorf("stubproto: %s: %w", op, *err)
	}
}

// Client drives a remote flasher stub over rw. Methods issue one
// command each and wait for the matching response; stale responses
// (earlier sync retries and the like) are skipped.
type Client struct {
	rw  io.ReadWriter
	fr  *frameReader
	seq uint32
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, fr: newFrameReader(rw)}
}

// Sync sends the synchronization pattern and waits for a response.
// Callers usually retry this a few times while the far end settles on
// the baud rate.
func (c *Client) Sync() (err error) {
	defer wrapErr("Sync", &err)
	body := make([]byte, 36)
	copy(body, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(body); i++ {
		body[i] = 0x55
	}
	_, _, err = c.command(CmdSync, 0, body)
	return
}

// FlashBegin opens a flash session for totalSize bytes written at
// offset, to be delivered in numPackets packets of up to packetSize
// bytes each.
func (c *Client) FlashBegin(totalSize, numPackets, packetSize, offset uint32) (err error) {
	defer wrapErr("FlashBegin", &err)
	c.seq = 0
	_, _, err = c.command(CmdFlashBegin, 0, beginBody(totalSize, numPackets, packetSize, offset))
	return
}

// FlashData delivers the next raw data packet.
func (c *Client) FlashData(p []byte) (err error) {
	defer wrapErr("FlashData", &err)
	return c.data(CmdFlashData, p)
}

// FlashEnd closes the session, leaving the target in the stub. It
// returns the sticky session error accumulated by the far end, if any.
func (c *Client) FlashEnd() (err error) {
	defer wrapErr("FlashEnd", &err)
	return c.end(CmdFlashEnd)
}

// FlashDeflBegin opens a flash session for a zlib stream inflating to
// uncompressedSize bytes at offset, delivered in numPackets packets of
// up to packetSize compressed bytes each.
func (c *Client) FlashDeflBegin(uncompressedSize, numPackets, packetSize, offset uint32) (err error) {
	defer wrapErr("FlashDeflBegin", &err)
	c.seq = 0
	_, _, err = c.command(CmdFlashDeflBegin, 0, beginBody(uncompressedSize, numPackets, packetSize, offset))
	return
}

// FlashDeflData delivers the next compressed data packet.
func (c *Client) FlashDeflData(p []byte) (err error) {
	defer wrapErr("FlashDeflData", &err)
	return c.data(CmdFlashDeflData, p)
}

// FlashDeflEnd closes a deflated session.
func (c *Client) FlashDeflEnd() (err error) {
	defer wrapErr("FlashDeflEnd", &err)
	return c.end(CmdFlashDeflEnd)
}

// FlashMD5 returns the MD5 digest of size flash bytes starting at
// addr, computed by the far end.
func (c *Client) FlashMD5(addr, size uint32) (sum []byte, err error) {
	defer wrapErr("FlashMD5", &err)
	body := make([]byte, 16)
	le := binary.LittleEndian
	le.PutUint32(body[0:], addr)
	le.PutUint32(body[4:], size)
	_, sum, err = c.command(CmdSpiFlashMD5, 0, body)
	if err == nil && len(sum) != 16 {
		err = fmt.Errorf("bad digest length %d", len(sum))
	}
	return
}

func beginBody(size, numPackets, packetSize, offset uint32) []byte {
	body := make([]byte, 16)
	le := binary.LittleEndian
	le.PutUint32(body[0:], size)
	le.PutUint32(body[4:], numPackets)
	le.PutUint32(body[8:], packetSize)
	le.PutUint32(body[12:], offset)
	return body
}

func (c *Client) data(op byte, p []byte) error {
	body := make([]byte, 16+len(p))
	le := binary.LittleEndian
	le.PutUint32(body[0:], uint32(len(p)))
	le.PutUint32(body[4:], c.seq)
	copy(body[16:], p)
	c.seq++
	_, _, err := c.command(op, uint32(Checksum(p)), body)
	return err
}

func (c *Client) end(op byte) error {
	// Flag 1: stay in the stub instead of rebooting into the image.
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, 1)
	_, _, err := c.command(op, 0, body)
	return err
}

// command sends one request and returns the value word and payload of
// the matching response. A response with a failure status becomes an
// *Error.
func (c *Client) command(op byte, csum uint32, body []byte) (value uint32, data []byte, err error) {
	if err = writeFrame(c.rw, appendRequest(nil, op, csum, body)); err != nil {
		return
	}
	for {
		var f []byte
		f, err = c.fr.readFrame()
		if err != nil {
			return
		}
		if len(f) < hdrSize+2 || f[0] != dirResponse || f[1] != op {
			continue // noise or a stale response
		}
		n := int(binary.LittleEndian.Uint16(f[2:4]))
		value = binary.LittleEndian.Uint32(f[4:8])
		data = f[8:]
		if n != len(data) {
			continue
		}
		fail, code := data[len(data)-2], data[len(data)-1]
		data = data[:len(data)-2]
		if fail != 0 {
			err = &Error{Op: cmdName(op), Code: code}
		}
		return
	}
}
