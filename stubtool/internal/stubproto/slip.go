// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stubproto

import (
	"bufio"
	"fmt"
	"io"
)

// SLIP framing (RFC 1055), as used on the stub's serial link.
const (
	slipEnd    = 0xc0
	slipEsc    = 0xdb
	slipEscEnd = 0xdc
	slipEscEsc = 0xdd
)

// writeFrame writes p as one SLIP frame in a single Write call.
func writeFrame(w io.Writer, p []byte) error {
	buf := make([]byte, 0, len(p)+8)
	buf = append(buf, slipEnd)
	for _, b := range p {
		switch b {
		case slipEnd:
			buf = append(buf, slipEsc, slipEscEnd)
		case slipEsc:
			buf = append(buf, slipEsc, slipEscEsc)
		default:
			buf = append(buf, b)
		}
	}
	buf = append(buf, slipEnd)
	_, err := w.Write(buf)
	return err
}

type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{bufio.NewReader(r)}
}

// readFrame returns the payload of the next non-empty SLIP frame.
// Noise between frames and empty frames are skipped.
func (fr *frameReader) readFrame() ([]byte, error) {
	var p []byte
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case slipEnd:
			if len(p) > 0 {
				return p, nil
			}
		case slipEsc:
			b, err = fr.r.ReadByte()
			if err != nil {
				return nil, err
			}
			switch b {
			case slipEscEnd:
				p = append(p, slipEnd)
			case slipEscEsc:
				p = append(p, slipEsc)
			default:
				return nil, fmt.Errorf("slip: bad escape sequence 0xdb 0x%02x", b)
			}
		default:
			p = append(p, b)
		}
	}
}
