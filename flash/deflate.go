// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"fmt"

	"github.com/espkit/stubtool/inflate"
)

// DeflatedData feeds one chunk of the compressed stream through the
// decoder and writes the decompressed bytes out via the same path as
// Data. The staging buffer is flushed whenever it fills up or the
// stream ends, so a chunk may trigger zero or many flash writes.
//
// Stream problems detected here are deliberately deferred: they are
// recorded in the sticky error and surface from Err or End, not from
// this call. That way a short final chunk needs no special casing in
// the chunk-delivery layer.
func (s *Session) DeflatedData(p []byte) {
	st := inflate.NeedInput
	// The decoder buffers input internally, so a chunk can be fully
	// consumed while decompressed bytes still sit inside it. A More
	// status keeps the loop draining after the input ran out; only
	// NeedInput means nothing is pending.
	for (len(p) > 0 || st == inflate.More) && s.remaining > 0 && st != inflate.Done && st != inflate.Failed {
		// Whether more compressed input follows this chunk. The
		// decoder must not treat the end of the chunk as the end of
		// the stream.
		more := s.remainingZ > uint32(len(p))

		// Start an opportunistic erase: decompressing takes time, so
		// the erase latency might as well pass in the background.
		s.eraseNext()

		var consumed, produced int
		consumed, produced, st = s.dec.Next(p, s.buf[s.fill:], !more)
		s.remainingZ -= uint32(consumed)
		p = p[consumed:]
		s.fill += produced

		if st == inflate.Done || st == inflate.Failed || s.fill == len(s.buf) {
			// Staging buffer full, or the stream ended: flush what we
			// have, even after a decode error.
			s.Data(s.buf[:s.fill])
			s.fill = 0
		}
	}

	if st == inflate.More && s.remaining == 0 {
		// The staging buffer filled on the last declared byte. One
		// more drain tells a naturally ended stream apart from one
		// that carries on past the declared size: only a clean end
		// with no further output counts as done.
		var consumed, produced int
		consumed, produced, st = s.dec.Next(p, s.buf[s.fill:], s.remainingZ <= uint32(len(p)))
		s.remainingZ -= uint32(consumed)
		if produced > 0 {
			st = inflate.More
		}
	}

	// Deferred error resolution, reevaluated on every chunk.
	if st == inflate.Failed {
		s.err = fmt.Errorf("%w: %v", ErrInflate, s.dec.Err())
	}
	if st == inflate.Done && s.remaining > 0 {
		// The stream ended early: the declared uncompressed size was
		// larger than what it actually contained.
		s.err = ErrNotEnoughData
	}
	if st != inflate.Done && s.remaining == 0 {
		// The declared size was reached before the stream ended.
		s.err = ErrTooMuchData
	}
}
