// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inflate decompresses a zlib stream incrementally: the caller
// feeds compressed bytes in chunks of any size and drains decompressed
// bytes into a buffer of its choosing, with a status telling it
// whether the decoder needs more input, filled the output space or
// reached the end of the stream.
//
// The zlib readers of the Go ecosystem pull their input from an
// io.Reader, which does not fit a caller that is handed its input in
// pieces by someone else. The Decoder inverts the pull into a push by
// parking the reader on a pump goroutine and handing input, output
// space and results over rendezvous channels, so Next stays a plain
// synchronous call and at most one goroutine touches the decoder state
// at any moment.
package inflate

import (
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
)

var errClosed = errors.New("inflate: decoder closed")

// Status is the decoder state reported by Next.
type Status int

const (
	// More: the output space was filled, there may be more output.
	More Status = iota
	// NeedInput: all input was consumed and the decoder cannot make
	// progress until the next chunk arrives.
	NeedInput
	// Done: the end of the stream was reached and verified.
	Done
	// Failed: the stream is corrupt or was truncated, see Err.
	Failed
)

func (s Status) String() string {
	switch s {
	case More:
		return "more"
	case NeedInput:
		return "need input"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type event struct {
	status Status
	n      int // bytes written into the current output space
	err    error
}

// A Decoder decompresses one zlib stream. The zero value is not usable,
// create it with NewDecoder. A Decoder must not be used from more than
// one goroutine at a time.
type Decoder struct {
	// Exchanged with the pump goroutine. The pump only runs between a
	// send on resume or moreIn and the matching receive from yield, so
	// the plain fields below never see concurrent access.
	resume chan []byte   // fresh output space for the next read
	moreIn chan struct{} // wakes a pump parked on empty input
	yield  chan event
	stop   chan struct{}

	curIn    []byte
	final    bool // no input beyond curIn will ever arrive
	consumed int

	started bool
	done    bool
	err     error
}

func NewDecoder() *Decoder {
	return &Decoder{
		resume: make(chan []byte),
		moreIn: make(chan struct{}),
		yield:  make(chan event),
		stop:   make(chan struct{}),
	}
}

// Next feeds the compressed bytes of in to the decoder and lets it
// write decompressed bytes into out. final tells the decoder that no
// input will follow in; only then may it treat running out of input as
// a truncated stream. Next returns the number of bytes consumed from
// in, the number of bytes written into out and the decoder status.
//
// Input that Next reports consumed may still sit buffered inside the
// decoder; the caller must not feed it again. Until the first flush of
// a partially filled out, consecutive calls must pass the same out
// slice: produced bytes are only reported once the decoder returns
// from a fill, which may span several Next calls.
func (d *Decoder) Next(in, out []byte, final bool) (consumed, produced int, status Status) {
	if d.err != nil {
		return 0, 0, Failed
	}
	if d.done {
		return 0, 0, Done
	}

	d.curIn = in
	d.final = final
	d.consumed = 0
	if !d.started {
		d.started = true
		go d.run()
	}

	// The pump is parked either on moreIn (it ran out of input mid
	// read) or on resume (it wants output space for the next read).
	// Offer both, once each; whichever the pump takes, it ends up
	// sending exactly one event on yield.
	resume, moreIn := d.resume, d.moreIn
	for {
		select {
		case resume <- out:
			resume = nil
		case moreIn <- struct{}{}:
			moreIn = nil
		case <-d.stop:
			d.curIn = nil
			if d.err == nil {
				d.err = errClosed
			}
			return 0, 0, Failed
		case ev := <-d.yield:
			d.curIn = nil
			switch ev.status {
			case Done:
				d.done = true
			case Failed:
				d.err = ev.err
			}
			return d.consumed, ev.n, ev.status
		}
	}
}

// Err returns the error behind a Failed status.
func (d *Decoder) Err() error {
	return d.err
}

// Close releases the pump goroutine. The Decoder cannot be used
// afterwards. Close may be called at any point and more than once.
func (d *Decoder) Close() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
}

// run is the pump goroutine: it owns the zlib reader and trades events
// for input and output space until the stream ends or stop is closed.
func (d *Decoder) run() {
	zr, err := zlib.NewReader(pump{d})
	if err != nil {
		d.post(event{status: Failed, err: err})
		return
	}
	for {
		var out []byte
		select {
		case out = <-d.resume:
		case <-d.stop:
			return
		}
		// Keep reading until the output space is full or the stream
		// ends. A short read here is a block boundary, not an end
		// condition; reads that run out of input park in pump.Read.
		n := 0
		for {
			m, err := zr.Read(out[n:])
			n += m
			if err == io.EOF {
				d.post(event{status: Done, n: n})
				return
			}
			if err != nil {
				d.post(event{status: Failed, n: n, err: err})
				return
			}
			if n == len(out) {
				d.post(event{status: More, n: n})
				break
			}
		}
	}
}

func (d *Decoder) post(ev event) {
	select {
	case d.yield <- ev:
	case <-d.stop:
	}
}

// pump is the input side of the Decoder as seen by the zlib reader.
// Read serves bytes from the chunk currently being fed; on an empty
// chunk it reports NeedInput to the caller of Next and parks until the
// next chunk arrives, or ends the stream when no more input will come.
type pump struct {
	d *Decoder
}

func (r pump) Read(p []byte) (int, error) {
	d := r.d
	for len(d.curIn) == 0 {
		if d.final {
			return 0, io.EOF
		}
		select {
		case d.yield <- event{status: NeedInput}:
		case <-d.stop:
			return 0, io.ErrClosedPipe
		}
		select {
		case <-d.moreIn:
		case <-d.stop:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, d.curIn)
	d.curIn = d.curIn[n:]
	d.consumed += n
	return n, nil
}
