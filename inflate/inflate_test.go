// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inflate

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zlib"
)

// payload returns n bytes mixing pseudo-random noise with repetitive
// stretches, so the compressed stream exercises both stored and
// huffman-coded blocks.
func payload(n int) []byte {
	p := make([]byte, n)
	state := uint32(0x2545f491)
	for i := range p {
		if i/997%3 == 0 {
			p[i] = 0xa5
			continue
		}
		state = state*1664525 + 1013904223
		p[i] = byte(state >> 24)
	}
	return p
}

func deflate(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// decode runs the whole stream through a decoder, feeding chunkSize
// compressed bytes at a time and draining into an outSize window.
func decode(t *testing.T, stream []byte, chunkSize, outSize int) []byte {
	t.Helper()
	d := NewDecoder()
	defer d.Close()

	var got []byte
	out := make([]byte, outSize)
	fill := 0
	for len(stream) > 0 {
		chunk := stream[:min(chunkSize, len(stream))]
		final := len(chunk) == len(stream)
		for {
			consumed, produced, st := d.Next(chunk, out[fill:], final)
			chunk = chunk[consumed:]
			stream = stream[consumed:]
			fill += produced
			switch st {
			case More:
				if fill != len(out) {
					t.Fatalf("status more with %d of %d bytes filled", fill, len(out))
				}
				got = append(got, out...)
				fill = 0
				continue
			case Done:
				got = append(got, out[:fill]...)
				if len(stream) > len(chunk) {
					t.Fatalf("done with %d compressed bytes unfed", len(stream)-len(chunk))
				}
				return got
			case Failed:
				t.Fatalf("decode failed: %v", d.Err())
			case NeedInput:
				if len(chunk) != 0 {
					t.Fatalf("status need input with %d bytes unconsumed", len(chunk))
				}
			}
			if len(chunk) == 0 {
				break
			}
		}
	}
	t.Fatal("ran out of input before the stream ended")
	return nil
}

func TestDecodeChunkSizes(t *testing.T) {
	want := payload(20000)
	stream := deflate(t, want)
	for _, tc := range []struct{ chunk, out int }{
		{len(stream), 64 * 1024},
		{len(stream), 512},
		{1, 64 * 1024},
		{1, 512},
		{37, 1000},
		{1024, 4096},
	} {
		got := decode(t, stream, tc.chunk, tc.out)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("chunk %d out %d: output differs (-want +got):\n%s", tc.chunk, tc.out, diff)
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	got := decode(t, deflate(t, nil), 5, 16)
	if len(got) != 0 {
		t.Errorf("got %d bytes from an empty stream", len(got))
	}
}

func TestTruncatedStream(t *testing.T) {
	stream := deflate(t, payload(5000))
	trunc := stream[:len(stream)/2]

	d := NewDecoder()
	defer d.Close()
	out := make([]byte, 64*1024)
	fill := 0
	var st Status
	for {
		var consumed, produced int
		consumed, produced, st = d.Next(trunc, out[fill:], true)
		trunc = trunc[consumed:]
		fill += produced
		if st != More {
			break
		}
	}
	if st != Failed {
		t.Fatalf("status %v on a truncated final chunk, want failed", st)
	}
	if d.Err() == nil {
		t.Error("Err() is nil after a failure")
	}
	// A decoder stays failed.
	if _, _, st := d.Next(nil, out, true); st != Failed {
		t.Errorf("status %v after a failure, want failed", st)
	}
}

func TestTruncatedNotFinal(t *testing.T) {
	stream := deflate(t, payload(5000))
	trunc := stream[:len(stream)/2]

	d := NewDecoder()
	defer d.Close()
	out := make([]byte, 64*1024)
	fill := 0
	var st Status
	for {
		var consumed, produced int
		consumed, produced, st = d.Next(trunc, out[fill:], false)
		trunc = trunc[consumed:]
		fill += produced
		if st != More {
			break
		}
	}
	// Without the final flag running dry is not an error.
	if st != NeedInput {
		t.Fatalf("status %v, want need input", st)
	}
}

func TestGarbageStream(t *testing.T) {
	d := NewDecoder()
	defer d.Close()
	out := make([]byte, 1024)
	_, _, st := d.Next([]byte("this is not a zlib stream at all"), out, true)
	if st != Failed {
		t.Fatalf("status %v on garbage input, want failed", st)
	}
	if d.Err() == nil {
		t.Error("Err() is nil after a failure")
	}
}

func TestNextAfterDone(t *testing.T) {
	stream := deflate(t, []byte("abc"))
	d := NewDecoder()
	defer d.Close()
	out := make([]byte, 16)
	_, produced, st := d.Next(stream, out, true)
	if st != Done || produced != 3 {
		t.Fatalf("got status %v, %d bytes; want done, 3", st, produced)
	}
	if _, _, st := d.Next([]byte("more"), out, true); st != Done {
		t.Errorf("status %v after done, want done", st)
	}
}

func TestNextAfterClose(t *testing.T) {
	d := NewDecoder()
	d.Close()
	d.Close() // idempotent
	out := make([]byte, 16)
	if _, _, st := d.Next([]byte("x"), out, true); st != Failed {
		t.Errorf("status %v on a closed decoder, want failed", st)
	}
	if d.Err() == nil {
		t.Error("Err() is nil on a closed decoder")
	}
}
