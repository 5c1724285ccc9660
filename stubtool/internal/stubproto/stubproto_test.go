// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stubproto_test

import (
	"bytes"
	"crypto/md5"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/espkit/stubtool/spiflash"
	"github.com/espkit/stubtool/stubtool/internal/stubproto"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zlib"
)

// startServer wires a Server to one end of an in-memory pipe and
// returns a Client on the other end. The pipe is synchronous, so the
// strict command/response alternation of the protocol is what keeps
// the two sides from deadlocking.
func startServer(t *testing.T, mem *spiflash.Mem) *stubproto.Client {
	t.Helper()
	cend, send := net.Pipe()
	srv := stubproto.NewServer(send, mem)
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		cend.Close()
		send.Close()
		if err := <-done; err != nil && !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("server: %v", err)
		}
	})
	return stubproto.NewClient(cend)
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*13 + i/128)
	}
	return p
}

func TestSync(t *testing.T) {
	c := startServer(t, spiflash.NewMem(64*1024))
	if err := c.Sync(); err != nil {
		t.Fatal(err)
	}
}

func TestFlashRaw(t *testing.T) {
	mem := spiflash.NewMem(64 * 1024)
	c := startServer(t, mem)

	data := pattern(10000)
	const packet = 4096
	packets := (len(data) + packet - 1) / packet
	if err := c.FlashBegin(uint32(len(data)), uint32(packets), packet, 0x1000); err != nil {
		t.Fatal(err)
	}
	for off := 0; off < len(data); off += packet {
		end := min(off+packet, len(data))
		if err := c.FlashData(data[off:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.FlashEnd(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, mem.Bytes()[0x1000:0x1000+len(data)]); diff != "" {
		t.Errorf("flash content differs (-want +got):\n%s", diff)
	}
}

func TestFlashDeflated(t *testing.T) {
	mem := spiflash.NewMem(128 * 1024)
	c := startServer(t, mem)

	data := pattern(50 * 1024)
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(data)
	zw.Close()
	stream := zbuf.Bytes()

	const packet = 1024
	packets := (len(stream) + packet - 1) / packet
	if err := c.FlashDeflBegin(uint32(len(data)), uint32(packets), packet, 0); err != nil {
		t.Fatal(err)
	}
	for off := 0; off < len(stream); off += packet {
		end := min(off+packet, len(stream))
		if err := c.FlashDeflData(stream[off:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.FlashDeflEnd(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, mem.Bytes()[:len(data)]); diff != "" {
		t.Errorf("flash content differs (-want +got):\n%s", diff)
	}
}

func TestFlashMD5(t *testing.T) {
	mem := spiflash.NewMem(64 * 1024)
	c := startServer(t, mem)

	data := pattern(3000)
	if err := c.FlashBegin(uint32(len(data)), 1, uint32(len(data)), 0); err != nil {
		t.Fatal(err)
	}
	if err := c.FlashData(data); err != nil {
		t.Fatal(err)
	}
	if err := c.FlashEnd(); err != nil {
		t.Fatal(err)
	}
	sum, err := c.FlashMD5(0, uint32(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	want := md5.Sum(data)
	if !bytes.Equal(sum, want[:]) {
		t.Errorf("digest %x, want %x", sum, want)
	}
	// A range past the end of the array is rejected.
	if _, err := c.FlashMD5(0, uint32(mem.Size())+1); err == nil {
		t.Error("out of range digest request succeeded")
	}
}

func TestDataWithoutBegin(t *testing.T) {
	c := startServer(t, spiflash.NewMem(64*1024))
	err := c.FlashData([]byte{1, 2, 3})
	var perr *stubproto.Error
	if !errors.As(err, &perr) || perr.Code != stubproto.StatusNotInFlashMode {
		t.Fatalf("got %v, want status %#x", err, stubproto.StatusNotInFlashMode)
	}
}

func TestEndReportsShortTransfer(t *testing.T) {
	c := startServer(t, spiflash.NewMem(64*1024))
	if err := c.FlashBegin(8192, 2, 4096, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.FlashData(pattern(4096)); err != nil {
		t.Fatal(err)
	}
	err := c.FlashEnd()
	var perr *stubproto.Error
	if !errors.As(err, &perr) || perr.Code != stubproto.StatusNotEnoughData {
		t.Fatalf("got %v, want status %#x", err, stubproto.StatusNotEnoughData)
	}
}

func TestDeflatedErrorDeferredToEnd(t *testing.T) {
	c := startServer(t, spiflash.NewMem(64*1024))
	if err := c.FlashDeflBegin(1024, 1, 64, 0); err != nil {
		t.Fatal(err)
	}
	// A broken stream is acknowledged; the failure comes out of END.
	if err := c.FlashDeflData([]byte("not a zlib stream, honest")); err != nil {
		t.Fatal(err)
	}
	err := c.FlashDeflEnd()
	var perr *stubproto.Error
	if !errors.As(err, &perr) || perr.Code != stubproto.StatusNotEnoughData {
		t.Fatalf("got %v, want status %#x", err, stubproto.StatusNotEnoughData)
	}
}

func TestRawDataOnDeflatedSession(t *testing.T) {
	c := startServer(t, spiflash.NewMem(64*1024))
	if err := c.FlashDeflBegin(16, 1, 16, 0); err != nil {
		t.Fatal(err)
	}
	err := c.FlashData(pattern(16))
	var perr *stubproto.Error
	if !errors.As(err, &perr) || perr.Code != stubproto.StatusInvalidCommand {
		t.Fatalf("got %v, want status %#x", err, stubproto.StatusInvalidCommand)
	}
}

func TestOnFlashEndHook(t *testing.T) {
	mem := spiflash.NewMem(64 * 1024)
	cend, send := net.Pipe()
	srv := stubproto.NewServer(send, mem)
	var hookErr []error
	srv.OnFlashEnd = func(err error) { hookErr = append(hookErr, err) }
	go srv.Serve()
	defer cend.Close()
	defer send.Close()

	c := stubproto.NewClient(cend)
	data := pattern(100)
	if err := c.FlashBegin(100, 1, 100, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.FlashData(data); err != nil {
		t.Fatal(err)
	}
	if err := c.FlashEnd(); err != nil {
		t.Fatal(err)
	}
	if len(hookErr) != 1 || hookErr[0] != nil {
		t.Errorf("hook calls %v, want one nil call", hookErr)
	}
}
