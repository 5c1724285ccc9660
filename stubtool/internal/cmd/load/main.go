// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package load

import (
	"bytes"
	"crypto/md5"
	"flag"
	"fmt"
	"os"

	"github.com/albenik/go-serial/v2"
	"github.com/espkit/stubtool/stubtool/internal/stubproto"
	"github.com/espkit/stubtool/stubtool/internal/util"
	"github.com/klauspost/compress/zlib"
)

const Descr = "load a firmware image into the flash of a device running the stub"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] -p PORT IMAGE\nOptions:\n",
			cmd,
		)
		fs.PrintDefaults()
	}
	port := fs.String("p", "", "serial `port` of the device")
	baud := fs.Int("b", 115200, "baud `rate`")
	addr := fs.Uint("addr", 0, "flash `offset` of a raw binary image")
	chunk := fs.Int("chunk", 16*1024, "transfer packet size in `bytes`")
	compress := fs.Bool("z", false, "transfer the image zlib-compressed")
	verify := fs.Bool("verify", false, "read back an MD5 digest of every written range")
	quiet := fs.Bool("quiet", false, "do not print diagnostic information")
	fs.Parse(args)
	if fs.NArg() != 1 || *port == "" {
		fs.Usage()
		os.Exit(1)
	}

	sections, err := util.ReadImage(fs.Arg(0), uint32(*addr))
	util.FatalErr("readimage", err)
	sections.SortByAddr()

	conn, err := serial.Open(
		*port,
		serial.WithBaudrate(*baud),
		serial.WithReadTimeout(1000),
	)
	util.FatalErr(*port, err)
	defer conn.Close()

	c := stubproto.NewClient(conn)
	for i := 0; ; i++ {
		if err = c.Sync(); err == nil {
			break
		}
		if i == 4 {
			util.FatalErr("sync", err)
		}
	}

	for _, s := range sections {
		err = load(c, s.Addr, s.Data, *chunk, *compress, *quiet)
		util.FatalErr(fmt.Sprintf("load %#x", s.Addr), err)
	}
	if *verify {
		for _, s := range sections {
			sum, err := c.FlashMD5(s.Addr, uint32(len(s.Data)))
			util.FatalErr("md5", err)
			want := md5.Sum(s.Data)
			if !bytes.Equal(sum, want[:]) {
				util.Fatal("verify %#x: digest mismatch", s.Addr)
			}
		}
		if !*quiet {
			util.Warn("Verified %d sections", len(sections))
		}
	}
}

func load(c *stubproto.Client, addr uint32, data []byte, chunk int, compress, quiet bool) error {
	stream := data
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		stream = buf.Bytes()
	}
	packets := (len(stream) + chunk - 1) / chunk
	var err error
	if compress {
		err = c.FlashDeflBegin(uint32(len(data)), uint32(packets), uint32(chunk), addr)
	} else {
		err = c.FlashBegin(uint32(len(data)), uint32(packets), uint32(chunk), addr)
	}
	if err != nil {
		return err
	}
	for off := 0; off < len(stream); off += chunk {
		end := min(off+chunk, len(stream))
		if compress {
			err = c.FlashDeflData(stream[off:end])
		} else {
			err = c.FlashData(stream[off:end])
		}
		if err != nil {
			return err
		}
		if !quiet {
			util.Progress("Loading:", end, len(stream), 1024, "KiB")
		}
	}
	if compress {
		return c.FlashDeflEnd()
	}
	return c.FlashEnd()
}
