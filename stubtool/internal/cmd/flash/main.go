// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/espkit/stubtool/flash"
	"github.com/espkit/stubtool/spiflash"
	"github.com/espkit/stubtool/stubtool/internal/util"
	"github.com/klauspost/compress/zlib"
)

const Descr = "program a firmware image into a flash image file"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] IMAGE [OUT]\nOptions:\n",
			cmd,
		)
		fs.PrintDefaults()
	}
	addr := fs.Uint("addr", 0, "flash `offset` of a raw binary image")
	size := fs.String("size", "4M", "flash array `size`")
	chunk := fs.Int("chunk", 16*1024, "transfer chunk size in `bytes`")
	compress := fs.Bool("z", false, "transfer the image zlib-compressed")
	quiet := fs.Bool("quiet", false, "do not print diagnostic information")
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}
	in := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = strings.TrimSuffix(in, ".elf")
		out = strings.TrimSuffix(out, ".hex")
		out = strings.TrimSuffix(out, ".bin") + ".img"
	}

	sections, err := util.ReadImage(in, uint32(*addr))
	util.FatalErr("readimage", err)
	sections.SortByAddr()
	flashSize, err := util.ParseSize(*size)
	util.FatalErr("", err)

	mem := spiflash.NewMem(flashSize)
	ses := flash.NewSession(mem)
	for _, s := range sections {
		err = program(ses, s.Addr, s.Data, *chunk, *compress, *quiet)
		util.FatalErr(fmt.Sprintf("flash %#x", s.Addr), err)
	}
	if mem.BusyViolations != 0 {
		util.Warn("%d erase commands issued to a busy device", mem.BusyViolations)
	}

	of, err := os.Create(out)
	util.FatalErr("", err)
	defer of.Close()
	_, err = of.Write(mem.Bytes())
	util.FatalErr("write", err)
}

func program(ses *flash.Session, addr uint32, data []byte, chunk int, compress, quiet bool) error {
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
		if err := ses.BeginDeflated(uint32(len(data)), uint32(len(stream)), addr); err != nil {
			return err
		}
	} else {
		if err := ses.Begin(uint32(len(data)), addr); err != nil {
			return err
		}
	}
	for off := 0; off < len(stream); off += chunk {
		end := min(off+chunk, len(stream))
		if compress {
			ses.DeflatedData(stream[off:end])
		} else {
			ses.Data(stream[off:end])
		}
		if !quiet {
			util.Progress("Writing:", end, len(stream), 1024, "KiB")
		}
	}
	return ses.End()
}
