// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package serve

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/albenik/go-serial/v2"
	"github.com/espkit/stubtool/spiflash"
	"github.com/espkit/stubtool/stubtool/internal/stubproto"
	"github.com/espkit/stubtool/stubtool/internal/util"
)

const Descr = "answer stub commands with a simulated flash device"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS]\nOptions:\n",
			cmd,
		)
		fs.PrintDefaults()
	}
	port := fs.String("p", "", "serial `port` to serve on, stdio when empty")
	size := fs.String("size", "4M", "flash array `size`")
	out := fs.String("o", "flash.img", "`file` the flash content is saved to")
	fs.Parse(args)
	if fs.NArg() != 0 {
		fs.Usage()
		os.Exit(1)
	}

	flashSize, err := util.ParseSize(*size)
	util.FatalErr("", err)

	var rw io.ReadWriter
	if *port != "" {
		conn, err := serial.Open(*port, serial.WithBaudrate(115200))
		util.FatalErr(*port, err)
		defer conn.Close()
		rw = conn
	} else {
		rw = struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
	}

	mem := spiflash.NewMem(flashSize)
	srv := stubproto.NewServer(rw, mem)
	srv.OnFlashEnd = func(err error) {
		if err != nil {
			util.Warn("transfer failed: %v", err)
			return
		}
		if err := os.WriteFile(*out, mem.Bytes(), 0666); err != nil {
			util.Warn("save: %v", err)
			return
		}
		util.Warn("flash content saved to %s", *out)
	}
	util.FatalErr("serve", srv.Serve())
}
