// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Stubtool programs firmware images into SPI flash through an
// esptool-style flasher stub, over a serial port or into a simulated
// flash array.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/espkit/stubtool/stubtool/internal/cmd/flash"
	"github.com/espkit/stubtool/stubtool/internal/cmd/load"
	"github.com/espkit/stubtool/stubtool/internal/cmd/serve"
)

type tool struct {
	descr string
	main  func(cmd string, args []string)
}

var tools = map[string]tool{
	"flash": {flash.Descr, flash.Main},
	"load":  {load.Descr, load.Main},
	"serve": {serve.Descr, serve.Main},
}

func printToolList() {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	slices.Sort(names)
	maxLen := 0
	for _, k := range names {
		if maxLen < len(k) {
			maxLen = len(k)
		}
	}
	uw := os.Stderr
	uw.WriteString("Usage:\n  stubtool COMMAND [ARGUMENTS]\n\n")
	uw.WriteString("Available commands:\n")
	for _, name := range names {
		fmt.Fprintf(uw, "  %*s  %s\n", maxLen, name, tools[name].descr)
	}
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" {
		printToolList()
		return
	}
	tool, ok := tools[os.Args[1]]
	if !ok {
		printToolList()
		os.Exit(1)
	}
	tool.main(os.Args[1], os.Args[2:])
}
