// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Section is one contiguous piece of a firmware image together with
// its flash offset.
type Section struct {
	Addr uint32 // flash offset of the first byte
	Data []byte
}

type Sections []*Section

// SortByAddr sorts sections according to the Addr field.
func (ss Sections) SortByAddr() {
	sort.Slice(
		ss,
		func(i, j int) bool {
			return ss[i].Addr < ss[j].Addr
		},
	)
}

// Size returns the number of bytes between the start of the lowest
// section and the end of the highest one.
func (ss Sections) Size() int {
	if len(ss) == 0 {
		return 0
	}
	lo, hi := ^uint32(0), uint32(0)
	for _, s := range ss {
		if s.Addr < lo {
			lo = s.Addr
		}
		if end := s.Addr + uint32(len(s.Data)); end > hi {
			hi = end
		}
	}
	return int(hi - lo)
}

// ReadELF reads the loadable sections of the program and returns them
// with their physical (flash) addresses. The order of the returned
// sections is unspecified.
func ReadELF(name string) (Sections, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ss := make(Sections, 0, 16)
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		paddr := uint64(s.Addr)
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD {
				continue
			}
			if p.Off <= s.Offset && s.Offset < p.Off+p.Filesz {
				paddr = p.Paddr + s.Offset - p.Off
				break
			}
		}
		ss = append(ss, &Section{uint32(paddr), data})
	}
	return ss, nil
}

// ReadHex reads an Intel HEX file, one section per contiguous data
// segment.
func ReadHex(name string) (Sections, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}
	var ss Sections
	for _, seg := range mem.GetDataSegments() {
		ss = append(ss, &Section{seg.Address, seg.Data})
	}
	return ss, nil
}

// ReadBins reads binary files according to the description
// BIN1:ADDR1[,BIN2:ADDR2[,...]] and returns them as sections.
func ReadBins(descr string) (Sections, error) {
	bins := strings.Split(descr, ",")
	ss := make(Sections, len(bins))
	for k, ba := range bins {
		i := strings.LastIndexByte(ba, ':')
		if i <= 0 {
			return nil, fmt.Errorf("bad section description '%s'", ba)
		}
		bin, addr := ba[:i], ba[i+1:]
		a, err := strconv.ParseUint(addr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("bad address in '%s': %s", addr, err)
		}
		data, err := os.ReadFile(bin)
		if err != nil {
			return nil, err
		}
		ss[k] = &Section{uint32(a), data}
	}
	return ss, nil
}

// ReadImage reads a firmware image, recognizing the format by the file
// name extension: .elf and .hex carry their own addresses, anything
// else is treated as a raw binary placed at addr.
func ReadImage(name string, addr uint32) (Sections, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".elf":
		return ReadELF(name)
	case ".hex":
		return ReadHex(name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Sections{{addr, data}}, nil
}
