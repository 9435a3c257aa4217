// Copyright 2024 The vemu Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sniff implements the Image Sniffer (C5): classification of a
// program image's (arch, os) from its first bytes, without a full
// file-format parse (§4.5). Classification is sequential — ELF, then
// Mach-O, then PE — and stops at the first format whose magic and
// resolvable architecture match.
//
// No third-party ELF/Mach-O/PE parsing library appears anywhere in the
// retrieval pack (see DESIGN.md), so ELF and Mach-O are classified by
// direct byte inspection per the exact offsets in §4.5, and PE is
// classified through the standard library's debug/pe parser — itself
// "a PE parsing library" in the sense §6 requires.
package sniff

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"io"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/vmerror"
)

// Result is the outcome of a successful Sniff.
type Result struct {
	Arch   archos.Arch
	OS     archos.OS
	Endian binary.ByteOrder
}

// Sniff reads the header of r and classifies it into a Result. It
// returns vmerror.ErrUnknownOS if none of the supported container
// formats recognize it.
func Sniff(r io.ReaderAt) (Result, error) {
	if res, ok := sniffELF(r); ok {
		return res, nil
	}
	if res, ok := sniffMachO(r); ok {
		return res, nil
	}
	if res, ok := sniffPE(r); ok {
		return res, nil
	}
	return Result{}, vmerror.ErrUnknownOS
}

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// sniffELF reads the first 20 bytes of an ELF header: e_ident (16
// bytes) followed by e_type (2 bytes) and e_machine (2 bytes).
func sniffELF(r io.ReaderAt) (Result, bool) {
	var buf [20]byte
	if n, _ := r.ReadAt(buf[:], 0); n < len(buf) {
		return Result{}, false
	}
	if !bytes.Equal(buf[0:4], elfMagic) {
		return Result{}, false
	}

	const (
		eiData  = 5
		eiOSABI = 7
	)

	var os archos.OS
	switch buf[eiOSABI] {
	case 0x00, 0x03, 0x11:
		os = archos.Linux
	case 0x09:
		os = archos.FreeBSD
	default:
		return Result{}, false
	}

	endian := binary.ByteOrder(binary.LittleEndian)
	if buf[eiData] == 2 {
		endian = binary.BigEndian
	}

	machine := endian.Uint16(buf[18:20])

	var arch archos.Arch
	switch machine {
	case 0x0003:
		arch = archos.X86
	case 0x0008:
		arch = archos.MIPS32
	case 0x0028:
		arch = archos.ARM
	case 0x00B7:
		arch = archos.ARM64
	case 0x003E:
		arch = archos.X8664
	default:
		return Result{}, false
	}

	return Result{Arch: arch, OS: os, Endian: endian}, true
}

// sniffMachO reads the first 32 bytes of a Mach-O header. The
// architecture is resolved from byte 4 and byte 7 of the (little
// endian) cputype field, per §4.5.
func sniffMachO(r io.ReaderAt) (Result, bool) {
	var buf [32]byte
	if n, _ := r.ReadAt(buf[:], 0); n < len(buf) {
		return Result{}, false
	}

	magic := buf[0:4]
	isMachO := bytes.Equal(magic, []byte{0xCF, 0xFA, 0xED, 0xFE}) ||
		bytes.Equal(magic, []byte{0xCE, 0xFA, 0xED, 0xFE}) ||
		bytes.Equal(magic, []byte{0xCA, 0xFE, 0xBA, 0xBE})
	if !isMachO {
		return Result{}, false
	}

	var arch archos.Arch
	switch {
	case buf[4] == 7 && buf[7] == 1:
		arch = archos.X8664
	case buf[4] == 12 && buf[7] == 1:
		arch = archos.ARM64
	default:
		return Result{}, false
	}

	return Result{Arch: arch, OS: archos.MacOS, Endian: binary.LittleEndian}, true
}

// sniffPE parses the PE COFF header through the standard library and
// resolves Machine to an architecture. It classifies the image as
// Windows only if the architecture resolves (§4.5: "Windows iff arch
// resolved").
func sniffPE(r io.ReaderAt) (Result, bool) {
	f, err := pe.NewFile(r)
	if err != nil {
		return Result{}, false
	}
	defer f.Close()

	var arch archos.Arch
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		arch = archos.X86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		arch = archos.X8664
	case pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_ARMNT, pe.IMAGE_FILE_MACHINE_THUMB:
		arch = archos.ARM
	case pe.IMAGE_FILE_MACHINE_ARM64:
		arch = archos.ARM64
	default:
		return Result{}, false
	}

	return Result{Arch: arch, OS: archos.Windows, Endian: binary.LittleEndian}, true
}
