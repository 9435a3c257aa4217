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

// Package hostarch holds the address and permission arithmetic shared by
// every layer of the memory subsystem: page size, alignment, address
// masks and the read/write/exec permission bitmask. It plays the role
// the teacher's pkg/hostarch plays for pkg/sentry/mm.
package hostarch

import "github.com/vemu/vemu/pkg/vmerror"

// PageSize is the granularity of every mapping operation.
const PageSize = 0x1000

// Perms is a 3-bit mask over {Read, Write, Exec}.
type Perms uint8

const (
	Read Perms = 1 << iota
	Write
	Exec
)

// RWX is the default permission set used by Map when none is given.
const RWX = Read | Write | Exec

// String renders p as a three-character "rwx"/"-" string in that order,
// matching the format get_mapinfo()/show_mapinfo() use.
func (p Perms) String() string {
	out := [3]byte{'-', '-', '-'}
	if p&Read != 0 {
		out[0] = 'r'
	}
	if p&Write != 0 {
		out[1] = 'w'
	}
	if p&Exec != 0 {
		out[2] = 'x'
	}
	return string(out[:])
}

// AddrMask returns the address mask for a guest of the given native
// address width (archbit). 16-bit archs are treated as a 20-bit address
// line (real-mode addressing), intentionally.
func AddrMask(archbit int) (uint64, error) {
	switch archbit {
	case 64:
		return ^uint64(0), nil
	case 32:
		return (uint64(1) << 32) - 1, nil
	case 16:
		return (uint64(1) << 20) - 1, nil
	default:
		return 0, vmerror.ErrUnsupportedConversion
	}
}

// PointerSize returns the native pointer width, in bytes, for archbit.
func PointerSize(archbit int) (int, error) {
	switch archbit {
	case 64:
		return 8, nil
	case 32:
		return 4, nil
	case 16:
		return 2, nil
	default:
		return 0, vmerror.ErrUnsupportedConversion
	}
}

// Align rounds addr up to the nearest multiple of alignment, wrapping
// within the address mask for archbit. alignment must be a power of two.
//
// Properties: Align(Align(x, k), k) == Align(x, k); Align(x, k) >= x (mod
// the address mask); Align(x, k) - x < k.
func Align(addr uint64, alignment uint64, archbit int) (uint64, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return 0, vmerror.ErrUnsupportedConversion
	}
	mask, err := AddrMask(archbit)
	if err != nil {
		return 0, err
	}
	m := mask & -alignment
	return (addr + (alignment - 1)) & m, nil
}

// PageAlignDown rounds addr down to the nearest page boundary.
func PageAlignDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// PageRoundedLen rounds size up to the nearest multiple of PageSize, after
// first widening it by the offset addr has within its page — mirrors the
// way §4.3.3 computes the rounded length for protect().
func PageRoundedLen(addr, size uint64) uint64 {
	off := addr & (PageSize - 1)
	total := size + off
	return (total + PageSize - 1) &^ (PageSize - 1)
}
