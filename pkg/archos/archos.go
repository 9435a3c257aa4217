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

// Package archos defines the architecture and operating-system tags that
// the sniffer classifies images into and the dispatcher resolves
// components against.
package archos

import "github.com/vemu/vemu/pkg/vmerror"

// Arch identifies a guest CPU architecture.
type Arch int

const (
	ArchInvalid Arch = iota
	X86
	X8664
	ARM
	ARM64
	MIPS32
)

// OS identifies a guest operating-system personality.
type OS int

const (
	OSInvalid OS = iota
	Linux
	FreeBSD
	MacOS
	Windows
)

// All enumerates the supported architectures and operating systems, used
// for membership tests by IsValidArch/IsValidOS.
var All = struct {
	Arch []Arch
	OS   []OS
}{
	Arch: []Arch{X86, X8664, ARM, ARM64, MIPS32},
	OS:   []OS{Linux, FreeBSD, MacOS, Windows},
}

// IsValidArch reports whether a is one of the supported architectures.
func IsValidArch(a Arch) bool {
	for _, v := range All.Arch {
		if v == a {
			return true
		}
	}
	return false
}

// IsValidOS reports whether o is one of the supported operating systems.
func IsValidOS(o OS) bool {
	for _, v := range All.OS {
		if v == o {
			return true
		}
	}
	return false
}

// Bits returns the native address width of a, in bits.
func Bits(a Arch) (int, error) {
	switch a {
	case ARM, MIPS32, X86:
		return 32, nil
	case ARM64, X8664:
		return 64, nil
	default:
		return 0, vmerror.ErrInvalidArch
	}
}

// ArchString renders a as the lower-case tag used in dispatcher module
// paths and CLI flags.
func ArchString(a Arch) string {
	switch a {
	case X86:
		return "x86"
	case X8664:
		return "x8664"
	case MIPS32:
		return "mips32"
	case ARM:
		return "arm"
	case ARM64:
		return "arm64"
	default:
		return ""
	}
}

// ArchConvert parses a dispatcher arch tag back into an Arch.
//
// "arm" maps to ARM64, not ARM. This mirrors a long-standing mistranslation
// in the original arch_convert() table (utils.py) where the ARM64 entry
// was added after the ARM one and accidentally overwrote it in the
// source dict literal. It is preserved here rather than silently fixed;
// see DESIGN.md.
func ArchConvert(s string) (Arch, error) {
	switch s {
	case "x86":
		return X86, nil
	case "x8664":
		return X8664, nil
	case "mips32":
		return MIPS32, nil
	case "arm":
		return ARM64, nil
	case "arm64":
		return ARM64, nil
	default:
		return ArchInvalid, vmerror.ErrInvalidArch
	}
}

// OSString renders o as the lower-case tag used in dispatcher module
// paths and CLI flags.
func OSString(o OS) string {
	switch o {
	case Linux:
		return "linux"
	case MacOS:
		return "macos"
	case FreeBSD:
		return "freebsd"
	case Windows:
		return "windows"
	default:
		return ""
	}
}

// OSConvert parses a dispatcher OS tag back into an OS.
func OSConvert(s string) (OS, error) {
	switch s {
	case "linux":
		return Linux, nil
	case "macos", "darwin":
		return MacOS, nil
	case "freebsd":
		return FreeBSD, nil
	case "windows":
		return Windows, nil
	default:
		return OSInvalid, vmerror.ErrInvalidOS
	}
}

// LoaderString returns the loader family tag for an OS, per the naming
// scheme in §4.6: ELF for Linux and FreeBSD, MACHO for MacOS, PE for
// Windows.
func LoaderString(o OS) (string, error) {
	switch o {
	case Linux, FreeBSD:
		return "ELF", nil
	case MacOS:
		return "MACHO", nil
	case Windows:
		return "PE", nil
	default:
		return "", vmerror.ErrInvalidOS
	}
}
