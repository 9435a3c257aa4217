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

// Package syscalltable registers the syscall-number-to-name tables the
// dispatcher resolves for the "syscall-table" role (§4.6). Numbers are
// the real Linux syscall numbers for each arch's ABI; this package does
// not dispatch or emulate any of them (§1 Non-goals) — it only names
// them, for callers building a trace or a stub table on top.
package syscalltable

import (
	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
)

var linuxX8664 = map[uint64]string{
	0:  "read",
	1:  "write",
	2:  "open",
	3:  "close",
	9:  "mmap",
	10: "mprotect",
	11: "munmap",
	12: "brk",
	60: "exit",
	231: "exit_group",
	228: "clock_gettime",
}

var linuxX86 = map[uint64]string{
	1:   "exit",
	3:   "read",
	4:   "write",
	5:   "open",
	6:   "close",
	45:  "brk",
	90:  "mmap",
	91:  "munmap",
	125: "mprotect",
	252: "exit_group",
}

var linuxARM64 = map[uint64]string{
	63:  "read",
	64:  "write",
	56:  "openat",
	57:  "close",
	214: "brk",
	215: "munmap",
	222: "mmap",
	226: "mprotect",
	93:  "exit",
	94:  "exit_group",
}

var linuxARM = map[uint64]string{
	3:   "read",
	4:   "write",
	5:   "open",
	6:   "close",
	45:  "brk",
	91:  "munmap",
	125: "mprotect",
	1:   "exit",
	248: "exit_group",
	192: "mmap2",
}

var linuxMIPS32 = map[uint64]string{
	4003: "read",
	4004: "write",
	4005: "open",
	4006: "close",
	4045: "brk",
	4091: "munmap",
	4125: "mprotect",
	4001: "exit",
	4246: "exit_group",
	4090: "mmap",
}

func init() {
	dispatch.RegisterSyscallTable(archos.Linux, archos.X8664, linuxX8664)
	dispatch.RegisterSyscallTable(archos.Linux, archos.X86, linuxX86)
	dispatch.RegisterSyscallTable(archos.Linux, archos.ARM64, linuxARM64)
	dispatch.RegisterSyscallTable(archos.Linux, archos.ARM, linuxARM)
	dispatch.RegisterSyscallTable(archos.Linux, archos.MIPS32, linuxMIPS32)
}
