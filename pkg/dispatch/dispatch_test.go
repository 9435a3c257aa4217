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

package dispatch

import (
	"testing"

	"github.com/vemu/vemu/pkg/archos"
)

func TestModuleNameNamingScheme(t *testing.T) {
	cases := []struct {
		role string
		arch archos.Arch
		os   archos.OS
		want string
	}{
		{"arch", archos.X8664, archos.OSInvalid, "arch.x8664"},
		{"os", archos.X8664, archos.Linux, "os.linux.x8664"},
		{"loader", archos.X8664, archos.Linux, "loader.elf"},
		{"loader", archos.ARM64, archos.MacOS, "loader.macho"},
		{"syscall-table", archos.X8664, archos.Linux, "os.linux.x8664_syscall"},
		{"memory", archos.ArchInvalid, archos.OSInvalid, "memory.mapping"},
		{"register", archos.ArchInvalid, archos.OSInvalid, "register.register"},
	}
	for _, c := range cases {
		if got := moduleName(c.role, c.arch, c.os); got != c.want {
			t.Errorf("moduleName(%q, %v, %v) = %q, want %q", c.role, c.arch, c.os, got, c.want)
		}
	}
}

func TestSetupArchUnregisteredFails(t *testing.T) {
	// The only arch plug-in linked into this test binary is
	// internal/arch/x86 (imported by integration_test.go), so MIPS32 has
	// no registered constructor: resolution must fail with
	// ErrModuleNotFound rather than panic on a nil constructor.
	_, err := SetupArch(BuildContext{EngineContext: EngineContext{Arch: archos.MIPS32}}, nil)
	if err == nil {
		t.Fatalf("SetupArch on unregistered arch succeeded, want error")
	}
}
