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

// This file lives in package dispatch_test, not dispatch, so it can
// import the plug-ins that self-register against the dispatcher
// (internal/arch/x86, internal/osguest/linux, internal/loader/elf,
// pkg/register, pkg/memsetup) without creating an import cycle: those
// plug-ins import pkg/dispatch themselves.
package dispatch_test

import (
	"testing"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/engine"

	_ "github.com/vemu/vemu/internal/arch/x86"
	_ "github.com/vemu/vemu/internal/loader/elf"
	_ "github.com/vemu/vemu/internal/osguest/linux"
	_ "github.com/vemu/vemu/pkg/memsetup"
	_ "github.com/vemu/vemu/pkg/register"
)

func TestSetupArchX8664SharesX86Module(t *testing.T) {
	ctx := dispatch.BuildContext{EngineContext: dispatch.EngineContext{Arch: archos.X8664}}
	comp, err := dispatch.SetupArch(ctx, nil)
	if err != nil {
		t.Fatalf("SetupArch: %v", err)
	}
	if comp.Bits() != 64 {
		t.Fatalf("Bits() = %d, want 64", comp.Bits())
	}
}

func TestSetupOSFallsBackToTopLevelPersonality(t *testing.T) {
	eng := engine.NewSimulated()
	mem, err := dispatch.SetupMemory(dispatch.EngineContext{Arch: archos.X8664, OS: archos.Linux, ArchBits: 64, Engine: eng})
	if err != nil {
		t.Fatalf("SetupMemory: %v", err)
	}
	ctx := dispatch.BuildContext{
		EngineContext: dispatch.EngineContext{Arch: archos.X8664, OS: archos.Linux, ArchBits: 64, Engine: eng},
		Memory:        mem,
	}
	osComp, err := dispatch.SetupOS(ctx, nil)
	if err != nil {
		t.Fatalf("SetupOS: %v", err)
	}
	if osComp.Name() != "linux" {
		t.Fatalf("Name() = %q, want %q", osComp.Name(), "linux")
	}
}

func TestSetupLoaderResolvesELFForLinux(t *testing.T) {
	ctx := dispatch.BuildContext{EngineContext: dispatch.EngineContext{Arch: archos.X8664, OS: archos.Linux}}
	if _, err := dispatch.SetupLoader(ctx, nil); err != nil {
		t.Fatalf("SetupLoader: %v", err)
	}
}

func TestSetupLoaderFailsForUnregisteredFamily(t *testing.T) {
	ctx := dispatch.BuildContext{EngineContext: dispatch.EngineContext{Arch: archos.ARM64, OS: archos.Windows}}
	if _, err := dispatch.SetupLoader(ctx, nil); err == nil {
		t.Fatalf("SetupLoader for unregistered PE family succeeded, want error")
	}
}

func TestSetupRegisterReturnsFreshFile(t *testing.T) {
	regs, err := dispatch.SetupRegister(dispatch.EngineContext{})
	if err != nil {
		t.Fatalf("SetupRegister: %v", err)
	}
	regs.Set("pc", 0x1000)
	if v, ok := regs.Get("pc"); !ok || v != 0x1000 {
		t.Fatalf("Get(pc) = (%x, %v), want (0x1000, true)", v, ok)
	}
}

func TestOverridesRemapArch(t *testing.T) {
	ctx := dispatch.BuildContext{EngineContext: dispatch.EngineContext{Arch: archos.X8664}}
	overrides := &dispatch.Overrides{Remap: map[string]string{"arch:x8664": "QlArchX86"}}
	comp, err := dispatch.SetupArch(ctx, overrides)
	if err != nil {
		t.Fatalf("SetupArch with override: %v", err)
	}
	if comp.Bits() != 32 {
		t.Fatalf("overridden Bits() = %d, want 32 (remapped to the x86 constructor)", comp.Bits())
	}
}
