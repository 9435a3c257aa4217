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

// Package dispatch implements the Dispatcher (C6): it maps a component
// role and target (arch, os) tags to a concrete implementation and
// constructs it against an emulator handle.
//
// The original framework resolves a module path and a class/function
// name and dynamically imports it at runtime. Per the redesign in §9,
// this is replaced with a statically-enumerated registry mapping
// (role, arch, os) tuples to constructor functions: the dispatcher
// becomes a lookup. Plug-ins (internal/arch/*, internal/osguest/*,
// internal/loader/*) register themselves into this registry from an
// init() function, the same self-registration idiom the standard
// library uses for image and database drivers.
//
// The naming scheme computed by moduleName/symbolName below is not used
// to load anything — there is nothing left to dynamically import — but
// it is computed and logged on every resolution, so the log output and
// error messages read the way the original dynamic dispatch's would.
package dispatch

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/engine"
	"github.com/vemu/vemu/pkg/memory"
)

// EngineContext carries the state needed to build the two
// arch/os-independent roles: memory and register.
type EngineContext struct {
	Arch     archos.Arch
	OS       archos.OS
	ArchBits int
	Engine   engine.Adapter
}

// BuildContext carries the state needed to build arch/os/loader
// components, which all need the Memory Manager the memory role built.
type BuildContext struct {
	EngineContext
	Memory *memory.Manager
}

// ArchComponent is the per-architecture core the dispatcher resolves
// for the "arch" role: register-file layout metadata and bookkeeping a
// real CPU-instruction core would build on. Concrete instruction
// emulation is out of scope (§1); components here are minimal plug-ins
// that exercise the registry.
type ArchComponent interface {
	Name() string
	Bits() int
}

// OSComponent is the OS personality the dispatcher resolves for the
// "os" role.
type OSComponent interface {
	Name() string
	// FindContainingImage resolves the image (if any) that contains
	// addr, mirroring ql.os.find_containing_image. Wired into
	// memory.Manager.SetContainerLookup at boot.
	FindContainingImage(addr uint64) (path string, ok bool)
	// AbnormalTermination is invoked by the interrupt wrapper (§5) when
	// a Run is cancelled; it signals the abnormal-termination event to
	// the OS personality. No partial memory rollback occurs.
	AbnormalTermination(err error)
}

// LoaderComponent is the image loader the dispatcher resolves for the
// "loader" role.
type LoaderComponent interface {
	// Load places image's segments into mem starting from base (0 lets
	// the loader choose, e.g. via mem.MapAnywhere) and returns the
	// guest entry point.
	Load(mem *memory.Manager, image io.ReaderAt, base uint64) (entry uint64, err error)
}

// RegisterFile is the guest register storage the dispatcher resolves
// for the "register" role: one implementation, shared across every
// arch (§4.6: "memory, register: fixed module/symbol pairs").
type RegisterFile interface {
	Get(name string) (uint64, bool)
	Set(name string, value uint64)
	Names() []string
}

// ArchConstructor builds an ArchComponent for ctx.Arch.
type ArchConstructor func(ctx BuildContext) (ArchComponent, error)

// OSConstructor builds an OSComponent for ctx.OS (and, for arch-specific
// variants, ctx.Arch).
type OSConstructor func(ctx BuildContext) (OSComponent, error)

// LoaderConstructor builds a LoaderComponent for the loader family
// implied by ctx.OS.
type LoaderConstructor func(ctx BuildContext) (LoaderComponent, error)

// MemoryConstructor builds the Memory Manager wrapping ctx.Engine.
type MemoryConstructor func(ctx EngineContext) (*memory.Manager, error)

// RegisterConstructor builds a RegisterFile for ctx.
type RegisterConstructor func(ctx EngineContext) (RegisterFile, error)

type namedArchCtor struct {
	name string
	ctor ArchConstructor
}

type osKey struct {
	os   archos.OS
	arch archos.Arch // archos.ArchInvalid means "any arch" (top-level OS personality)
}

type namedOSCtor struct {
	name string
	ctor OSConstructor
}

type namedLoaderCtor struct {
	name string
	ctor LoaderConstructor
}

var registryMu sync.RWMutex

var (
	archRegistry    = map[archos.Arch]namedArchCtor{}
	archByName      = map[string]namedArchCtor{}
	osRegistry      = map[osKey]namedOSCtor{}
	osByName        = map[string]namedOSCtor{}
	loaderRegistry  = map[string]namedLoaderCtor{}
	syscallRegistry = map[osKey]map[uint64]string{}

	memoryCtorName string
	memoryCtor     MemoryConstructor

	registerCtorName string
	registerCtor     RegisterConstructor
)

// RegisterArch registers ctor as the implementation of the "arch" role
// for arch, under the given symbol name. Per §4.6, the x86_64 arch
// shares the x86 module: that one package registers a constructor for
// each of archos.X86 and archos.X8664.
func RegisterArch(arch archos.Arch, name string, ctor ArchConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	nc := namedArchCtor{name: name, ctor: ctor}
	archRegistry[arch] = nc
	archByName[name] = nc
}

// RegisterOS registers ctor as the implementation of the "os" role for
// (os, arch). Pass archos.ArchInvalid for arch to register the
// top-level personality shared across all architectures.
func RegisterOS(os archos.OS, arch archos.Arch, name string, ctor OSConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	nc := namedOSCtor{name: name, ctor: ctor}
	osRegistry[osKey{os, arch}] = nc
	osByName[name] = nc
}

// RegisterLoader registers ctor as the implementation of the loader
// family named loaderStr ("ELF", "MACHO", or "PE").
func RegisterLoader(loaderStr, name string, ctor LoaderConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	loaderRegistry[loaderStr] = namedLoaderCtor{name: name, ctor: ctor}
}

// RegisterSyscallTable registers the syscall-number-to-name table for
// (os, arch).
func RegisterSyscallTable(os archos.OS, arch archos.Arch, table map[uint64]string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	syscallRegistry[osKey{os, arch}] = table
}

// SetMemoryConstructor installs the single implementation of the
// "memory" role.
func SetMemoryConstructor(name string, ctor MemoryConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	memoryCtorName, memoryCtor = name, ctor
}

// SetRegisterConstructor installs the single implementation of the
// "register" role.
func SetRegisterConstructor(name string, ctor RegisterConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registerCtorName, registerCtor = name, ctor
}

func moduleName(role string, arch archos.Arch, os archos.OS) string {
	switch role {
	case "arch":
		return "arch." + archos.ArchString(arch)
	case "os":
		return fmt.Sprintf("os.%s.%s", archos.OSString(os), archos.ArchString(arch))
	case "loader":
		loaderStr, _ := archos.LoaderString(os)
		return "loader." + strings.ToLower(loaderStr)
	case "syscall-table":
		return fmt.Sprintf("os.%s.%s_syscall", archos.OSString(os), archos.ArchString(arch))
	case "memory":
		return "memory.mapping"
	case "register":
		return "register.register"
	default:
		return role
	}
}
