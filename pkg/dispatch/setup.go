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
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/memory"
	"github.com/vemu/vemu/pkg/vmerror"
)

var log = logrus.WithField("component", "dispatch")

// Overrides lets an embedder redirect a role to an alternate,
// already-registered implementation by name — the statically-typed
// analogue of pointing the original dynamic importer at a different
// module path (§9). Overrides cannot name code that was never compiled
// in; they can only pick among registered plug-ins.
type Overrides struct {
	// Remap keys are "<role>:<arch>[:<os>]", e.g. "arch:x8664" or
	// "os:x8664:linux". Values are the name a plug-in registered itself
	// under.
	Remap map[string]string `toml:"remap"`
}

var overridesGroup singleflight.Group

// LoadOverrides parses a TOML overrides file. Concurrent calls for the
// same path are collapsed into a single read+parse via singleflight,
// since the result is immutable and safe to share.
func LoadOverrides(path string) (*Overrides, error) {
	v, err, _ := overridesGroup.Do(path, func() (interface{}, error) {
		var o Overrides
		if _, err := toml.DecodeFile(path, &o); err != nil {
			return nil, fmt.Errorf("load dispatcher overrides %s: %w", path, err)
		}
		return &o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Overrides), nil
}

func remapKey(role string, arch archos.Arch, os archos.OS) string {
	if os == archos.OSInvalid {
		return fmt.Sprintf("%s:%s", role, archos.ArchString(arch))
	}
	return fmt.Sprintf("%s:%s:%s", role, archos.ArchString(arch), archos.OSString(os))
}

// SetupArch resolves and constructs the "arch" role for ctx.Arch.
func SetupArch(ctx BuildContext, overrides *Overrides) (ArchComponent, error) {
	mod, sym := resolveArch(ctx.Arch, overrides)
	log.WithFields(logrus.Fields{"module": mod, "symbol": sym}).Debug("resolving arch component")

	registryMu.RLock()
	nc, ok := archRegistry[ctx.Arch]
	if sym != "" {
		if byName, okName := archByName[sym]; okName {
			nc, ok = byName, true
		} else if ok {
			registryMu.RUnlock()
			return nil, fmt.Errorf("arch override %q for %s: %w", sym, mod, vmerror.ErrFunctionNotFound)
		}
	}
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	return nc.ctor(ctx)
}

func resolveArch(arch archos.Arch, overrides *Overrides) (mod, sym string) {
	mod = moduleName("arch", arch, archos.OSInvalid)
	if overrides != nil {
		sym = overrides.Remap[remapKey("arch", arch, archos.OSInvalid)]
	}
	return mod, sym
}

// SetupOS resolves and constructs the "os" role for (ctx.OS, ctx.Arch),
// falling back to the top-level (arch-independent) personality if no
// arch-specific variant is registered.
func SetupOS(ctx BuildContext, overrides *Overrides) (OSComponent, error) {
	mod := moduleName("os", ctx.Arch, ctx.OS)
	var sym string
	if overrides != nil {
		sym = overrides.Remap[remapKey("os", ctx.Arch, ctx.OS)]
	}
	log.WithFields(logrus.Fields{"module": mod, "symbol": sym}).Debug("resolving os component")

	registryMu.RLock()
	nc, ok := osRegistry[osKey{ctx.OS, ctx.Arch}]
	if !ok {
		nc, ok = osRegistry[osKey{ctx.OS, archos.ArchInvalid}]
	}
	if sym != "" {
		if byName, okName := osByName[sym]; okName {
			nc, ok = byName, true
		} else if ok {
			registryMu.RUnlock()
			return nil, fmt.Errorf("os override %q for %s: %w", sym, mod, vmerror.ErrFunctionNotFound)
		}
	}
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	return nc.ctor(ctx)
}

// SetupLoader resolves and constructs the "loader" role for the loader
// family implied by ctx.OS (ELF for Linux/FreeBSD, MACHO for MacOS, PE
// for Windows).
func SetupLoader(ctx BuildContext, overrides *Overrides) (LoaderComponent, error) {
	loaderStr, err := archos.LoaderString(ctx.OS)
	if err != nil {
		return nil, err
	}
	mod := moduleName("loader", ctx.Arch, ctx.OS)
	log.WithFields(logrus.Fields{"module": mod, "loader": loaderStr}).Debug("resolving loader component")

	registryMu.RLock()
	nc, ok := loaderRegistry[loaderStr]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	return nc.ctor(ctx)
}

// SetupMemory resolves and constructs the "memory" role: one fixed
// implementation, wrapping ctx.Engine.
func SetupMemory(ctx EngineContext) (*memory.Manager, error) {
	mod := moduleName("memory", ctx.Arch, ctx.OS)
	registryMu.RLock()
	ctor, name := memoryCtor, memoryCtorName
	registryMu.RUnlock()
	if ctor == nil {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	log.WithFields(logrus.Fields{"module": mod, "symbol": name}).Debug("resolving memory component")
	return ctor(ctx)
}

// SetupRegister resolves and constructs the "register" role: one fixed
// implementation shared by every arch.
func SetupRegister(ctx EngineContext) (RegisterFile, error) {
	mod := moduleName("register", ctx.Arch, ctx.OS)
	registryMu.RLock()
	ctor, name := registerCtor, registerCtorName
	registryMu.RUnlock()
	if ctor == nil {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	log.WithFields(logrus.Fields{"module": mod, "symbol": name}).Debug("resolving register component")
	return ctor(ctx)
}

// SetupSyscallTable resolves the syscall-number-to-name table for
// (os, arch).
func SetupSyscallTable(arch archos.Arch, os archos.OS) (map[uint64]string, error) {
	mod := moduleName("syscall-table", arch, os)
	registryMu.RLock()
	table, ok := syscallRegistry[osKey{os, arch}]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", mod, vmerror.ErrModuleNotFound)
	}
	return table, nil
}

// SetupComponent resolves an arbitrary role by name, for the embedding
// API's setup_component(role) (§6). Roles requiring a *memory.Manager
// (arch, os, loader) need ctx.Memory populated; memory and register do
// not.
func SetupComponent(role string, ctx BuildContext, overrides *Overrides) (interface{}, error) {
	switch role {
	case "arch":
		return SetupArch(ctx, overrides)
	case "os":
		return SetupOS(ctx, overrides)
	case "loader":
		return SetupLoader(ctx, overrides)
	case "memory":
		return SetupMemory(ctx.EngineContext)
	case "register":
		return SetupRegister(ctx.EngineContext)
	case "syscall-table":
		return SetupSyscallTable(ctx.Arch, ctx.OS)
	default:
		return nil, fmt.Errorf("component role %q: %w", role, vmerror.ErrModuleNotFound)
	}
}
