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

// Package register implements the "register" role: a single, arch-
// independent guest register file keyed by name rather than by a fixed
// per-arch struct layout, per §4.6 ("memory, register: fixed
// module/symbol pairs" — one implementation serves every architecture).
package register

import (
	"sync"

	"github.com/vemu/vemu/pkg/dispatch"
)

// File is a guest register file: a set of named 64-bit slots. Callers
// truncate to the guest's native width themselves; File does not know
// which names exist for which arch.
type File struct {
	mu   sync.RWMutex
	regs map[string]uint64
}

// New returns an empty File.
func New() *File {
	return &File{regs: make(map[string]uint64)}
}

// Get returns the value of the named register, and whether it has ever
// been set.
func (f *File) Get(name string) (uint64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.regs[name]
	return v, ok
}

// Set stores value under name, creating the slot if it does not exist.
func (f *File) Set(name string, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[name] = value
}

// Names returns every register name that has been Set, in no particular
// order.
func (f *File) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.regs))
	for n := range f.regs {
		names = append(names, n)
	}
	return names
}

func init() {
	dispatch.SetRegisterConstructor("QlRegisterFile", func(dispatch.EngineContext) (dispatch.RegisterFile, error) {
		return New(), nil
	})
}
