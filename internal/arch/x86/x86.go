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

// Package x86 is the "arch" role for X86 and X8664. Per §4.6 the two
// architectures share the same module; it self-registers for both tags
// in init.
package x86

import (
	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
)

// Core is the minimal ArchComponent for the x86 family: register-layout
// metadata only, no instruction emulation (§1 Non-goals).
type Core struct {
	name string
	bits int
}

func (c *Core) Name() string { return c.name }
func (c *Core) Bits() int    { return c.bits }

func newCore(bits int) func(dispatch.BuildContext) (dispatch.ArchComponent, error) {
	return func(ctx dispatch.BuildContext) (dispatch.ArchComponent, error) {
		return &Core{name: archos.ArchString(ctx.Arch), bits: bits}, nil
	}
}

func init() {
	dispatch.RegisterArch(archos.X86, "QlArchX86", newCore(32))
	dispatch.RegisterArch(archos.X8664, "QlArchX8664", newCore(64))
}
