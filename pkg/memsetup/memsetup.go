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

// Package memsetup registers the "memory" role's single fixed
// implementation (§4.6: "memory, register: fixed module/symbol pairs" —
// one implementation serves every architecture and OS). It exists
// separately from pkg/memory itself because pkg/dispatch already
// imports pkg/memory for the *memory.Manager return type, so pkg/memory
// registering itself against pkg/dispatch would be a cyclic import; this
// package sits above both, the same way pkg/register sits above the
// "register" role it registers.
package memsetup

import (
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/memory"
)

func init() {
	dispatch.SetMemoryConstructor("QlMemoryMapping", func(ctx dispatch.EngineContext) (*memory.Manager, error) {
		return memory.NewManager(ctx.Engine, ctx.ArchBits, nil)
	})
}
