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

// Package arm64 is the "arch" role for ARM64.
package arm64

import (
	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
)

// Core is the minimal ArchComponent for 64-bit ARM.
type Core struct{}

func (Core) Name() string { return archos.ArchString(archos.ARM64) }
func (Core) Bits() int    { return 64 }

func init() {
	dispatch.RegisterArch(archos.ARM64, "QlArchARM64", func(dispatch.BuildContext) (dispatch.ArchComponent, error) {
		return Core{}, nil
	})
}
