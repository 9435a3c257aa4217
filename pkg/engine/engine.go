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

// Package engine defines the Engine Adapter (C1): the thin contract the
// Memory Manager programs against, and a reference, in-process
// implementation. The real contract is delegated to the CPU/memory
// emulator this framework hosts (out of scope per spec.md §1); the
// reference implementation here stands in for it the way a fake
// platform stands in for pkg/sentry/platform/{kvm,systrap} in tests.
package engine

import (
	"github.com/vemu/vemu/pkg/hostarch"
)

// Region is one engine-known mapping, as enumerated by Regions(). Unlike
// mapindex.RangeEntry, regions carry no label: they describe what the
// engine itself has mapped, not the logical semantics layered on top.
type Region struct {
	Start, End uint64
	Perms      hostarch.Perms
}

// Adapter is the contract the Memory Manager (C3) programs against. All
// addresses and sizes are multiples of hostarch.PageSize. Implementations
// must fail with a distinguishable error (vmerror.ErrNotMapped) when an
// unmapped address is read or written.
type Adapter interface {
	// MapPages reserves [addr, addr+size) with the given permissions.
	MapPages(addr, size uint64, perms hostarch.Perms) error

	// MapPagesPtr maps [addr, addr+size) backed by an externally-owned
	// host buffer. The adapter does not copy hostPtr; the caller retains
	// ownership and must keep it alive for the lifetime of the mapping.
	MapPagesPtr(addr, size uint64, perms hostarch.Perms, hostPtr []byte) error

	// UnmapPages releases [addr, addr+size).
	UnmapPages(addr, size uint64) error

	// ProtectPages changes permissions on already-mapped pages.
	ProtectPages(addr, size uint64, perms hostarch.Perms) error

	// ReadBytes reads size bytes starting at addr.
	ReadBytes(addr, size uint64) ([]byte, error)

	// WriteBytes writes data starting at addr.
	WriteBytes(addr uint64, data []byte) error

	// Regions enumerates engine-known mappings, sorted by Start.
	Regions() []Region
}
