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

// Package vmerror defines the sentinel error taxonomy shared by every
// component of the emulation core. Components never recover from these;
// they diagnose (log) and propagate.
package vmerror

import "errors"

var (
	// ErrInvalidArch is returned when a tag names an architecture outside
	// the supported set.
	ErrInvalidArch = errors.New("invalid architecture")

	// ErrInvalidOS is returned when a tag names an OS outside the
	// supported set.
	ErrInvalidOS = errors.New("invalid operating system")

	// ErrUnsupportedConversion is returned when an archbit or pointer
	// size falls outside the set this implementation can reason about.
	ErrUnsupportedConversion = errors.New("unsupported struct conversion")

	// ErrAlreadyMapped is returned by Map when any byte of the requested
	// range is already mapped.
	ErrAlreadyMapped = errors.New("memory mapped already")

	// ErrOutOfMemory is returned when no fitting gap can be located.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrNotMapped is returned when an engine operation targets an
	// unmapped address.
	ErrNotMapped = errors.New("address not mapped")

	// ErrModuleNotFound is returned by the dispatcher when no registry
	// entry exists for a requested role/arch/os triple.
	ErrModuleNotFound = errors.New("module not found")

	// ErrFunctionNotFound is returned by the dispatcher when a registry
	// entry exists but the requested symbol within it does not.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrUnknownOS is returned by the sniffer when an image cannot be
	// classified by any of the supported container formats.
	ErrUnknownOS = errors.New("unknown OS")

	// ErrAbnormalTermination wraps a Run that stopped via panic,
	// cancellation, or interrupt rather than a normal return (§5).
	ErrAbnormalTermination = errors.New("abnormal termination")
)
