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

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vemu/vemu/pkg/hostarch"
)

// NewAnonHostBuffer allocates a page-aligned, anonymous host buffer
// through a real mmap(2) call, suitable for passing as the hostPtr
// argument to Adapter.MapPagesPtr. This is what lets a loader map a
// guest's file-backed segments onto host pages it owns directly, rather
// than through the engine's own page pool (compare
// pkg/sentry/platform/kvm's host-memory-backed guest physical pages).
func NewAnonHostBuffer(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("host buffer size must be positive, got %d", size)
	}
	rounded := int(hostarch.PageRoundedLen(0, uint64(size)))
	buf, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous host buffer (size 0x%x): %w", rounded, err)
	}
	return buf[:size], nil
}

// FreeHostBuffer releases a buffer previously returned by
// NewAnonHostBuffer.
func FreeHostBuffer(buf []byte) error {
	if buf == nil {
		return nil
	}
	rounded := int(hostarch.PageRoundedLen(0, uint64(len(buf))))
	return unix.Munmap(buf[:rounded])
}
