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
	"sort"
	"sync"

	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/vmerror"
)

type mapping struct {
	start, end uint64
	perms      hostarch.Perms
	backing    []byte // len == end-start
	external   bool   // true if backing is caller-owned (MapPagesPtr)
}

// Simulated is a reference Adapter backed by plain Go byte slices. It
// coalesces adjacent mappings that share identical permissions, the way
// a real MMU/emulator typically reports merged regions through its own
// region-enumeration call.
type Simulated struct {
	mu   sync.Mutex
	maps []*mapping // sorted by start, non-overlapping
}

// NewSimulated returns an empty Simulated adapter.
func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) find(addr uint64) int {
	return sort.Search(len(s.maps), func(i int) bool { return s.maps[i].end > addr })
}

func (s *Simulated) overlaps(addr, size uint64) bool {
	end := addr + size
	i := s.find(addr)
	return i < len(s.maps) && s.maps[i].start < end
}

func (s *Simulated) insert(m *mapping) {
	i := sort.Search(len(s.maps), func(i int) bool { return s.maps[i].start >= m.start })
	s.maps = append(s.maps, nil)
	copy(s.maps[i+1:], s.maps[i:])
	s.maps[i] = m
	s.coalesce()
}

// coalesce merges adjacent engine-owned mappings with identical perms so
// Regions() reports the same shape a real engine would. Mappings backed
// by a caller-owned buffer (MapPagesPtr) are never merged.
func (s *Simulated) coalesce() {
	out := s.maps[:0]
	for _, m := range s.maps {
		if n := len(out); n > 0 && out[n-1].end == m.start && out[n-1].perms == m.perms && out[n-1].external == m.external && !out[n-1].external {
			out[n-1].end = m.end
			out[n-1].backing = append(out[n-1].backing, m.backing...)
			continue
		}
		out = append(out, m)
	}
	s.maps = out
}

func (s *Simulated) MapPages(addr, size uint64, perms hostarch.Perms) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overlaps(addr, size) {
		return fmt.Errorf("map_pages 0x%x (size 0x%x): %w", addr, size, vmerror.ErrAlreadyMapped)
	}
	s.insert(&mapping{start: addr, end: addr + size, perms: perms, backing: make([]byte, size)})
	return nil
}

func (s *Simulated) MapPagesPtr(addr, size uint64, perms hostarch.Perms, hostPtr []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(len(hostPtr)) < size {
		return fmt.Errorf("map_pages_ptr 0x%x: host buffer shorter than size", addr)
	}
	if s.overlaps(addr, size) {
		return fmt.Errorf("map_pages_ptr 0x%x (size 0x%x): %w", addr, size, vmerror.ErrAlreadyMapped)
	}
	s.insert(&mapping{start: addr, end: addr + size, perms: perms, backing: hostPtr[:size], external: true})
	return nil
}

func (s *Simulated) UnmapPages(addr, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := addr + size
	var out []*mapping
	for _, m := range s.maps {
		switch {
		case m.end <= addr || m.start >= end:
			out = append(out, m)
		default:
			if m.start < addr {
				out = append(out, &mapping{start: m.start, end: addr, perms: m.perms, backing: m.backing[:addr-m.start], external: m.external})
			}
			if m.end > end {
				out = append(out, &mapping{start: end, end: m.end, perms: m.perms, backing: m.backing[end-m.start:], external: m.external})
			}
		}
	}
	s.maps = out
	return nil
}

func (s *Simulated) ProtectPages(addr, size uint64, perms hostarch.Perms) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := addr + size
	var out []*mapping
	for _, m := range s.maps {
		switch {
		case m.end <= addr || m.start >= end:
			out = append(out, m)
		case m.start >= addr && m.end <= end:
			m.perms = perms
			out = append(out, m)
		default:
			if m.start < addr {
				out = append(out, &mapping{start: m.start, end: addr, perms: m.perms, backing: m.backing[:addr-m.start], external: m.external})
			}
			lo, hi := addr, end
			if m.start > lo {
				lo = m.start
			}
			if m.end < hi {
				hi = m.end
			}
			out = append(out, &mapping{start: lo, end: hi, perms: perms, backing: m.backing[lo-m.start : hi-m.start], external: m.external})
			if m.end > end {
				out = append(out, &mapping{start: end, end: m.end, perms: m.perms, backing: m.backing[end-m.start:], external: m.external})
			}
		}
	}
	s.maps = out
	s.coalesce()
	return nil
}

func (s *Simulated) ReadBytes(addr, size uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, size)
	remaining := size
	cur := addr
	for remaining > 0 {
		i := s.find(cur)
		if i >= len(s.maps) || s.maps[i].start > cur {
			return nil, fmt.Errorf("read 0x%x: %w", cur, vmerror.ErrNotMapped)
		}
		m := s.maps[i]
		n := m.end - cur
		if n > remaining {
			n = remaining
		}
		copy(out[size-remaining:], m.backing[cur-m.start:cur-m.start+n])
		cur += n
		remaining -= n
	}
	return out, nil
}

func (s *Simulated) WriteBytes(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := uint64(len(data))
	cur := addr
	for remaining > 0 {
		i := s.find(cur)
		if i >= len(s.maps) || s.maps[i].start > cur {
			return fmt.Errorf("write 0x%x: %w", cur, vmerror.ErrNotMapped)
		}
		m := s.maps[i]
		n := m.end - cur
		if n > remaining {
			n = remaining
		}
		copy(m.backing[cur-m.start:cur-m.start+n], data[uint64(len(data))-remaining:])
		cur += n
		remaining -= n
	}
	return nil
}

func (s *Simulated) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Region, len(s.maps))
	for i, m := range s.maps {
		out[i] = Region{Start: m.start, End: m.end, Perms: m.perms}
	}
	return out
}
