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

// Package heap implements the Heap (C4): a bump-with-free-list
// allocator carved from a fixed [start, end) window, calling into a
// Memory Manager for page mapping as it grows. It is intentionally
// minimal: guest programs rarely free, and a compacting allocator would
// lose byte-identity across snapshots (§4.4).
package heap

import (
	"sort"
	"sync"

	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/memory"
)

// Chunk is one allocation record.
type Chunk struct {
	Address uint64
	Size    uint64
	InUse   bool
}

// AllocRecord is one backing map() call made to extend the heap.
type AllocRecord struct {
	Addr uint64
	Size uint64
}

// Heap is the Heap (C4).
type Heap struct {
	mu sync.Mutex

	mem      *memory.Manager
	start    uint64
	end      uint64
	pageSize uint64

	currentAlloc uint64
	currentUse   uint64
	chunks       []Chunk
	memAlloc     []AllocRecord

	log *logrus.Entry
}

// New returns a Heap carved from [start, end), backed by mem.
func New(mem *memory.Manager, start, end uint64, log *logrus.Entry) *Heap {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Heap{
		mem:      mem,
		start:    start,
		end:      end,
		pageSize: hostarch.PageSize,
		log:      log.WithField("component", "heap"),
	}
}

// Alloc reserves size bytes and returns their address, or 0 on OOM
// (§4.4). It first tries to reuse a freed chunk strictly larger than
// size (best-fit-by-size, preserved as strict "greater than" rather
// than "greater than or equal to" — a chunk of exactly size is never
// reused, per §9).
func (h *Heap) Alloc(size uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	sort.Slice(h.chunks, func(i, j int) bool { return h.chunks[i].Size < h.chunks[j].Size })
	for i := range h.chunks {
		c := &h.chunks[i]
		if !c.InUse && c.Size > size {
			c.InUse = true
			return c.Address
		}
	}

	if h.currentUse+size > h.currentAlloc {
		realSize, err := hostarch.Align(size, h.pageSize, h.mem.ArchBits())
		if err != nil {
			h.log.WithError(err).Error("align allocation size")
			return 0
		}
		if h.start+h.currentAlloc+realSize > h.end {
			h.log.WithField("size", size).Debug("heap out of memory")
			return 0
		}
		if err := h.mem.Map(h.start+h.currentAlloc, realSize, hostarch.RWX, "[heap]"); err != nil {
			h.log.WithError(err).Error("map heap extension")
			return 0
		}
		h.memAlloc = append(h.memAlloc, AllocRecord{Addr: h.start + h.currentAlloc, Size: realSize})

		// NOTE: this placement does not check for overlap with any
		// existing still-in-use chunk between currentUse and
		// currentUse+size — a known, intentionally preserved gap (§9).
		addr := h.start + h.currentUse
		h.chunks = append(h.chunks, Chunk{Address: addr, Size: size, InUse: true})
		h.currentAlloc += realSize
		h.currentUse += size
		return addr
	}

	addr := h.start + h.currentUse
	h.chunks = append(h.chunks, Chunk{Address: addr, Size: size, InUse: true})
	h.currentUse += size
	return addr
}

// Free marks the in-use chunk at addr as freed. It returns false if no
// in-use chunk starts at addr — including when addr was already freed.
func (h *Heap) Free(addr uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.chunks {
		if h.chunks[i].Address == addr && h.chunks[i].InUse {
			h.chunks[i].InUse = false
			return true
		}
	}
	return false
}

// Size returns the size of the in-use chunk at addr, or 0.
func (h *Heap) Size(addr uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.chunks {
		if c.Address == addr && c.InUse {
			return c.Size
		}
	}
	return 0
}

// Clear marks every chunk freed, unmaps every page extension the heap
// ever made, and resets its counters.
func (h *Heap) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.chunks {
		h.chunks[i].InUse = false
	}
	for _, rec := range h.memAlloc {
		if err := h.mem.Unmap(rec.Addr, rec.Size); err != nil {
			return err
		}
	}
	h.memAlloc = nil
	h.currentAlloc = 0
	h.currentUse = 0
	return nil
}

// State is the full serializable heap state (§3), sufficient to
// reconstruct a Heap's bookkeeping (though not its backing pages, which
// are restored through the owning Manager's own snapshot).
type State struct {
	Start        uint64
	End          uint64
	PageSize     uint64
	CurrentAlloc uint64
	CurrentUse   uint64
	Chunks       []Chunk
	MemAlloc     []AllocRecord
}

// Save captures the heap's bookkeeping state.
func (h *Heap) Save() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return State{
		Start:        h.start,
		End:          h.end,
		PageSize:     h.pageSize,
		CurrentAlloc: h.currentAlloc,
		CurrentUse:   h.currentUse,
		Chunks:       append([]Chunk(nil), h.chunks...),
		MemAlloc:     append([]AllocRecord(nil), h.memAlloc...),
	}
}

// Restore replaces the heap's bookkeeping state with a deep copy of s.
func (h *Heap) Restore(s State) {
	copied := deepcopy.Copy(s).(State)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.start = copied.Start
	h.end = copied.End
	h.pageSize = copied.PageSize
	h.currentAlloc = copied.CurrentAlloc
	h.currentUse = copied.CurrentUse
	h.chunks = copied.Chunks
	h.memAlloc = copied.MemAlloc
}
