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

// Package mapindex implements the Map Index (C2): an ordered,
// non-overlapping list of logical range entries kept alongside — but
// independent of — the engine's own notion of mapped pages.
//
// Unlike gVisor's pkg/sentry/memmap interval sets, which merge and split
// segments to maintain a minimal representation, this index is
// deliberately destructive: Insert replaces whatever falls inside the
// new range wholesale, and labels of otherwise-identical adjacent
// entries are never merged, because labels carry meaning (§4.2).
package mapindex

import (
	"sync"

	"github.com/google/btree"

	"github.com/vemu/vemu/pkg/hostarch"
)

// RangeEntry is one logical allocation: [Start, End) with permissions
// and a label. Start and End are page-aligned; Start < End.
type RangeEntry struct {
	Start, End uint64
	Perms      hostarch.Perms
	Label      string
}

func less(a, b RangeEntry) bool {
	return a.Start < b.Start
}

// Index is an ordered, non-overlapping sequence of RangeEntry values,
// sorted by Start. It is safe for concurrent use.
type Index struct {
	mu sync.RWMutex
	t  *btree.BTreeG[RangeEntry]
}

// New returns an empty Index.
func New() *Index {
	return &Index{t: btree.NewG(32, less)}
}

func (idx *Index) entriesLocked() []RangeEntry {
	out := make([]RangeEntry, 0, idx.t.Len())
	idx.t.Ascend(func(e RangeEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (idx *Index) rebuildLocked(entries []RangeEntry) {
	idx.t.Clear(false)
	for _, e := range entries {
		idx.t.ReplaceOrInsert(e)
	}
}

// Insert adds [ms, me) with the given perms and label, destructively
// replacing any overlapping region: the new entry wins within [ms, me).
// Left/right residues of partially-overlapping survivors are preserved
// with their original perms and label. See §4.2.
func (idx *Index) Insert(ms, me uint64, perms hostarch.Perms, label string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing := idx.entriesLocked()
	out := make([]RangeEntry, 0, len(existing)+2)
	inserted := false

	for _, cur := range existing {
		switch {
		case cur.End <= ms:
			// Entirely left: keep verbatim.
			out = append(out, cur)

		case cur.Start >= me:
			// Entirely right: emit the new entry first, once.
			if !inserted {
				out = append(out, RangeEntry{ms, me, perms, label})
				inserted = true
			}
			out = append(out, cur)

		default:
			// Overlapping.
			if cur.Start < ms {
				out = append(out, RangeEntry{cur.Start, ms, cur.Perms, cur.Label})
			}
			if !inserted {
				out = append(out, RangeEntry{ms, me, perms, label})
				inserted = true
			}
			if cur.End > me {
				out = append(out, RangeEntry{me, cur.End, cur.Perms, cur.Label})
			}
		}
	}

	if !inserted {
		out = append(out, RangeEntry{ms, me, perms, label})
	}

	idx.rebuildLocked(out)
}

// Delete removes [ms, me) from the index. Only left/right residues of
// overlapping entries survive; no new entry is ever emitted.
func (idx *Index) Delete(ms, me uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing := idx.entriesLocked()
	out := make([]RangeEntry, 0, len(existing)+1)

	for _, cur := range existing {
		switch {
		case cur.End <= ms:
			out = append(out, cur)
		case cur.Start >= me:
			out = append(out, cur)
		default:
			if cur.Start < ms {
				out = append(out, RangeEntry{cur.Start, ms, cur.Perms, cur.Label})
			}
			if cur.End > me {
				out = append(out, RangeEntry{me, cur.End, cur.Perms, cur.Label})
			}
		}
	}

	idx.rebuildLocked(out)
}

// Entries returns a snapshot of the index, sorted by Start.
func (idx *Index) Entries() []RangeEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entriesLocked()
}

// Len returns the number of entries currently in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.t.Len()
}

// FirstByLabelBasename returns the Start address of the first entry
// whose label's basename equals filename, and true. If none matches, it
// returns (0, false). Used by Manager.GetLibBase.
func (idx *Index) FirstByLabelBasename(basename func(string) string, filename string) (uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	found := uint64(0)
	ok := false
	idx.t.Ascend(func(e RangeEntry) bool {
		if basename(e.Label) == filename {
			found, ok = e.Start, true
			return false
		}
		return true
	})
	return found, ok
}
