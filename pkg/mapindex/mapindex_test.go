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

package mapindex

import (
	"path"
	"testing"

	"github.com/vemu/vemu/pkg/hostarch"
)

func TestInsertIntoEmpty(t *testing.T) {
	idx := New()
	idx.Insert(0x1000, 0x2000, hostarch.RWX, "a")

	entries := idx.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0] != (RangeEntry{0x1000, 0x2000, hostarch.RWX, "a"}) {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestInsertSplitsOverlappingResidue(t *testing.T) {
	idx := New()
	idx.Insert(0x1000, 0x4000, hostarch.Read, "a")
	idx.Insert(0x2000, 0x3000, hostarch.Write, "b")

	want := []RangeEntry{
		{0x1000, 0x2000, hostarch.Read, "a"},
		{0x2000, 0x3000, hostarch.Write, "b"},
		{0x3000, 0x4000, hostarch.Read, "a"},
	}
	got := idx.Entries()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestInsertFullyReplacesCoveredEntry(t *testing.T) {
	idx := New()
	idx.Insert(0x2000, 0x3000, hostarch.Read, "old")
	idx.Insert(0x1000, 0x4000, hostarch.RWX, "new")

	got := idx.Entries()
	if len(got) != 1 || got[0].Label != "new" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestDeleteSplitsOverlappingResidue(t *testing.T) {
	idx := New()
	idx.Insert(0x1000, 0x4000, hostarch.RWX, "a")
	idx.Delete(0x2000, 0x3000)

	want := []RangeEntry{
		{0x1000, 0x2000, hostarch.RWX, "a"},
		{0x3000, 0x4000, hostarch.RWX, "a"},
	}
	got := idx.Entries()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDeleteFullyRemovesCoveredEntry(t *testing.T) {
	idx := New()
	idx.Insert(0x1000, 0x2000, hostarch.RWX, "a")
	idx.Delete(0x1000, 0x2000)

	if got := idx.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestEntriesOrderedByStart(t *testing.T) {
	idx := New()
	idx.Insert(0x5000, 0x6000, hostarch.Read, "c")
	idx.Insert(0x1000, 0x2000, hostarch.Read, "a")
	idx.Insert(0x3000, 0x4000, hostarch.Read, "b")

	got := idx.Entries()
	for i := 1; i < len(got); i++ {
		if got[i-1].Start >= got[i].Start {
			t.Fatalf("entries not sorted by Start: %+v", got)
		}
	}
}

func TestFirstByLabelBasename(t *testing.T) {
	idx := New()
	idx.Insert(0x1000, 0x2000, hostarch.Read, "/lib/libc.so")
	idx.Insert(0x2000, 0x3000, hostarch.Read, "/bin/a.out")

	start, ok := idx.FirstByLabelBasename(path.Base, "libc.so")
	if !ok || start != 0x1000 {
		t.Fatalf("FirstByLabelBasename = (%x, %v), want (0x1000, true)", start, ok)
	}

	if _, ok := idx.FirstByLabelBasename(path.Base, "nope.so"); ok {
		t.Fatalf("FirstByLabelBasename matched when it should not have")
	}
}
