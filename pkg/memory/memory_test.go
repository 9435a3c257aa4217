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

package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vemu/vemu/pkg/engine"
	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/vmerror"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(engine.NewSimulated(), 64, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestMapThenIsMappedAndGetMapInfo(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x2000, hostarch.Read|hostarch.Write, "A"); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if !m.IsMapped(0x1000, 0x2000) {
		t.Fatalf("IsMapped = false, want true")
	}
	info := m.GetMapInfo()
	if len(info) != 1 {
		t.Fatalf("GetMapInfo = %+v, want 1 entry", info)
	}
	if info[0].Lo != 0x1000 || info[0].Hi != 0x3000 || info[0].Label != "A" || info[0].PermsStr != "rw-" {
		t.Fatalf("entry = %+v", info[0])
	}
}

func TestMapRejectsDoubleMap(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	err := m.Map(0x1800, 0x1000, hostarch.RWX, "b")
	if !errors.Is(err, vmerror.ErrAlreadyMapped) {
		t.Fatalf("err = %v, want ErrAlreadyMapped", err)
	}
}

func TestUnmapLeavesResiduesWithOriginalPermsAndLabel(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0, 0x4000, hostarch.Read, "X"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.Unmap(0x1000, 0x1000); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if m.IsMapped(0x1000, 0x1000) {
		t.Fatalf("IsMapped(0x1000, 0x1000) = true, want false")
	}

	info := m.GetMapInfo()
	want := []MapInfoEntry{
		{Lo: 0, Hi: 0x1000, PermsStr: "r--", Label: "X"},
		{Lo: 0x2000, Hi: 0x4000, PermsStr: "r--", Label: "X"},
	}
	if len(info) != len(want) {
		t.Fatalf("GetMapInfo = %+v, want %+v", info, want)
	}
	for i := range want {
		if info[i].Lo != want[i].Lo || info[i].Hi != want[i].Hi || info[i].PermsStr != want[i].PermsStr || info[i].Label != want[i].Label {
			t.Fatalf("entry %d = %+v, want %+v", i, info[i], want[i])
		}
	}
}

func TestTwoAdjacentMapsScenario1(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.Read|hostarch.Write, "A"); err != nil {
		t.Fatalf("map A: %v", err)
	}
	if err := m.Map(0x2000, 0x2000, hostarch.Read, "B"); err != nil {
		t.Fatalf("map B: %v", err)
	}
	info := m.GetMapInfo()
	want := []MapInfoEntry{
		{Lo: 0x1000, Hi: 0x2000, PermsStr: "rw-", Label: "A"},
		{Lo: 0x2000, Hi: 0x4000, PermsStr: "r--", Label: "B"},
	}
	if len(info) != len(want) {
		t.Fatalf("GetMapInfo = %+v, want %+v", info, want)
	}
	for i := range want {
		if info[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, info[i], want[i])
		}
	}
}

func TestWriteCStringReadCStringRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.WriteCString(0x1000, "hello", "utf-8"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	got, err := m.ReadCString(0x1000)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadCString = %q, want %q", got, "hello")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	data := []byte{1, 2, 3, 4, 5}
	if err := m.Write(0x1000, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(0x1000, uint64(len(data)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read = %v, want %v", got, data)
	}
}

func TestFindFreeSpaceEmptyMapScenario3(t *testing.T) {
	m := newTestManager(t)
	addr, err := m.FindFreeSpace(0x1000, 0x10000, 0x10000)
	if err != nil {
		t.Fatalf("FindFreeSpace: %v", err)
	}
	if addr != 0x10000 {
		t.Fatalf("FindFreeSpace = %x, want 0x10000", addr)
	}
}

func TestFindFreeSpaceSkipsMappedRegion(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x10000, 0x10000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	addr, err := m.FindFreeSpace(0x1000, 0, 0x10000)
	if err != nil {
		t.Fatalf("FindFreeSpace: %v", err)
	}
	if addr < 0x20000 {
		t.Fatalf("FindFreeSpace = %x, overlaps the existing mapping", addr)
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x2000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.Write(0x1000, []byte("deadbeef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := m.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, err := NewManager(engine.NewSimulated(), 64, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := fresh.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for _, e := range m.GetMapInfo() {
		want, err := m.Read(e.Lo, e.Hi-e.Lo)
		if err != nil {
			t.Fatalf("Read original: %v", err)
		}
		got, err := fresh.Read(e.Lo, e.Hi-e.Lo)
		if err != nil {
			t.Fatalf("Read restored: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("restored bytes at %x = %v, want %v", e.Lo, got, want)
		}
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.Write(0x1000, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := m.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Restore(snap); err != nil {
		t.Fatalf("first restore: %v", err)
	}
	if err := m.Restore(snap); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	got, err := m.Read(0x1000, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Read = %q, want %q", got, "abc")
	}
}

func TestSearchFindsAllNonOverlappingMatches(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.RWX, "a"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := m.Write(0x1000, []byte("xxABCxxABCxx")); err != nil {
		t.Fatalf("write: %v", err)
	}
	begin, end := uint64(0x1000), uint64(0x100c)
	got, err := m.Search([]byte("ABC"), &begin, &end)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []uint64{0x1002, 0x1007}
	if len(got) != len(want) {
		t.Fatalf("Search = %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Search[%d] = %x, want %x", i, got[i], want[i])
		}
	}
}

func TestGetLibBaseMatchesBasename(t *testing.T) {
	m := newTestManager(t)
	if err := m.Map(0x1000, 0x1000, hostarch.Read, "/lib/x86_64-linux-gnu/libc.so.6"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if base := m.GetLibBase("libc.so.6"); base != 0x1000 {
		t.Fatalf("GetLibBase = %x, want 0x1000", base)
	}
	if base := m.GetLibBase("nope.so"); base != -1 {
		t.Fatalf("GetLibBase(nope.so) = %x, want -1", base)
	}
}
