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

package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/vemu/vemu/pkg/engine"
	"github.com/vemu/vemu/pkg/memory"
)

// buildMinimalELF64 assembles a byte-exact ET_EXEC ELF64/x86-64 image
// with a single PT_LOAD segment of payload at vaddr, entry point
// vaddr+0x10 (arbitrary, just distinguishable), without
// relying on any third-party or debug/elf writer — mirroring the way a
// guest loader test in the retrieval pack hand-assembles fixture images
// rather than depending on a second parser to produce them.
func buildMinimalELF64(vaddr uint64, payload []byte) []byte {
	const (
		ehsize = 64
		phsize = 56
	)
	entry := vaddr + 0x10

	var buf bytes.Buffer
	ident := [16]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // e_machine = EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)      // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	dataOff := uint64(ehsize + phsize)
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(5)) // p_flags = R|X
	binary.Write(&buf, binary.LittleEndian, dataOff)   // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)     // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)      // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))       // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadMapsPTLoadSegmentAndReturnsEntry(t *testing.T) {
	const vaddr = 0x400000
	payload := []byte("\x90\x90\x90\x90deadbeef")
	img := buildMinimalELF64(vaddr, payload)

	mem, err := memory.NewManager(engine.NewSimulated(), 64, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	entry, err := Loader{}.Load(mem, bytes.NewReader(img), 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry != vaddr+0x10 {
		t.Fatalf("entry = %x, want %x", entry, vaddr+0x10)
	}

	if !mem.IsMapped(vaddr, 0x1000) {
		t.Fatalf("segment not mapped at %x", vaddr)
	}
	got, err := mem.Read(vaddr, uint64(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read = %v, want %v", got, payload)
	}
}
