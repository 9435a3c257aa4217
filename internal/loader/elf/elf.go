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

// Package elf is the "loader" role for the ELF family (Linux, FreeBSD).
// It walks PT_LOAD segments with the standard library's debug/elf parser
// and maps each one into a Memory Manager, mirroring ql.loader.elf's
// segment walk without the symbol-relocation machinery that is out of
// scope here (§1 Non-goals).
package elf

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/memory"
)

// Loader is the ELF LoaderComponent.
type Loader struct{}

// Load maps every PT_LOAD segment of image into mem. If base is 0 and
// the image is position-independent (ET_DYN), a load base is chosen via
// mem.MapAnywhere sized to the image's full virtual span; otherwise base
// is added to each segment's on-disk virtual address as-is.
func (Loader) Load(mem *memory.Manager, image io.ReaderAt, base uint64) (uint64, error) {
	f, err := elf.NewFile(image)
	if err != nil {
		return 0, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	loadBase := base
	if f.Type == elf.ET_DYN && loadBase == 0 {
		lo, hi := ^uint64(0), uint64(0)
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD {
				continue
			}
			if p.Vaddr < lo {
				lo = p.Vaddr
			}
			if end := p.Vaddr + p.Memsz; end > hi {
				hi = end
			}
		}
		if hi <= lo {
			return 0, fmt.Errorf("elf image has no PT_LOAD segments")
		}
		span := hostarch.PageRoundedLen(lo, hi-lo)
		addr, err := mem.MapAnywhere(span, 0, hostarch.PageSize)
		if err != nil {
			return 0, fmt.Errorf("reserve elf load base: %w", err)
		}
		loadBase = addr - hostarch.PageAlignDown(lo)
	}

	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		vaddr := loadBase + p.Vaddr
		start := hostarch.PageAlignDown(vaddr)
		span := hostarch.PageRoundedLen(vaddr, p.Memsz)

		perms := permsOf(p.Flags)
		if !mem.IsMapped(start, span) {
			if err := mem.Map(start, span, perms, segmentLabel(i)); err != nil {
				return 0, fmt.Errorf("map elf segment %d: %w", i, err)
			}
		}

		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil && err != io.EOF {
			return 0, fmt.Errorf("read elf segment %d: %w", i, err)
		}
		if len(data) > 0 {
			if err := mem.Write(vaddr, data); err != nil {
				return 0, fmt.Errorf("write elf segment %d: %w", i, err)
			}
		}
	}

	return loadBase + f.Entry, nil
}

func permsOf(flags elf.ProgFlag) hostarch.Perms {
	var p hostarch.Perms
	if flags&elf.PF_R != 0 {
		p |= hostarch.Read
	}
	if flags&elf.PF_W != 0 {
		p |= hostarch.Write
	}
	if flags&elf.PF_X != 0 {
		p |= hostarch.Exec
	}
	return p
}

func segmentLabel(i int) string {
	return fmt.Sprintf("[elf-segment-%d]", i)
}

func init() {
	register := func(ctx dispatch.BuildContext) (dispatch.LoaderComponent, error) {
		return Loader{}, nil
	}
	dispatch.RegisterLoader(mustLoaderString(archos.Linux), "QlLoaderELF", register)
}

func mustLoaderString(o archos.OS) string {
	s, err := archos.LoaderString(o)
	if err != nil {
		panic(err)
	}
	return s
}
