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

// Package macho is the "loader" role for MacOS, walking __TEXT/__DATA
// style segments with the standard library's debug/macho parser.
package macho

import (
	"debug/macho"
	"fmt"
	"io"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/memory"
)

// Loader is the Mach-O LoaderComponent.
type Loader struct{}

// Load maps every segment load command's vmaddr/vmsize into mem,
// relative to base. The returned entry point is the address of the first
// executable segment in load-command order, or base if no segment is
// executable; the LC_UNIXTHREAD / LC_MAIN load commands are not read.
func (Loader) Load(mem *memory.Manager, image io.ReaderAt, base uint64) (uint64, error) {
	f, err := macho.NewFile(image)
	if err != nil {
		return 0, fmt.Errorf("parse macho: %w", err)
	}
	defer f.Close()

	var firstExec uint64
	var haveFirstExec bool

	for i, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Memsz == 0 {
			continue
		}
		vaddr := base + seg.Addr
		start := hostarch.PageAlignDown(vaddr)
		span := hostarch.PageRoundedLen(vaddr, seg.Memsz)

		perms := permsOf(seg.Flag, seg.Prot)
		if !mem.IsMapped(start, span) {
			if err := mem.Map(start, span, perms, segmentLabel(i, seg.Name)); err != nil {
				return 0, fmt.Errorf("map macho segment %s: %w", seg.Name, err)
			}
		}

		data := make([]byte, seg.Filesz)
		sr := seg.Open()
		if _, err := sr.ReadAt(data, 0); err != nil && err != io.EOF {
			return 0, fmt.Errorf("read macho segment %s: %w", seg.Name, err)
		}
		if len(data) > 0 {
			if err := mem.Write(vaddr, data); err != nil {
				return 0, fmt.Errorf("write macho segment %s: %w", seg.Name, err)
			}
		}

		if perms&hostarch.Exec != 0 && !haveFirstExec {
			firstExec = vaddr
			haveFirstExec = true
		}
	}

	// Dynamic library dependencies (LC_LOAD_DYLIB) are not resolved: there
	// is no dynamic linker here, per §1 Non-goals.

	if haveFirstExec {
		return firstExec, nil
	}
	return base, nil
}

func permsOf(flag uint32, prot uint32) hostarch.Perms {
	var p hostarch.Perms
	const (
		vmProtRead    = 0x1
		vmProtWrite   = 0x2
		vmProtExecute = 0x4
	)
	if prot&vmProtRead != 0 {
		p |= hostarch.Read
	}
	if prot&vmProtWrite != 0 {
		p |= hostarch.Write
	}
	if prot&vmProtExecute != 0 {
		p |= hostarch.Exec
	}
	if p == 0 {
		p = hostarch.Read
	}
	return p
}

func segmentLabel(i int, name string) string {
	return fmt.Sprintf("[macho-%s-%d]", name, i)
}

func init() {
	register := func(ctx dispatch.BuildContext) (dispatch.LoaderComponent, error) {
		return Loader{}, nil
	}
	s, err := archos.LoaderString(archos.MacOS)
	if err != nil {
		panic(err)
	}
	dispatch.RegisterLoader(s, "QlLoaderMACHO", register)
}
