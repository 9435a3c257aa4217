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

// Package pe is the "loader" role for Windows, walking section headers
// with the standard library's debug/pe parser.
package pe

import (
	"debug/pe"
	"fmt"
	"io"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/memory"
)

// Loader is the PE LoaderComponent.
type Loader struct{}

const (
	imageScnMemExecute = 0x20000000
	imageScnMemRead    = 0x40000000
	imageScnMemWrite   = 0x80000000
)

// Load maps every section of image at its VirtualAddress relative to a
// load base: base itself when it is non-zero, or the PE's own ImageBase
// when base is 0.
func (Loader) Load(mem *memory.Manager, image io.ReaderAt, base uint64) (uint64, error) {
	f, err := pe.NewFile(image)
	if err != nil {
		return 0, fmt.Errorf("parse pe: %w", err)
	}
	defer f.Close()

	imageBase, entryRVA, err := optionalHeader(f)
	if err != nil {
		return 0, err
	}
	loadBase := base
	if loadBase == 0 {
		loadBase = imageBase
	}

	for _, sec := range f.Sections {
		if sec.VirtualSize == 0 {
			continue
		}
		vaddr := loadBase + uint64(sec.VirtualAddress)
		start := hostarch.PageAlignDown(vaddr)
		span := hostarch.PageRoundedLen(vaddr, uint64(sec.VirtualSize))

		perms := permsOf(sec.Characteristics)
		if !mem.IsMapped(start, span) {
			if err := mem.Map(start, span, perms, segmentLabel(sec.Name)); err != nil {
				return 0, fmt.Errorf("map pe section %s: %w", sec.Name, err)
			}
		}

		data, err := sec.Data()
		if err != nil {
			return 0, fmt.Errorf("read pe section %s: %w", sec.Name, err)
		}
		if len(data) > 0 {
			if err := mem.Write(vaddr, data); err != nil {
				return 0, fmt.Errorf("write pe section %s: %w", sec.Name, err)
			}
		}
	}

	return loadBase + entryRVA, nil
}

func optionalHeader(f *pe.File) (imageBase, entryRVA uint64, err error) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase), uint64(oh.AddressOfEntryPoint), nil
	case *pe.OptionalHeader64:
		return oh.ImageBase, uint64(oh.AddressOfEntryPoint), nil
	default:
		return 0, 0, fmt.Errorf("pe optional header: unsupported or missing")
	}
}

func permsOf(characteristics uint32) hostarch.Perms {
	var p hostarch.Perms
	if characteristics&imageScnMemRead != 0 {
		p |= hostarch.Read
	}
	if characteristics&imageScnMemWrite != 0 {
		p |= hostarch.Write
	}
	if characteristics&imageScnMemExecute != 0 {
		p |= hostarch.Exec
	}
	return p
}

func segmentLabel(name string) string {
	return fmt.Sprintf("[pe-%s]", name)
}

func init() {
	register := func(ctx dispatch.BuildContext) (dispatch.LoaderComponent, error) {
		return Loader{}, nil
	}
	s, err := archos.LoaderString(archos.Windows)
	if err != nil {
		panic(err)
	}
	dispatch.RegisterLoader(s, "QlLoaderPE", register)
}
