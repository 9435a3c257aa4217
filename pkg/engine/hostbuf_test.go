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
	"bytes"
	"testing"

	"github.com/vemu/vemu/pkg/hostarch"
)

func TestNewAnonHostBufferBacksMapPagesPtr(t *testing.T) {
	buf, err := NewAnonHostBuffer(0x1000)
	if err != nil {
		t.Fatalf("NewAnonHostBuffer: %v", err)
	}
	defer func() {
		if err := FreeHostBuffer(buf); err != nil {
			t.Fatalf("FreeHostBuffer: %v", err)
		}
	}()

	s := NewSimulated()
	if err := s.MapPagesPtr(0x2000, 0x1000, hostarch.RW, buf); err != nil {
		t.Fatalf("MapPagesPtr: %v", err)
	}

	want := bytes.Repeat([]byte{0xAB}, 0x10)
	if err := s.WriteBytes(0x2000, want); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	// The write must land in the host-owned buffer itself, not a copy:
	// MapPagesPtr uses hostPtr as the mapping's backing store without
	// copying it (§4.3.3).
	if !bytes.Equal(buf[:0x10], want) {
		t.Fatalf("host buffer = %x, want %x", buf[:0x10], want)
	}

	got, err := s.ReadBytes(0x2000, 0x10)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadBytes = %x, want %x", got, want)
	}
}

func TestNewAnonHostBufferRejectsNonPositiveSize(t *testing.T) {
	if _, err := NewAnonHostBuffer(0); err == nil {
		t.Fatalf("NewAnonHostBuffer(0) succeeded, want error")
	}
}

func TestFreeHostBufferAcceptsNil(t *testing.T) {
	if err := FreeHostBuffer(nil); err != nil {
		t.Fatalf("FreeHostBuffer(nil) = %v, want nil", err)
	}
}
