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

// Package windows is the "os" role for Windows.
package windows

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/memory"
)

// Personality is the Windows OSComponent. Unlike the POSIX personalities
// it also tracks a GetLastError-style code, since Windows API emulation
// threads errors through thread-local state rather than return values.
type Personality struct {
	mem *memory.Manager
	log *logrus.Entry

	mu          sync.Mutex
	lastError   uint32
	termination error
}

func (p *Personality) Name() string { return "windows" }

// FindContainingImage walks the raw index rather than GetMapInfo, since
// GetMapInfo calls back into this personality's own ContainerLookup hook
// to annotate each entry.
func (p *Personality) FindContainingImage(addr uint64) (string, bool) {
	for _, e := range p.mem.MapRanges() {
		if addr >= e.Start && addr < e.End && e.Label != "" {
			return e.Label, true
		}
	}
	return "", false
}

func (p *Personality) AbnormalTermination(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.termination = err
	p.log.WithError(err).Warn("abnormal termination")
}

// SetLastError records code for a subsequent GetLastError.
func (p *Personality) SetLastError(code uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = code
}

// GetLastError returns the last error code set via SetLastError.
func (p *Personality) GetLastError() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

func init() {
	dispatch.RegisterOS(archos.Windows, archos.ArchInvalid, "QlOsWindows", func(ctx dispatch.BuildContext) (dispatch.OSComponent, error) {
		return &Personality{
			mem: ctx.Memory,
			log: logrus.WithField("component", "os.windows"),
		}, nil
	})
}
