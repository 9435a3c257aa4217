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

// Package linux is the "os" role for Linux, registered for every
// architecture (arch == archos.ArchInvalid) since the personality itself
// does not vary by word size.
package linux

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/memory"
)

// Personality is the Linux OSComponent. It tracks the abnormal
// termination the interrupt wrapper (§5) reports, mirroring
// ql.os.linux's exit_code/stop_event bookkeeping.
type Personality struct {
	mem *memory.Manager
	log *logrus.Entry

	mu          sync.Mutex
	terminated  bool
	termination error
}

func (p *Personality) Name() string { return "linux" }

// FindContainingImage reports the label of the mapping containing addr,
// mirroring ql.os.find_containing_image. It walks the raw index rather
// than GetMapInfo, since GetMapInfo calls back into this personality's
// own ContainerLookup hook to annotate each entry.
func (p *Personality) FindContainingImage(addr uint64) (string, bool) {
	for _, e := range p.mem.MapRanges() {
		if addr >= e.Start && addr < e.End && e.Label != "" {
			return e.Label, true
		}
	}
	return "", false
}

// AbnormalTermination records err as the cause of an abnormal stop.
func (p *Personality) AbnormalTermination(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.termination = err
	p.log.WithError(err).Warn("abnormal termination")
}

// Terminated reports whether AbnormalTermination has fired, and with
// what error.
func (p *Personality) Terminated() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.termination
}

func init() {
	dispatch.RegisterOS(archos.Linux, archos.ArchInvalid, "QlOsLinux", func(ctx dispatch.BuildContext) (dispatch.OSComponent, error) {
		return &Personality{
			mem: ctx.Memory,
			log: logrus.WithField("component", "os.linux"),
		}, nil
	})
}
