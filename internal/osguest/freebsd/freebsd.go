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

// Package freebsd is the "os" role for FreeBSD. It records the last
// abnormal-termination error like the Linux personality does, but keeps
// no terminated flag and has no Terminated accessor.
package freebsd

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/memory"
)

// Personality is the FreeBSD OSComponent.
type Personality struct {
	mem *memory.Manager
	log *logrus.Entry

	mu          sync.Mutex
	termination error
}

func (p *Personality) Name() string { return "freebsd" }

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

func init() {
	dispatch.RegisterOS(archos.FreeBSD, archos.ArchInvalid, "QlOsFreebsd", func(ctx dispatch.BuildContext) (dispatch.OSComponent, error) {
		return &Personality{
			mem: ctx.Memory,
			log: logrus.WithField("component", "os.freebsd"),
		}, nil
	})
}
