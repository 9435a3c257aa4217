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

// Package memory implements the Memory Manager (C3): the public API
// every other component in the framework programs against. It owns the
// Map Index (C2) and drives the Engine Adapter (C1).
//
// The Manager is created once per emulator instance and lives for the
// instance's duration; it is not safe for use by more than one host
// thread at a time (§5) beyond the locking needed to keep its own index
// consistent with the engine.
package memory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/engine"
	"github.com/vemu/vemu/pkg/hostarch"
	"github.com/vemu/vemu/pkg/mapindex"
	"github.com/vemu/vemu/pkg/vmerror"
)

// DefaultPerms and DefaultLabel are the defaults Map uses when an
// embedder doesn't otherwise need to set a particular label (e.g. the
// heap's page extensions use "[heap]" instead, see pkg/heap).
const (
	DefaultPerms = hostarch.RWX
	DefaultLabel = "[mapped]"
)

// MapInfoEntry is one row of GetMapInfo's output: a logical range, its
// permissions rendered as "rwx", its label, and the path of the image
// that contains it, if any.
type MapInfoEntry struct {
	Lo, Hi    uint64
	PermsStr  string
	Label     string
	Container *string
}

// Manager is the Memory Manager (C3).
type Manager struct {
	mu sync.RWMutex

	eng      engine.Adapter
	idx      *mapindex.Index
	archBits int
	maxAddr  uint64
	endian   binary.ByteOrder

	log             *logrus.Entry
	containerLookup func(addr uint64) (string, bool)
}

// NewManager returns a Manager with no mappings, wrapping eng. archBits
// must be one of {16, 32, 64} (§3, "archbit"); 16-bit archs are treated
// as a 20-bit address line.
func NewManager(eng engine.Adapter, archBits int, log *logrus.Entry) (*Manager, error) {
	mask, err := hostarch.AddrMask(archBits)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		eng:      eng,
		idx:      mapindex.New(),
		archBits: archBits,
		maxAddr:  mask,
		endian:   binary.LittleEndian,
		log:      log.WithField("component", "memory"),
	}, nil
}

// SetEndian overrides the byte order ReadPtr uses. MIPS and ARM guests
// may be either endianness; the sniffer's detected endianness should be
// wired through here at boot (§4.5).
func (m *Manager) SetEndian(o binary.ByteOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endian = o
}

// SetContainerLookup installs the function GetMapInfo/ShowMapInfo use to
// resolve the image containing a given address (mirrors
// ql.os.find_containing_image). It is normally wired to the active OS
// personality at boot.
func (m *Manager) SetContainerLookup(fn func(addr uint64) (string, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containerLookup = fn
}

// MaxAddr returns the highest addressable byte for this Manager's
// archBits.
func (m *Manager) MaxAddr() uint64 { return m.maxAddr }

// ArchBits returns the native address width this Manager was created
// with.
func (m *Manager) ArchBits() int { return m.archBits }

// Read reads size bytes from addr.
func (m *Manager) Read(addr, size uint64) ([]byte, error) {
	return m.eng.ReadBytes(addr, size)
}

// Write writes data to addr. On failure it logs the current map and the
// attempted address/length before propagating the error (§4.3.1).
func (m *Manager) Write(addr uint64, data []byte) error {
	if err := m.eng.WriteBytes(addr, data); err != nil {
		m.logMapInfo(logrus.DebugLevel)
		m.log.WithFields(logrus.Fields{
			"addr": fmt.Sprintf("0x%x", addr),
			"len":  len(data),
		}).Error("address write error")
		return err
	}
	return nil
}

// ReadCString reads bytes one at a time starting at addr until a NUL
// terminator, and returns the decoded string (without the terminator).
func (m *Manager) ReadCString(addr uint64) (string, error) {
	var out []byte
	for {
		b, err := m.Read(addr, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
		addr++
	}
	return string(out), nil
}

// WriteCString encodes s in the given encoding, appends a NUL
// terminator, and writes the result to addr. s must not contain NUL.
func (m *Manager) WriteCString(addr uint64, s, encodingName string) error {
	encoded, err := encodeString(s, encodingName)
	if err != nil {
		return err
	}
	return m.Write(addr, append(encoded, 0))
}

// ReadPtr reads a 1/2/4/8-byte integer at addr using the arch's native
// endianness. size==0 means the arch's native pointer size.
func (m *Manager) ReadPtr(addr uint64, size int) (uint64, error) {
	m.mu.RLock()
	endian := m.endian
	archBits := m.archBits
	m.mu.RUnlock()

	if size == 0 {
		sz, err := hostarch.PointerSize(archBits)
		if err != nil {
			return 0, err
		}
		size = sz
	}

	data, err := m.Read(addr, uint64(size))
	if err != nil {
		return 0, err
	}

	switch size {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(endian.Uint16(data)), nil
	case 4:
		return uint64(endian.Uint32(data)), nil
	case 8:
		return endian.Uint64(data), nil
	default:
		return 0, fmt.Errorf("pointer size %d: %w", size, vmerror.ErrUnsupportedConversion)
	}
}

// Align rounds addr up to the nearest multiple of alignment, within this
// Manager's archBits address mask.
func (m *Manager) Align(addr, alignment uint64) (uint64, error) {
	return hostarch.Align(addr, alignment, m.archBits)
}

// Map reserves [addr, addr+size) with perms and label, recording it in
// the index. It fails with vmerror.ErrAlreadyMapped if any byte of the
// range is already mapped.
func (m *Manager) Map(addr, size uint64, perms hostarch.Perms, label string) error {
	if m.IsMapped(addr, size) {
		return fmt.Errorf("map 0x%x (size 0x%x): %w", addr, size, vmerror.ErrAlreadyMapped)
	}
	if err := m.eng.MapPages(addr, size, perms); err != nil {
		return err
	}
	m.idx.Insert(addr, addr+size, perms, label)
	return nil
}

// MapPtr maps [addr, addr+size) backed by an externally-owned host
// buffer. Unlike Map, this never checks is_mapped and never touches the
// index (§4.3.3): the caller is responsible for not double-mapping.
func (m *Manager) MapPtr(addr, size uint64, perms hostarch.Perms, hostPtr []byte) error {
	return m.eng.MapPagesPtr(addr, size, perms, hostPtr)
}

// Unmap releases [addr, addr+size), deleting it (and splitting any
// straddling entries into left/right residues) from the index first.
func (m *Manager) Unmap(addr, size uint64) error {
	m.idx.Delete(addr, addr+size)
	return m.eng.UnmapPages(addr, size)
}

// UnmapAll releases every engine-known region.
func (m *Manager) UnmapAll() error {
	for _, r := range m.eng.Regions() {
		if err := m.Unmap(r.Start, r.End-r.Start); err != nil {
			return err
		}
	}
	return nil
}

// Protect changes permissions on [addr, addr+size), rounding addr down
// and size up to page boundaries first.
//
// NOTE: this does not update the index's recorded perms for the
// affected range — a known gap carried from the original (§9):
// GetMapInfo will report stale permissions for a protected range until
// a subsequent Map/Unmap touches it.
func (m *Manager) Protect(addr, size uint64, perms hostarch.Perms) error {
	pAddr := hostarch.PageAlignDown(addr)
	pSize := hostarch.PageRoundedLen(addr, size)
	return m.eng.ProtectPages(pAddr, pSize, perms)
}

// IsMapped reports whether any engine region overlaps [addr, addr+size).
func (m *Manager) IsMapped(addr, size uint64) bool {
	end := addr + size
	for _, r := range m.eng.Regions() {
		if addr < r.End && end > r.Start {
			return true
		}
	}
	return false
}

// IsAvailable attempts to Map [addr, addr+size); on success it
// immediately Unmaps and returns true.
func (m *Manager) IsAvailable(addr, size uint64) bool {
	if err := m.Map(addr, size, DefaultPerms, "[probe]"); err != nil {
		return false
	}
	_ = m.Unmap(addr, size)
	return true
}

// IsFree reports whether [addr, addr+size) is unmapped, or mapped with
// every byte equal to 0x00 or 0xFF.
func (m *Manager) IsFree(addr, size uint64) bool {
	if !m.IsMapped(addr, size) {
		return true
	}
	data, err := m.Read(addr, size)
	if err != nil {
		return false
	}
	for _, b := range data {
		if b != 0x00 && b != 0xFF {
			return false
		}
	}
	return true
}

// FindFreeSpace walks the union of the index and the engine's own
// regions, in order, and returns the first aligned candidate address
// after a region's end that fits size before the next region begins (or
// before MaxAddr, after the last one). See §4.3.4.
func (m *Manager) FindFreeSpace(size, minAddr, alignment uint64) (uint64, error) {
	type span struct{ start, end uint64 }

	entries := m.idx.Entries()
	regions := m.eng.Regions()
	combined := make([]span, 0, len(entries)+len(regions))
	for _, e := range entries {
		combined = append(combined, span{e.Start, e.End})
	}
	for _, r := range regions {
		combined = append(combined, span{r.Start, r.End})
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].start < combined[j].start })

	if len(combined) == 0 {
		addr, err := m.Align(minAddr, alignment)
		if err != nil {
			return 0, err
		}
		if addr+size <= m.maxAddr && !m.IsMapped(addr, size) {
			return addr, nil
		}
		return 0, vmerror.ErrOutOfMemory
	}

	for i, c := range combined {
		addr, err := m.Align(c.end, alignment)
		if err != nil {
			return 0, err
		}
		if addr < minAddr {
			addr = minAddr
		}

		limit := m.maxAddr
		if i+1 < len(combined) {
			limit = combined[i+1].start
		}

		if addr+size < limit && !m.IsMapped(addr, size) {
			return addr, nil
		}
	}

	return 0, vmerror.ErrOutOfMemory
}

// MapAnywhere finds a free span of size (aligned up to the page size)
// and maps it with default permissions and label.
func (m *Manager) MapAnywhere(size, minAddr, alignment uint64) (uint64, error) {
	addr, err := m.FindFreeSpace(size, minAddr, alignment)
	if err != nil {
		return 0, err
	}
	rounded, err := m.Align(size, hostarch.PageSize)
	if err != nil {
		return 0, err
	}
	if err := m.Map(addr, rounded, DefaultPerms, DefaultLabel); err != nil {
		return 0, err
	}
	return addr, nil
}

func findAllOffsets(haystack, needle []byte, base uint64) []uint64 {
	if len(needle) == 0 {
		return nil
	}
	var out []uint64
	off := 0
	for {
		i := bytes.Index(haystack[off:], needle)
		if i < 0 {
			break
		}
		out = append(out, base+uint64(off+i))
		off += i + len(needle)
	}
	return out
}

// Search looks for needle in memory. If begin and end are both given, it
// searches [begin, end) as a single buffer; it additionally walks engine
// regions intersecting [begin, end) (defaulting to the index's first and
// last boundaries when begin/end are nil) and searches each
// individually. The result is deduplicated and sorted, and every returned
// address o satisfies read(o, len(needle)) == needle. Within each buffer
// searched, a match that overlaps an earlier match is not reported.
func (m *Manager) Search(needle []byte, begin, end *uint64) ([]uint64, error) {
	var found []uint64

	if begin != nil && end != nil && *end > *begin {
		haystack, err := m.Read(*begin, *end-*begin)
		if err != nil {
			return nil, err
		}
		found = append(found, findAllOffsets(haystack, needle, *begin)...)
	}

	b, e, ok := m.searchBounds(begin, end)
	if !ok {
		return dedupeSortedU64(found), nil
	}

	for _, r := range m.eng.Regions() {
		lo, hi := r.Start, r.End
		if lo < b {
			lo = b
		}
		if hi > e {
			hi = e
		}
		if hi <= lo {
			continue
		}
		haystack, err := m.Read(lo, hi-lo)
		if err != nil {
			continue
		}
		found = append(found, findAllOffsets(haystack, needle, lo)...)
	}

	return dedupeSortedU64(found), nil
}

func (m *Manager) searchBounds(begin, end *uint64) (uint64, uint64, bool) {
	entries := m.idx.Entries()
	b, e := uint64(0), uint64(0)

	if begin != nil {
		b = *begin
	} else if len(entries) > 0 {
		b = entries[0].Start
	} else {
		return 0, 0, false
	}

	if end != nil {
		e = *end
	} else if len(entries) > 0 {
		e = entries[len(entries)-1].End
	} else {
		return 0, 0, false
	}

	return b, e, e > b
}

func dedupeSortedU64(in []uint64) []uint64 {
	if len(in) == 0 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i] < in[j] })
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// GetLibBase returns the Start of the first index entry whose label's
// basename equals filename, or -1 if none matches.
func (m *Manager) GetLibBase(filename string) int64 {
	start, ok := m.idx.FirstByLabelBasename(path.Base, filename)
	if !ok {
		return -1
	}
	return int64(start)
}

// MapRanges returns a snapshot of the raw index entries, with no
// container-path annotation. Unlike GetMapInfo, this never calls the
// installed containerLookup, so it is safe for a ContainerLookup
// implementation (e.g. an OS personality's FindContainingImage) to call
// in turn without recursing back into itself (mirrors
// ql.os.find_containing_image, which walks the raw map_info list rather
// than a path-annotated view).
func (m *Manager) MapRanges() []mapindex.RangeEntry {
	return m.idx.Entries()
}

// GetMapInfo returns the current index, annotated with the containing
// image path when a ContainerLookup is installed.
func (m *Manager) GetMapInfo() []MapInfoEntry {
	entries := m.idx.Entries()
	out := make([]MapInfoEntry, len(entries))
	for i, e := range entries {
		var container *string
		m.mu.RLock()
		lookup := m.containerLookup
		m.mu.RUnlock()
		if lookup != nil {
			if p, ok := lookup(e.Start); ok {
				container = &p
			}
		}
		out[i] = MapInfoEntry{Lo: e.Start, Hi: e.End, PermsStr: e.Perms.String(), Label: e.Label, Container: container}
	}
	return out
}

// ShowMapInfo emits the current map as a formatted table via the
// Manager's logger, at info level.
func (m *Manager) ShowMapInfo() {
	m.logMapInfo(logrus.InfoLevel)
}

func (m *Manager) logMapInfo(level logrus.Level) {
	m.log.Log(level, "[+] Start      End        Perm.  Path")
	for _, e := range m.GetMapInfo() {
		label := e.Label
		if e.Container != nil {
			label = fmt.Sprintf("%s (%s)", label, *e.Container)
		}
		m.log.Logf(level, "[+] %08x - %08x - %s    %s", e.Lo, e.Hi, e.PermsStr, label)
	}
}

// SnapshotEntry is one saved range: its bounds, permissions, label, and
// the bytes it held at save time.
type SnapshotEntry struct {
	Start, End uint64
	Perms      hostarch.Perms
	Label      string
	Data       []byte
}

// Snapshot is the ordered (by sequence number) set of ranges Save
// captured, sufficient for Restore onto a fresh Manager with the same
// archBits.
type Snapshot map[int]SnapshotEntry

// Save enumerates the index, reading each range's current bytes.
func (m *Manager) Save() (Snapshot, error) {
	entries := m.idx.Entries()
	snap := make(Snapshot, len(entries))
	for seq, e := range entries {
		data, err := m.Read(e.Start, e.End-e.Start)
		if err != nil {
			return nil, err
		}
		snap[seq+1] = SnapshotEntry{Start: e.Start, End: e.End, Perms: e.Perms, Label: e.Label, Data: data}
	}
	return snap, nil
}

// Restore maps (if not already mapped) and writes every entry of
// snapshot, in sequence order. It is idempotent over repeated
// application. The snapshot is deep-copied first so that a caller
// retaining a reference to it cannot observe or corrupt Manager state
// through it, or vice versa.
func (m *Manager) Restore(snapshot Snapshot) error {
	copied, ok := deepcopy.Copy(snapshot).(Snapshot)
	if !ok {
		return fmt.Errorf("restore: snapshot deep copy produced unexpected type")
	}

	seqs := make([]int, 0, len(copied))
	for seq := range copied {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	for _, seq := range seqs {
		e := copied[seq]
		size := e.End - e.Start
		if !m.IsMapped(e.Start, size) {
			if err := m.Map(e.Start, size, e.Perms, e.Label); err != nil {
				return err
			}
		}
		if err := m.Write(e.Start, e.Data); err != nil {
			return err
		}
	}
	return nil
}
