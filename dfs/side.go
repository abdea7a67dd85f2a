// This file implements the Side model: the in-memory DFS volume built from
// one side's two catalog sectors, and the typed operations that mutate it
// under the catalog invariants.

package dfs

import "sort"

// SectorRange is a half-open logical sector range [Start, End).
type SectorRange struct {
	Start, End int
}

// Side is the in-memory model of one DFS side: title, sequence, boot
// option, entry table, and the free-space map derived from it. It is built
// from an existing side's catalog sectors (LoadSide) or created fresh
// (Format on a zero-value catalog), and every mutation routes back through
// the catalog codec and the backing store the way the teacher's directory
// enumerator routed every entry through a single parse boundary.
type Side struct {
	store     BackingStore
	sideIndex int
	geometry  Geometry

	title        string
	sequence     byte
	bootOption   uint8
	totalSectors int
	entries      []FileEntry

	dirty bool
}

// LoadSide reads and decodes the catalog sectors for sideIndex out of
// store, returning the Side together with any warnings the decode and a
// full structural validation turned up. A side with warnings is still
// returned - read-only listing tolerates a bad side per the validator's
// contract - so callers that need a clean side must check the warnings
// themselves before mutating.
func LoadSide(store BackingStore, sideIndex int, geometry Geometry) (*Side, []Warning, error) {
	off0, err := geometry.SectorOffset(sideIndex, 0)
	if err != nil {
		return nil, nil, err
	}
	off1, err := geometry.SectorOffset(sideIndex, 1)
	if err != nil {
		return nil, nil, err
	}

	raw0, err := store.ReadAt(off0, SectorSize)
	if err != nil {
		return nil, nil, Wrap(KindIoError, err)
	}
	raw1, err := store.ReadAt(off1, SectorSize)
	if err != nil {
		return nil, nil, Wrap(KindIoError, err)
	}

	var sector0, sector1 [SectorSize]byte
	copy(sector0[:], raw0)
	copy(sector1[:], raw1)

	view, decodeWarnings := DecodeCatalog(sector0, sector1)

	s := &Side{
		store:        store,
		sideIndex:    sideIndex,
		geometry:     geometry,
		title:        view.Title,
		sequence:     view.Sequence,
		bootOption:   view.BootOption,
		totalSectors: view.TotalSectors,
		entries:      view.Entries,
	}

	structuralWarnings, _ := s.Validate(WarnModeAll)
	return s, append(decodeWarnings, structuralWarnings...), nil
}

// NewSide builds a fresh, empty side over store at sideIndex, sized to
// geometry's sector count. It does not write anything; callers save the
// initial catalog with Flush (or implicitly via the first mutation).
func NewSide(store BackingStore, sideIndex int, geometry Geometry, title string, bootOption uint8) *Side {
	return &Side{
		store:        store,
		sideIndex:    sideIndex,
		geometry:     geometry,
		title:        title,
		bootOption:   bootOption & 0x3,
		totalSectors: geometry.SectorsPerSide(),
		dirty:        true,
	}
}

// Title, Sequence, BootOption, TotalSectors, SideIndex and IsDirty expose
// the side's header fields; Entries returns a defensive copy of the entry
// table.
func (s *Side) Title() string        { return s.title }
func (s *Side) Sequence() byte       { return s.sequence }
func (s *Side) BootOption() uint8    { return s.bootOption }
func (s *Side) TotalSectors() int    { return s.totalSectors }
func (s *Side) SideIndex() int       { return s.sideIndex }
func (s *Side) IsDirty() bool        { return s.dirty }

func (s *Side) Entries() []FileEntry {
	out := make([]FileEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// List returns the entries whose name match reports true for, in the side's
// current catalog order. Glob compilation is the caller's concern - List
// only ever sees the already-compiled predicate, so a cat/dir verb can pass
// a literal match, a glob, or anything else without this package knowing
// the difference.
func (s *Side) List(match func(name string) bool) []FileEntry {
	var out []FileEntry
	for _, e := range s.entries {
		if match(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// FreeSpaceMap returns the side's free sectors as a list of ranges, derived
// from the entry table rather than stored - the catalog occupies sectors
// 0-1 and is never free.
func (s *Side) FreeSpaceMap() []SectorRange {
	return freeRanges(s.entries, s.totalSectors)
}

// AddFileOptions controls collision, lock-override and compaction behavior
// for AddFile.
type AddFileOptions struct {
	Replace      bool
	IgnoreAccess bool
	Compact      bool
}

// AddFile allocates space for data, writes it, and inserts the new entry at
// its place in the entry table, which DFS keeps ordered by descending start
// sector.
func (s *Side) AddFile(name string, dir byte, loadAddr, execAddr uint32, locked bool, data []byte, opts AddFileOptions) error {
	if dir == 0 {
		dir = '$'
	}
	if !isValidName(name) {
		return New(KindNameInvalid, "invalid filename %q", name)
	}

	existingIdx := s.findIndex(dir, name)
	if existingIdx >= 0 {
		if !opts.Replace {
			return New(KindExists, "%c.%s already exists", dir, name)
		}
		if s.entries[existingIdx].Locked && !opts.IgnoreAccess {
			return New(KindLocked, "%c.%s is locked", dir, name)
		}
	} else if len(s.entries) >= maxEntries {
		return New(KindFull, "side already has %d entries", maxEntries)
	}

	needed := sectorsFor(len(data))

	trial := s.entries
	if existingIdx >= 0 {
		trial = removeAt(s.entries, existingIdx)
	}

	start, ok := allocate(trial, s.totalSectors, needed)
	if !ok {
		if !opts.Compact {
			return New(KindNoSpace, "no contiguous block of %d sectors available", needed)
		}
		s.entries = trial
		if err := s.Compact(); err != nil {
			return err
		}
		trial = s.entries
		start, ok = allocate(trial, s.totalSectors, needed)
		if !ok {
			return New(KindNoSpace, "no contiguous block of %d sectors available after compaction", needed)
		}
	}

	offset, err := s.sectorOffset(start)
	if err != nil {
		return err
	}
	if err := s.writeFileData(offset, data); err != nil {
		return err
	}

	entry := FileEntry{
		Name:        name,
		Dir:         dir,
		Locked:      locked,
		LoadAddr:    loadAddr,
		ExecAddr:    execAddr,
		Length:      uint32(len(data)),
		StartSector: uint16(start),
	}

	pos := 0
	for pos < len(trial) && int(trial[pos].StartSector) > start {
		pos++
	}
	entries := make([]FileEntry, 0, len(trial)+1)
	entries = append(entries, trial[:pos]...)
	entries = append(entries, entry)
	entries = append(entries, trial[pos:]...)
	s.entries = entries
	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

// Delete removes an entry, leaving its sectors unallocated but not
// zero-filled - Compact or a later allocation may reclaim them.
func (s *Side) Delete(name string, dir byte, ignoreAccess bool) error {
	if dir == 0 {
		dir = '$'
	}
	idx := s.findIndex(dir, name)
	if idx < 0 {
		return New(KindNotFound, "%c.%s not found", dir, name)
	}
	if s.entries[idx].Locked && !ignoreAccess {
		return New(KindLocked, "%c.%s is locked", dir, name)
	}

	s.entries = removeAt(s.entries, idx)
	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

// RenameOptions controls collision and lock-override behavior for Rename.
type RenameOptions struct {
	Replace      bool
	IgnoreAccess bool
}

// Rename updates an entry's name and directory in place; no data moves.
func (s *Side) Rename(fromName string, fromDir byte, toName string, toDir byte, opts RenameOptions) error {
	if fromDir == 0 {
		fromDir = '$'
	}
	if toDir == 0 {
		toDir = '$'
	}
	if !isValidName(toName) {
		return New(KindNameInvalid, "invalid filename %q", toName)
	}

	idx := s.findIndex(fromDir, fromName)
	if idx < 0 {
		return New(KindNotFound, "%c.%s not found", fromDir, fromName)
	}
	if s.entries[idx].Locked && !opts.IgnoreAccess {
		return New(KindLocked, "%c.%s is locked", fromDir, fromName)
	}

	if collideIdx := s.findIndex(toDir, toName); collideIdx >= 0 && collideIdx != idx {
		if !opts.Replace {
			return New(KindExists, "%c.%s already exists", toDir, toName)
		}
		if s.entries[collideIdx].Locked && !opts.IgnoreAccess {
			return New(KindLocked, "%c.%s is locked", toDir, toName)
		}
		s.entries = removeAt(s.entries, collideIdx)
		if collideIdx < idx {
			idx--
		}
	}

	s.entries[idx].Name = toName
	s.entries[idx].Dir = toDir

	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

// AttribOptions carries the attributes SetAttrib should change; nil fields
// are left untouched.
type AttribOptions struct {
	Locked   *bool
	LoadAddr *uint32
	ExecAddr *uint32
}

// SetAttrib updates an entry's lock/load/exec fields without moving data.
func (s *Side) SetAttrib(name string, dir byte, opts AttribOptions) error {
	if dir == 0 {
		dir = '$'
	}
	idx := s.findIndex(dir, name)
	if idx < 0 {
		return New(KindNotFound, "%c.%s not found", dir, name)
	}

	if opts.Locked != nil {
		s.entries[idx].Locked = *opts.Locked
	}
	if opts.LoadAddr != nil {
		s.entries[idx].LoadAddr = *opts.LoadAddr
	}
	if opts.ExecAddr != nil {
		s.entries[idx].ExecAddr = *opts.ExecAddr
	}

	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

// compactChunkSectors bounds the temporary buffer Compact uses to move a
// region, so a large file move never allocates more than this many sectors
// at once.
const compactChunkSectors = 16

// Compact repacks file regions to eliminate gaps: entries are visited in
// ascending start-sector order and, where there is a gap below, moved down
// to close it. On any I/O error mid-move the in-memory entry table is
// restored to its pre-compaction state and the catalog is left unwritten -
// the caller sees IoDuringCompact, never a half-moved side.
func (s *Side) Compact() error {
	orig := make([]FileEntry, len(s.entries))
	copy(orig, s.entries)

	asc := make([]FileEntry, len(s.entries))
	copy(asc, s.entries)
	sort.Slice(asc, func(i, j int) bool { return asc[i].StartSector < asc[j].StartSector })

	cursor := CatalogSectors
	for i, e := range asc {
		if int(e.StartSector) > cursor {
			if err := s.moveRegion(int(e.StartSector), cursor, e.Sectors()); err != nil {
				s.entries = orig
				return NewStacked(KindIoDuringCompact, err)
			}
			e.StartSector = uint16(cursor)
		}
		cursor += e.Sectors()
		asc[i] = e
	}

	sort.Slice(asc, func(i, j int) bool { return asc[i].StartSector > asc[j].StartSector })
	s.entries = asc
	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

func (s *Side) moveRegion(fromSector, toSector, count int) error {
	remaining := count
	srcSector := fromSector
	dstSector := toSector

	for remaining > 0 {
		chunk := remaining
		if chunk > compactChunkSectors {
			chunk = compactChunkSectors
		}

		srcOff, err := s.sectorOffset(srcSector)
		if err != nil {
			return err
		}
		dstOff, err := s.sectorOffset(dstSector)
		if err != nil {
			return err
		}

		buf, err := s.store.ReadAt(srcOff, chunk*SectorSize)
		if err != nil {
			return err
		}
		if err := s.store.WriteAt(dstOff, buf); err != nil {
			return err
		}

		remaining -= chunk
		srcSector += chunk
		dstSector += chunk
	}

	return nil
}

// Format resets the side to zero entries under a new title and boot
// option, preserving total_sectors. A blank catalog (total_sectors 0, as in
// a never-written MMB slot) takes the geometry's sector count instead.
func (s *Side) Format(title string, bootOption uint8) error {
	if s.totalSectors == 0 {
		s.totalSectors = s.geometry.SectorsPerSide()
	}
	s.title = title
	s.bootOption = bootOption & 0x3
	s.entries = nil
	s.bumpSequence()
	s.dirty = true
	return s.flushCatalog()
}

// ReadFile returns the entry and its raw file bytes (trimmed to Length).
func (s *Side) ReadFile(name string, dir byte) (FileEntry, []byte, error) {
	if dir == 0 {
		dir = '$'
	}
	idx := s.findIndex(dir, name)
	if idx < 0 {
		return FileEntry{}, nil, New(KindNotFound, "%c.%s not found", dir, name)
	}

	e := s.entries[idx]
	offset, err := s.sectorOffset(int(e.StartSector))
	if err != nil {
		return FileEntry{}, nil, err
	}
	data, err := s.store.ReadAt(offset, e.Sectors()*SectorSize)
	if err != nil {
		return FileEntry{}, nil, Wrap(KindIoError, err)
	}
	return e, data[:e.Length], nil
}

// ReadCatalogSectors returns the two raw catalog sectors as currently
// stored, for callers (e.g. a sector-range digest) that need the exact
// on-disk bytes rather than the decoded view.
func (s *Side) ReadCatalogSectors() (sector0, sector1 [SectorSize]byte, err error) {
	off0, err := s.sectorOffset(0)
	if err != nil {
		return sector0, sector1, err
	}
	off1, err := s.sectorOffset(1)
	if err != nil {
		return sector0, sector1, err
	}

	raw0, err := s.store.ReadAt(off0, SectorSize)
	if err != nil {
		return sector0, sector1, Wrap(KindIoError, err)
	}
	raw1, err := s.store.ReadAt(off1, SectorSize)
	if err != nil {
		return sector0, sector1, Wrap(KindIoError, err)
	}

	copy(sector0[:], raw0)
	copy(sector1[:], raw1)
	return sector0, sector1, nil
}

// Flush writes the catalog sectors if the side has unsaved changes.
func (s *Side) Flush() error {
	if !s.dirty {
		return nil
	}
	return s.flushCatalog()
}

func (s *Side) flushCatalog() error {
	view := CatalogView{
		Title:        s.title,
		Sequence:     s.sequence,
		BootOption:   s.bootOption,
		TotalSectors: s.totalSectors,
		Entries:      s.entries,
	}

	sector0, sector1, err := EncodeCatalog(view)
	if err != nil {
		return err
	}

	off0, err := s.sectorOffset(0)
	if err != nil {
		return err
	}
	off1, err := s.sectorOffset(1)
	if err != nil {
		return err
	}

	if err := s.store.WriteAt(off0, sector0[:]); err != nil {
		return Wrap(KindIoError, err)
	}
	if err := s.store.WriteAt(off1, sector1[:]); err != nil {
		return Wrap(KindIoError, err)
	}

	s.dirty = false
	return nil
}

func (s *Side) bumpSequence() {
	s.sequence = bcdIncrement(s.sequence)
}

func (s *Side) sectorOffset(logicalSector int) (int64, error) {
	return s.geometry.SectorOffset(s.sideIndex, logicalSector)
}

func (s *Side) writeFileData(offset int64, data []byte) error {
	if err := s.store.WriteAt(offset, data); err != nil {
		return Wrap(KindIoError, err)
	}
	if rem := len(data) % SectorSize; rem != 0 {
		pad := make([]byte, SectorSize-rem)
		if err := s.store.WriteAt(offset+int64(len(data)), pad); err != nil {
			return Wrap(KindIoError, err)
		}
	}
	return nil
}

func (s *Side) findIndex(dir byte, name string) int {
	for i, e := range s.entries {
		if upper(e.Dir) == upper(dir) && upperName(e.Name) == upperName(name) {
			return i
		}
	}
	return -1
}

func sectorsFor(length int) int {
	return (length + SectorSize - 1) / SectorSize
}

func removeAt(entries []FileEntry, idx int) []FileEntry {
	out := make([]FileEntry, 0, len(entries)-1)
	out = append(out, entries[:idx]...)
	out = append(out, entries[idx+1:]...)
	return out
}

// freeRanges computes the complement of the catalog region and every
// entry's occupied range, ascending by start sector.
func freeRanges(entries []FileEntry, totalSectors int) []SectorRange {
	occupied := make([]SectorRange, 0, len(entries))
	for _, e := range entries {
		occupied = append(occupied, SectorRange{int(e.StartSector), e.EndSector()})
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].Start < occupied[j].Start })

	var free []SectorRange
	cursor := CatalogSectors
	for _, o := range occupied {
		if o.Start > cursor {
			free = append(free, SectorRange{cursor, o.Start})
		}
		if o.End > cursor {
			cursor = o.End
		}
	}
	if cursor < totalSectors {
		free = append(free, SectorRange{cursor, totalSectors})
	}
	return free
}

// allocate implements first-fit from the highest free sector downward: it
// scans free ranges from the highest end first and places the new region
// flush against the top of the first range with enough room. It does not
// order the entry table; AddFile inserts the new entry by start sector.
func allocate(entries []FileEntry, totalSectors, needed int) (start int, ok bool) {
	free := freeRanges(entries, totalSectors)
	sort.Slice(free, func(i, j int) bool { return free[i].End > free[j].End })

	for _, f := range free {
		if f.End-f.Start >= needed {
			return f.End - needed, true
		}
	}
	return 0, false
}
