package dfs

import (
	"bytes"
	"testing"
)

// memStore is a trivial in-memory BackingStore for exercising Side without
// touching a real file, in the spirit of the teacher's fixture-free unit
// tests over parsed structures.
type memStore struct {
	data []byte
}

func newMemStore(size int64) *memStore {
	return &memStore{data: make([]byte, size)}
}

func (m *memStore) Size() int64 { return int64(len(m.data)) }

func (m *memStore) ReadAt(offset int64, length int) ([]byte, error) {
	out := make([]byte, length)
	if offset >= int64(len(m.data)) {
		return out, nil
	}
	n := copy(out, m.data[offset:])
	_ = n
	return out, nil
}

func (m *memStore) WriteAt(offset int64, data []byte) error {
	end := offset + int64(len(data))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:end], data)
	return nil
}

func (m *memStore) Truncate(newSize int64) error {
	if newSize <= int64(len(m.data)) {
		m.data = m.data[:newSize]
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func newTestSide(t *testing.T) (*Side, *memStore, Geometry) {
	t.Helper()
	geometry := Geometry{Layout: LayoutLinear, TracksPerSide: 80, SideCount: 1}
	store := newMemStore(geometry.TotalSize())
	side := NewSide(store, 0, geometry, "GAMES", 2)
	if err := side.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return side, store, geometry
}

func TestAddFileAllocatesHighestFit(t *testing.T) {
	side, _, geometry := newTestSide(t)

	data := bytes.Repeat([]byte{0xAA}, 100)
	if err := side.AddFile("A", '$', 0x1900, 0x8023, true, data, AddFileOptions{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	entries := side.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	want := geometry.SectorsPerSide() - sectorsFor(len(data))
	if int(entries[0].StartSector) != want {
		t.Fatalf("start sector = %d, want %d (highest-fit)", entries[0].StartSector, want)
	}
	if side.Sequence() != 0x01 {
		t.Fatalf("sequence = 0x%02X, want 0x01", side.Sequence())
	}
}

func TestAddFileDuplicateNameFails(t *testing.T) {
	side, _, _ := newTestSide(t)
	data := []byte("hello")

	if err := side.AddFile("A", '$', 0, 0, false, data, AddFileOptions{}); err != nil {
		t.Fatalf("first AddFile: %v", err)
	}
	err := side.AddFile("A", '$', 0, 0, false, data, AddFileOptions{})
	if kind, ok := KindOf(err); !ok || kind != KindExists {
		t.Fatalf("expected KindExists, got %v", err)
	}
}

func TestDeleteRequiresIgnoreAccessForLocked(t *testing.T) {
	side, _, _ := newTestSide(t)
	if err := side.AddFile("A", '$', 0, 0, true, []byte("x"), AddFileOptions{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	if err := side.Delete("A", '$', false); err == nil {
		t.Fatalf("expected Locked error deleting a locked entry")
	} else if kind, ok := KindOf(err); !ok || kind != KindLocked {
		t.Fatalf("expected KindLocked, got %v", err)
	}

	if err := side.Delete("A", '$', true); err != nil {
		t.Fatalf("Delete with ignoreAccess: %v", err)
	}
	if len(side.Entries()) != 0 {
		t.Fatalf("expected 0 entries after delete, got %d", len(side.Entries()))
	}
}

func TestEntriesStayDisjointAndOrdered(t *testing.T) {
	side, _, _ := newTestSide(t)

	for i := 0; i < 5; i++ {
		name := string(rune('A' + i))
		if err := side.AddFile(name, '$', 0, 0, false, bytes.Repeat([]byte{byte(i)}, 300), AddFileOptions{}); err != nil {
			t.Fatalf("AddFile(%s): %v", name, err)
		}
	}

	entries := side.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].StartSector > entries[i-1].StartSector {
			t.Fatalf("entries not ordered by descending start sector: %+v", entries)
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if rangesOverlap(entries[i], entries[j]) {
				t.Fatalf("entries %d and %d overlap: %+v %+v", i, j, entries[i], entries[j])
			}
		}
	}
}

func TestNoSpaceWithoutCompact(t *testing.T) {
	side, _, geometry := newTestSide(t)
	free := geometry.SectorsPerSide() - CatalogSectors

	big := bytes.Repeat([]byte{1}, (free/2-10)*SectorSize)
	if err := side.AddFile("A", '$', 0, 0, false, big, AddFileOptions{}); err != nil {
		t.Fatalf("AddFile A: %v", err)
	}
	if err := side.AddFile("B", '$', 0, 0, false, big, AddFileOptions{}); err != nil {
		t.Fatalf("AddFile B: %v", err)
	}
	if err := side.Delete("A", '$', false); err != nil {
		t.Fatalf("Delete A: %v", err)
	}

	tooBig := bytes.Repeat([]byte{1}, (free/2+10)*SectorSize)
	err := side.AddFile("C", '$', 0, 0, false, tooBig, AddFileOptions{})
	if kind, ok := KindOf(err); !ok || kind != KindNoSpace {
		t.Fatalf("expected KindNoSpace without compact, got %v", err)
	}

	if err := side.AddFile("C", '$', 0, 0, false, tooBig, AddFileOptions{Compact: true}); err != nil {
		t.Fatalf("AddFile C with compact: %v", err)
	}

	entries := side.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 surviving entries after compact-and-add, got %d", len(entries))
	}
}

func TestCompactPreservesBytesAndPacksFromCatalogBoundary(t *testing.T) {
	side, store, _ := newTestSide(t)

	dataA := bytes.Repeat([]byte{0x11}, 300)
	dataB := bytes.Repeat([]byte{0x22}, 300)
	dataC := bytes.Repeat([]byte{0x33}, 300)

	for _, f := range []struct {
		name string
		data []byte
	}{{"A", dataA}, {"B", dataB}, {"C", dataC}} {
		if err := side.AddFile(f.name, '$', 0, 0, false, f.data, AddFileOptions{}); err != nil {
			t.Fatalf("AddFile(%s): %v", f.name, err)
		}
	}

	// Free up B's region to create a gap between C and A.
	if err := side.Delete("B", '$', false); err != nil {
		t.Fatalf("Delete B: %v", err)
	}

	before := map[string][]byte{}
	for _, e := range side.Entries() {
		_, data, err := side.ReadFile(e.Name, e.Dir)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", e.Name, err)
		}
		before[e.Name] = append([]byte{}, data...)
	}

	if err := side.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	entries := side.Entries()
	cursor := CatalogSectors
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if int(e.StartSector) != cursor {
			t.Fatalf("entry %s not packed against catalog boundary: start=%d want=%d", e.Name, e.StartSector, cursor)
		}
		cursor += e.Sectors()

		_, data, err := side.ReadFile(e.Name, e.Dir)
		if err != nil {
			t.Fatalf("ReadFile(%s) after compact: %v", e.Name, err)
		}
		if !bytes.Equal(data, before[e.Name]) {
			t.Fatalf("file %s bytes changed across compaction", e.Name)
		}
	}

	_ = store
}

func TestListAppliesPredicate(t *testing.T) {
	side, _, _ := newTestSide(t)
	for _, name := range []string{"ALPHA", "BETA", "ALMANAC"} {
		if err := side.AddFile(name, '$', 0, 0, false, []byte("x"), AddFileOptions{}); err != nil {
			t.Fatalf("AddFile(%s): %v", name, err)
		}
	}

	matches := side.List(func(name string) bool {
		return len(name) >= 2 && name[:2] == "AL"
	})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	for _, e := range matches {
		if e.Name != "ALPHA" && e.Name != "ALMANAC" {
			t.Fatalf("unexpected match %q", e.Name)
		}
	}
}

func TestFormatResetsEntries(t *testing.T) {
	side, _, _ := newTestSide(t)
	if err := side.AddFile("A", '$', 0, 0, false, []byte("x"), AddFileOptions{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	if err := side.Format("EMPTY", 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if len(side.Entries()) != 0 {
		t.Fatalf("expected 0 entries after format")
	}
	if side.Title() != "EMPTY" {
		t.Fatalf("title = %q, want EMPTY", side.Title())
	}
}

func TestLoadSideRoundTripsUnmodified(t *testing.T) {
	side, store, geometry := newTestSide(t)
	if err := side.AddFile("A", '$', 0x1900, 0x8023, true, []byte("hello"), AddFileOptions{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	before := append([]byte{}, store.data...)

	reloaded, warnings, err := LoadSide(store, 0, geometry)
	if err != nil {
		t.Fatalf("LoadSide: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if err := reloaded.Flush(); err != nil {
		t.Fatalf("Flush on a just-loaded side should be a no-op: %v", err)
	}

	if !bytes.Equal(before, store.data) {
		t.Fatalf("loading and flushing an unmodified side changed backing bytes")
	}
}
