package mmb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/retrobytes/dfsimg/dfs"
)

func newTestContainer(t *testing.T) (*Container, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mmb")

	c, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestCreateAllSlotsUninitialized(t *testing.T) {
	c, _ := newTestContainer(t)

	entry, err := c.Entry(12)
	if err != nil {
		t.Fatalf("Entry(12): %v", err)
	}
	if entry.Status != StatusUninitialized {
		t.Fatalf("fresh slot status = 0x%02X, want 0x%02X", entry.Status, StatusUninitialized)
	}
}

func TestDKillPreservesPayload(t *testing.T) {
	c, _ := newTestContainer(t)

	img, err := c.Image(12, ImageOptions{})
	if err != nil {
		t.Fatalf("Image(12): %v", err)
	}
	if err := img.Side(0).Format("MYDISK", 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := img.Side(0).AddFile("A", '$', 0, 0, false, []byte("payload"), dfs.AddFileOptions{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := c.DRestore(12, DRestoreOptions{}); err != nil {
		t.Fatalf("DRestore: %v", err)
	}
	if err := c.DKill(12, DKillOptions{}); err != nil {
		t.Fatalf("DKill: %v", err)
	}

	entry, err := c.Entry(12)
	if err != nil {
		t.Fatalf("Entry(12): %v", err)
	}
	if entry.Status != StatusUninitialized {
		t.Fatalf("status after DKill = 0x%02X, want 0x%02X", entry.Status, StatusUninitialized)
	}

	// The 200 KiB payload survives even while marked uninitialized.
	img2, err := c.Image(12, ImageOptions{})
	if err != nil {
		t.Fatalf("Image(12) after kill: %v", err)
	}
	if got := img2.Side(0).Title(); got != "MYDISK" {
		t.Fatalf("title after DKill = %q, want MYDISK", got)
	}
	if _, _, err := img2.Side(0).ReadFile("A", '$'); err != nil {
		t.Fatalf("file A missing after DKill: %v", err)
	}
}

func TestDRestoreSetsStatus(t *testing.T) {
	c, _ := newTestContainer(t)

	if err := c.DRestore(5, DRestoreOptions{DLock: true}); err != nil {
		t.Fatalf("DRestore: %v", err)
	}
	entry, err := c.Entry(5)
	if err != nil {
		t.Fatalf("Entry(5): %v", err)
	}
	if entry.Status != StatusLocked {
		t.Fatalf("status = 0x%02X, want locked 0x%02X", entry.Status, StatusLocked)
	}
}

func TestImageRequireInitializedRejectsEmptySlot(t *testing.T) {
	c, _ := newTestContainer(t)

	_, err := c.Image(7, ImageOptions{RequireInitialized: true})
	if kind, ok := dfs.KindOf(err); !ok || kind != dfs.KindSlotUninitialized {
		t.Fatalf("expected KindSlotUninitialized, got %v", err)
	}

	// Without the option, the same empty slot still opens fine.
	if _, err := c.Image(7, ImageOptions{}); err != nil {
		t.Fatalf("Image(7) without RequireInitialized: %v", err)
	}
}

func TestDRecatSummarizesRecataloguedSlots(t *testing.T) {
	c, _ := newTestContainer(t)

	img, err := c.Image(3, ImageOptions{})
	if err != nil {
		t.Fatalf("Image(3): %v", err)
	}
	if err := img.Side(0).Format("RECATME", 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.DRestore(3, DRestoreOptions{}); err != nil {
		t.Fatalf("DRestore: %v", err)
	}

	summary, err := c.DRecat()
	if err != nil {
		t.Fatalf("DRecat: %v", err)
	}
	if summary == "" {
		t.Fatalf("expected a non-empty summary")
	}

	entry, err := c.Entry(3)
	if err != nil {
		t.Fatalf("Entry(3): %v", err)
	}
	if entry.Title != "RECATME" {
		t.Fatalf("title after DRecat = %q, want RECATME", entry.Title)
	}
}

func TestOnBootRoundTrip(t *testing.T) {
	c, _ := newTestContainer(t)

	if err := c.SetOnBoot(2, 42); err != nil {
		t.Fatalf("SetOnBoot: %v", err)
	}
	drives, err := c.OnBoot()
	if err != nil {
		t.Fatalf("OnBoot: %v", err)
	}
	if drives[2] != 42 {
		t.Fatalf("drive 2 = %d, want 42", drives[2])
	}
}

func TestSlotStoreRejectsWriteBeyondSlot(t *testing.T) {
	c, _ := newTestContainer(t)
	store := &slotStore{container: c, slot: 1}

	err := store.WriteAt(int64(SlotSize)-1, []byte{0, 0})
	if _, ok := err.(*dfs.Error); !ok {
		t.Fatalf("expected a *dfs.Error for an out-of-range write, got %v", err)
	}
}

func TestCreateFileSize(t *testing.T) {
	_, path := newTestContainer(t)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	want := int64(HeaderSize) + int64(MaxSlots)*int64(SlotSize)
	if info.Size() != want {
		t.Fatalf("file size = %d, want %d", info.Size(), want)
	}
}
