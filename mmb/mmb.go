// Package mmb implements the MMB multi-image container: a random-access
// index of up to 511 fixed-size SSD payloads, each exposed as a dfs.Image
// through a slot-window BackingStore that reuses the storage engine's own
// Side/catalog code without it ever knowing it's looking at a slot instead
// of a standalone file.
package mmb

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/go-restruct/restruct"

	"github.com/retrobytes/dfsimg/dfs"
)

const (
	// HeaderSize is the size of the index region at the head of an MMB
	// file: magic/padding, the onboot record, and the entry table.
	HeaderSize = 16 * 1024

	// MagicSize is the reserved magic/padding region that must be
	// preserved byte-for-byte on rewrite.
	MagicSize = 16

	// OnBootSize is the size of the four-drive onboot record immediately
	// following the magic region.
	OnBootSize = 16

	entryTableOffset = MagicSize + OnBootSize
	entrySize         = 16
	titleSize         = 12

	// MaxSlots is the number of addressable slots, 1-indexed.
	MaxSlots = 511

	// SlotSize is the fixed payload size of one slot: an 80-track,
	// single-sided SSD.
	SlotSize = 800 * dfs.SectorSize
)

// Status is an MMB entry's status byte. Values are categorical, not a
// bitfield: the container only ever writes the four documented values,
// but round-trips any byte it reads back unchanged.
type Status byte

// Documented status values.
const (
	StatusLocked       Status = 0x00
	StatusInitialized  Status = 0x0F
	StatusUninitialized Status = 0xF0
	StatusInvalid      Status = 0xFF
)

// Entry is one MMB index entry: a space-padded 12-byte title and a status
// byte. Title and status are mutated independently of the slot's payload -
// killing a slot never touches its 200 KiB of data.
type Entry struct {
	Title  string
	Status Status
}

// rawEntry is the on-disk 16-byte layout of one entry-table row: a
// space-padded title, 3 reserved bytes, and the status byte - restruct-
// tagged the same way dfs's catalogSector0/catalogSector1 are, rather than
// hand-packed.
type rawEntry struct {
	Title    [titleSize]byte
	Reserved [3]byte
	Status   byte
}

var entryEncoding = binary.LittleEndian

func (e Entry) initialized() bool {
	return e.Status == StatusInitialized || e.Status == StatusLocked
}

// Container is an open MMB file.
type Container struct {
	f      *os.File
	access dfs.Access
}

// Open opens an existing MMB file.
func Open(path string, access dfs.Access) (*Container, error) {
	flag := os.O_RDONLY
	if access == dfs.AccessReadWrite {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, dfs.Wrap(dfs.KindIoError, err)
	}
	return &Container{f: f, access: access}, nil
}

// Create allocates a new MMB file: the header region plus 511 zero-filled,
// uninitialized slots.
func Create(path string) (c *Container, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if asErr, ok := errRaw.(error); ok {
				err = log.Wrap(asErr)
			} else {
				err = log.Errorf("panic creating mmb container: %v", errRaw)
			}
		}
	}()

	f, ferr := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	log.PanicIf(ferr)

	totalSize := int64(HeaderSize) + int64(MaxSlots)*int64(SlotSize)
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		log.Panic(err)
	}

	c = &Container{f: f, access: dfs.AccessReadWrite}

	for i := 1; i <= MaxSlots; i++ {
		if err := c.SetEntry(i, Entry{Title: "", Status: StatusUninitialized}); err != nil {
			f.Close()
			return nil, err
		}
	}

	return c, nil
}

// Close releases the underlying file handle.
func (c *Container) Close() error {
	if err := c.f.Close(); err != nil {
		return dfs.Wrap(dfs.KindIoError, err)
	}
	return nil
}

func entryOffset(slot int) int64 {
	return int64(entryTableOffset) + int64(slot-1)*entrySize
}

func slotOffset(slot int) int64 {
	return int64(HeaderSize) + int64(slot-1)*int64(SlotSize)
}

func validSlot(slot int) error {
	if slot < 1 || slot > MaxSlots {
		return dfs.New(dfs.KindOutOfMMBSlots, "slot %d out of range [1, %d]", slot, MaxSlots)
	}
	return nil
}

// Entry reads the title/status pair for slot i.
func (c *Container) Entry(i int) (Entry, error) {
	if err := validSlot(i); err != nil {
		return Entry{}, err
	}

	raw := make([]byte, entrySize)
	if _, err := c.f.ReadAt(raw, entryOffset(i)); err != nil {
		return Entry{}, dfs.Wrap(dfs.KindIoError, err)
	}

	var re rawEntry
	if err := restruct.Unpack(raw, entryEncoding, &re); err != nil {
		return Entry{}, dfs.Wrap(dfs.KindIoError, err)
	}

	return Entry{
		Title:  trimTitle(re.Title[:]),
		Status: Status(re.Status),
	}, nil
}

// SetEntry writes the title/status pair for slot i.
func (c *Container) SetEntry(i int, e Entry) error {
	if err := validSlot(i); err != nil {
		return err
	}
	if c.access != dfs.AccessReadWrite {
		return dfs.New(dfs.KindIoError, "container is read-only")
	}

	var re rawEntry
	title := e.Title
	if len(title) > titleSize {
		title = title[:titleSize]
	}
	copy(re.Title[:], title)
	for i := len(title); i < titleSize; i++ {
		re.Title[i] = ' '
	}
	re.Status = byte(e.Status)

	raw, err := restruct.Pack(entryEncoding, &re)
	if err != nil {
		return dfs.Wrap(dfs.KindIoError, err)
	}

	if _, err := c.f.WriteAt(raw, entryOffset(i)); err != nil {
		return dfs.Wrap(dfs.KindIoError, err)
	}
	return nil
}

func trimTitle(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

// ImageOptions controls Image's handling of a slot whose status is not
// initialized.
type ImageOptions struct {
	// RequireInitialized makes Image fail with KindSlotUninitialized
	// instead of opening the slot when its status is neither
	// StatusInitialized nor StatusLocked.
	RequireInitialized bool
}

// Image opens slot i as a dfs.Image borrowing a SlotSize window of the
// container for the returned handle's lifetime. DKill'd slots still open -
// their payload is preserved even while marked uninitialized - and so does
// a slot that has never held data, unless opts.RequireInitialized asks
// Image to reject every slot not marked initialized or locked with
// KindSlotUninitialized instead.
func (c *Container) Image(i int, opts ImageOptions) (*dfs.Image, error) {
	entry, err := c.Entry(i)
	if err != nil {
		return nil, err
	}
	if opts.RequireInitialized && !entry.initialized() {
		return nil, dfs.New(dfs.KindSlotUninitialized, "slot %d is not marked initialized", i)
	}

	store := &slotStore{container: c, slot: i}
	geometry := dfs.Geometry{Layout: dfs.LayoutLinear, TracksPerSide: 80, SideCount: 1}

	side, _, err := dfs.LoadSide(store, 0, geometry)
	if err != nil {
		return nil, err
	}

	return dfs.ImageFromSides(store, geometry, []*dfs.Side{side}), nil
}

// DKillOptions carries the dkill flags. DUnlock has no effect: DKill always
// sets the status to StatusUninitialized, which carries no lock.
type DKillOptions struct {
	DUnlock bool
}

// DKill marks a slot uninitialized without touching its payload.
func (c *Container) DKill(i int, opts DKillOptions) error {
	entry, err := c.Entry(i)
	if err != nil {
		return err
	}
	entry.Status = StatusUninitialized
	_ = opts.DUnlock // uninitialized has no lock bit of its own to clear
	return c.SetEntry(i, entry)
}

// DRestoreOptions controls whether drestore also sets a slot's lock.
type DRestoreOptions struct {
	DLock bool
}

// DRestore marks a slot initialized, optionally locked.
func (c *Container) DRestore(i int, opts DRestoreOptions) error {
	entry, err := c.Entry(i)
	if err != nil {
		return err
	}
	if opts.DLock {
		entry.Status = StatusLocked
	} else {
		entry.Status = StatusInitialized
	}
	return c.SetEntry(i, entry)
}

// DRecat re-reads the on-disk title of every initialized slot and writes
// it into the slot's entry, the way a physical MMB drive's catalog gets
// resynchronized after direct image writes. It returns a humanized summary
// of how many slots were recatalogued and how much payload that covered,
// for the drecat verb to print.
func (c *Container) DRecat() (string, error) {
	var count int

	for i := 1; i <= MaxSlots; i++ {
		entry, err := c.Entry(i)
		if err != nil {
			return "", err
		}
		if !entry.initialized() {
			continue
		}

		store := &slotStore{container: c, slot: i}
		geometry := dfs.Geometry{Layout: dfs.LayoutLinear, TracksPerSide: 80, SideCount: 1}
		side, _, err := dfs.LoadSide(store, 0, geometry)
		if err != nil {
			return "", err
		}

		entry.Title = side.Title()
		if err := c.SetEntry(i, entry); err != nil {
			return "", err
		}
		count++
	}

	summary := fmt.Sprintf("recatalogued %s slots (%s)",
		humanize.Comma(int64(count)), humanize.Bytes(uint64(count)*uint64(SlotSize)))
	return summary, nil
}

// OnBoot reads the onboot record: for each of the four drives, the slot
// index currently assigned to it, stored little-endian per drive pair.
func (c *Container) OnBoot() ([4]int, error) {
	var drives [4]int

	raw := make([]byte, OnBootSize)
	if _, err := c.f.ReadAt(raw, MagicSize); err != nil {
		return drives, dfs.Wrap(dfs.KindIoError, err)
	}

	for d := 0; d < 4; d++ {
		drives[d] = int(raw[d*2]) | int(raw[d*2+1])<<8
	}
	return drives, nil
}

// SetOnBoot updates one drive's entry in the onboot record.
func (c *Container) SetOnBoot(drive, slotIndex int) error {
	if drive < 0 || drive > 3 {
		return dfs.New(dfs.KindIoError, "drive %d out of range [0,3]", drive)
	}
	if c.access != dfs.AccessReadWrite {
		return dfs.New(dfs.KindIoError, "container is read-only")
	}

	pair := []byte{byte(slotIndex), byte(slotIndex >> 8)}
	if _, err := c.f.WriteAt(pair, MagicSize+int64(drive*2)); err != nil {
		return dfs.Wrap(dfs.KindIoError, err)
	}
	return nil
}

// slotStore is a dfs.BackingStore implementation that windows a single
// fixed-size MMB slot. Slots are fixed-size by format, so Truncate is a
// no-op as long as newSize matches SlotSize and an error otherwise.
type slotStore struct {
	container *Container
	slot      int
}

func (s *slotStore) Size() int64 {
	return int64(SlotSize)
}

func (s *slotStore) ReadAt(offset int64, length int) ([]byte, error) {
	data := make([]byte, length)
	n, err := s.container.f.ReadAt(data, slotOffset(s.slot)+offset)
	if err != nil && n < length {
		return nil, dfs.Wrap(dfs.KindIoError, err)
	}
	return data, nil
}

func (s *slotStore) WriteAt(offset int64, data []byte) error {
	if s.container.access != dfs.AccessReadWrite {
		return dfs.New(dfs.KindIoError, "container is read-only")
	}
	if offset+int64(len(data)) > int64(SlotSize) {
		return dfs.New(dfs.KindSectorOutOfRange, "write extends past end of slot")
	}
	if _, err := s.container.f.WriteAt(data, slotOffset(s.slot)+offset); err != nil {
		return dfs.Wrap(dfs.KindIoError, err)
	}
	return nil
}

func (s *slotStore) Truncate(newSize int64) error {
	if newSize != int64(SlotSize) {
		return dfs.New(dfs.KindIoError, "mmb slots are fixed at %d bytes", SlotSize)
	}
	return nil
}
