package dfs

import (
	"io"
	"os"

	"github.com/dsoprea/go-logging"
)

// OpenMode controls file-existence semantics on open, mirroring the
// open(2) family the teacher's ExfatReader always assumed was already
// satisfied by the caller.
type OpenMode int

// Open modes.
const (
	ModeNewFailIfExists OpenMode = iota
	ModeExistingFailIfAbsent
	ModeAlways
)

// Access controls whether the backing store accepts writes.
type Access int

// Access modes.
const (
	AccessRead Access = iota
	AccessReadWrite
)

// BackingStore is the minimal random-access byte-array contract that the
// Side/Image layers mutate through. The on-disk Store implements it
// directly; the MMB container implements it as a fixed-size window onto a
// shared file so that an mmb.Image can reuse the same Side/catalog code
// without the engine ever knowing it's looking at a slot instead of a
// standalone file.
type BackingStore interface {
	Size() int64
	ReadAt(offset int64, length int) ([]byte, error)
	WriteAt(offset int64, data []byte) error
	Truncate(newSize int64) error
}

// Store is a DFS image file opened for random-access reads and writes. It
// presents the file as a fixed-geometry byte array with bounded growth and
// shrink, the way the teacher's ExfatReader presented a sequential
// io.ReadSeeker over boot sectors and clusters - generalized here to
// random access because mutation needs it.
type Store struct {
	f        *os.File
	access   Access
	size     int64
	geometry Geometry
}

// Open opens path under the given mode/access and infers (or validates) its
// geometry. For ModeNewFailIfExists and ModeAlways-creating-new, override
// must fully specify TracksPerSide and SideCount since there is no existing
// size to infer from.
func Open(path string, mode OpenMode, access Access, override *GeometryOverride) (store *Store, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if asErr, ok := errRaw.(error); ok {
				err = log.Wrap(asErr)
			} else {
				err = log.Errorf("panic opening store: %v", errRaw)
			}
		}
	}()

	flag := os.O_RDONLY
	if access == AccessReadWrite {
		flag = os.O_RDWR
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	switch mode {
	case ModeNewFailIfExists:
		if exists {
			return nil, New(KindIoError, "file already exists: %s", path)
		}
		flag |= os.O_CREATE | os.O_EXCL
	case ModeExistingFailIfAbsent:
		if !exists {
			return nil, New(KindIoError, "file does not exist: %s", path)
		}
	case ModeAlways:
		if !exists {
			flag |= os.O_CREATE
		}
	}

	f, err := os.OpenFile(path, flag, 0644)
	log.PanicIf(err)

	var geometry Geometry
	if !exists {
		if override == nil || override.TracksPerSide == nil || override.SideCount == nil {
			f.Close()
			return nil, New(KindGeometryAmbiguous, "creating a new image requires an explicit tracks-per-side and side-count")
		}
		geometry, err = InferGeometry(0, override)
		log.PanicIf(err)

		if err := f.Truncate(geometry.TotalSize()); err != nil {
			f.Close()
			log.Panic(err)
		}
	} else {
		info, err := f.Stat()
		log.PanicIf(err)

		geometry, err = InferGeometry(info.Size(), override)
		log.PanicIf(err)
	}

	size := geometry.TotalSize()

	store = &Store{
		f:        f,
		access:   access,
		size:     size,
		geometry: geometry,
	}

	return store, nil
}

// Geometry returns the inferred or specified geometry.
func (s *Store) Geometry() Geometry {
	return s.geometry
}

// Size is the current logical size of the backing store.
func (s *Store) Size() int64 {
	return s.size
}

// ReadAt reads length bytes at offset. Reads past the end of the file
// (within a truncated image) return zero bytes rather than failing.
func (s *Store) ReadAt(offset int64, length int) (data []byte, err error) {
	data = make([]byte, length)

	if offset >= s.size {
		return data, nil
	}

	n, err := s.f.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return nil, Wrap(KindIoError, err)
	}
	for i := n; i < length; i++ {
		data[i] = 0
	}
	return data, nil
}

// WriteAt writes data at offset. Writes beyond the current logical size
// extend the file to the containing sector boundary.
func (s *Store) WriteAt(offset int64, data []byte) error {
	if s.access != AccessReadWrite {
		return New(KindIoError, "store is read-only")
	}

	_, err := s.f.WriteAt(data, offset)
	if err != nil {
		return Wrap(KindIoError, err)
	}

	end := offset + int64(len(data))
	if rem := end % SectorSize; rem != 0 {
		end += SectorSize - rem
		info, err := s.f.Stat()
		if err != nil {
			return Wrap(KindIoError, err)
		}
		if info.Size() < end {
			if err := s.f.Truncate(end); err != nil {
				return Wrap(KindIoError, err)
			}
		}
	}
	if end > s.size {
		s.size = end
	}

	return nil
}

// Truncate sets the logical (and physical) size of the backing store.
func (s *Store) Truncate(newSize int64) error {
	if s.access != AccessReadWrite {
		return New(KindIoError, "store is read-only")
	}
	if err := s.f.Truncate(newSize); err != nil {
		return Wrap(KindIoError, err)
	}
	s.size = newSize
	return nil
}

// Expand pads the store with zero bytes up to maxSize.
func (s *Store) Expand(maxSize int64) error {
	if maxSize <= s.size {
		return nil
	}
	return s.Truncate(maxSize)
}

// Shrink truncates to the last non-zero-only sector, rounded up to a full
// sector, never going below the catalog boundary (sector 2).
func (s *Store) Shrink(minSize int64) error {
	floor := int64(CatalogSectors) * SectorSize
	if minSize > floor {
		floor = minSize
	}

	lastNonZero := floor
	for offset := s.size - SectorSize; offset >= floor; offset -= SectorSize {
		data, err := s.ReadAt(offset, SectorSize)
		if err != nil {
			return err
		}
		if !isAllZero(data) {
			lastNonZero = offset + SectorSize
			break
		}
	}

	return s.Truncate(lastNonZero)
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	if err := s.f.Close(); err != nil {
		return Wrap(KindIoError, err)
	}
	return nil
}

func isAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
