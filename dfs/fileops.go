// This file implements the file-operations surface used by commands:
// import, export, cross-image copy and content digesting. The host-side
// concerns the specification calls out as external collaborators -
// filename translation, .inf sidecar authoring, hashing algorithms
// themselves - stay outside this package; it only defines the narrow
// contract each one plugs into.

package dfs

import (
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
)

// InfSidecar is the decoded form of a DFS .inf sidecar line: one line of
// whitespace-separated tokens, `name load_addr exec_addr length [access]`,
// addresses in bare hex. The core only consumes this shape; parsing host
// .inf files into it is an external concern.
type InfSidecar struct {
	Name     string
	LoadAddr uint32
	ExecAddr uint32
	Length   uint32
	Locked   bool
}

// ParseInfSidecar parses one .inf line. It is the narrow, internal
// counterpart to the external host-filename/sidecar translation layer:
// useful for tests and for callers that already have a line of text and
// want the core's own notion of the format, not a general-purpose parser.
func ParseInfSidecar(line string) (InfSidecar, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return InfSidecar{}, New(KindIoError, "malformed .inf line: %q", line)
	}

	load, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return InfSidecar{}, New(KindIoError, "bad load address in .inf line: %q", line)
	}
	exec, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return InfSidecar{}, New(KindIoError, "bad exec address in .inf line: %q", line)
	}
	length, err := strconv.ParseUint(fields[3], 16, 32)
	if err != nil {
		return InfSidecar{}, New(KindIoError, "bad length in .inf line: %q", line)
	}

	locked := false
	if len(fields) >= 5 && strings.Contains(fields[4], "L") {
		locked = true
	}

	return InfSidecar{
		Name:     fields[0],
		LoadAddr: uint32(load),
		ExecAddr: uint32(exec),
		Length:   uint32(length),
		Locked:   locked,
	}, nil
}

// InfPolicy controls whether Export synthesizes a sidecar and whether
// Import requires one.
type InfPolicy int

// Inf policies.
const (
	InfNever InfPolicy = iota
	InfIfInteresting
	InfAlways
)

// ImportOptions carries the metadata Import needs beyond the raw bytes,
// plus the collision/lock behavior to forward to AddFile.
type ImportOptions struct {
	Sidecar  *InfSidecar
	Policy   InfPolicy
	Dir      byte
	Replace  bool
	IgnoreAccess bool
	Compact  bool
}

// Import adds data to the side under the metadata carried by opts.Sidecar,
// or bare defaults (load/exec 0, unlocked) if the policy allows it.
func (s *Side) Import(name string, data []byte, opts ImportOptions) error {
	var sc InfSidecar
	if opts.Sidecar != nil {
		sc = *opts.Sidecar
	} else if opts.Policy == InfAlways {
		return New(KindIoError, "import of %q requires a .inf sidecar", name)
	}
	if sc.Name == "" {
		sc.Name = name
	}
	sc.Length = uint32(len(data))

	return s.AddFile(sc.Name, opts.Dir, sc.LoadAddr, sc.ExecAddr, sc.Locked, data, AddFileOptions{
		Replace:      opts.Replace,
		IgnoreAccess: opts.IgnoreAccess,
		Compact:      opts.Compact,
	})
}

// Export reads a file's bytes and, per policy, synthesizes the sidecar a
// host-side exporter would write alongside it.
func (s *Side) Export(name string, dir byte, policy InfPolicy) ([]byte, *InfSidecar, error) {
	entry, data, err := s.ReadFile(name, dir)
	if err != nil {
		return nil, nil, err
	}

	switch policy {
	case InfNever:
		return data, nil, nil
	case InfAlways:
		sc := sidecarFor(entry)
		return data, &sc, nil
	default: // InfIfInteresting
		if entry.LoadAddr != 0 || entry.ExecAddr != 0 || entry.Locked {
			sc := sidecarFor(entry)
			return data, &sc, nil
		}
		return data, nil, nil
	}
}

func sidecarFor(e FileEntry) InfSidecar {
	return InfSidecar{
		Name:     e.Name,
		LoadAddr: e.LoadAddr,
		ExecAddr: e.ExecAddr,
		Length:   e.Length,
		Locked:   e.Locked,
	}
}

// CopyOverOptions controls cross-image copy collision/lock behavior and
// which attributes survive the copy.
type CopyOverOptions struct {
	Replace      bool
	IgnoreAccess bool
	Compact      bool
	PreserveAttr bool
}

// CopyOver copies every entry of src matching match into dst, one
// add_file per matched entry.
func (src *Side) CopyOver(dst *Side, match func(FileEntry) bool, opts CopyOverOptions) error {
	for _, e := range src.Entries() {
		if match != nil && !match(e) {
			continue
		}

		_, data, err := src.ReadFile(e.Name, e.Dir)
		if err != nil {
			return err
		}

		locked := false
		if opts.PreserveAttr {
			locked = e.Locked
		}

		if err := dst.AddFile(e.Name, e.Dir, e.LoadAddr, e.ExecAddr, locked, data, AddFileOptions{
			Replace:      opts.Replace,
			IgnoreAccess: opts.IgnoreAccess,
			Compact:      opts.Compact,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DigestMode selects which bytes a Digest covers.
type DigestMode int

// Digest modes.
const (
	DigestData DigestMode = iota
	DigestDataAddr
	DigestDataAddrAccess
	DigestWholeSide
	DigestUsedSectors
	DigestSortedFiles
)

// HashFunc constructs a fresh hash primitive; the core treats hashing as a
// pure byte-in/digest-out dependency and never chooses the algorithm
// itself.
type HashFunc func() hash.Hash

// Digest computes a content digest of one file under mode. DigestData is
// independent of load/exec/locked; every other per-file mode folds at
// least one of them in, so it changes iff one of those fields changes.
func (s *Side) Digest(name string, dir byte, mode DigestMode, newHash HashFunc) ([]byte, error) {
	entry, data, err := s.ReadFile(name, dir)
	if err != nil {
		return nil, err
	}

	h := newHash()
	h.Write(data)

	switch mode {
	case DigestData:
	case DigestDataAddr:
		writeAddr(h, entry.LoadAddr, entry.ExecAddr)
	case DigestDataAddrAccess:
		writeAddr(h, entry.LoadAddr, entry.ExecAddr)
		writeAccess(h, entry.Locked)
	default:
		return nil, New(KindIoError, "digest mode %d is not a per-file mode", mode)
	}

	return h.Sum(nil), nil
}

// DigestSide computes a digest over the whole side surface, the used
// sectors only, or the sorted concatenation of every file's bytes.
func (s *Side) DigestSide(mode DigestMode, newHash HashFunc) ([]byte, error) {
	h := newHash()

	switch mode {
	case DigestWholeSide:
		for sector := 0; sector < s.totalSectors; sector++ {
			off, err := s.sectorOffset(sector)
			if err != nil {
				return nil, err
			}
			data, err := s.store.ReadAt(off, SectorSize)
			if err != nil {
				return nil, Wrap(KindIoError, err)
			}
			h.Write(data)
		}
	case DigestUsedSectors:
		sec0, sec1, err := s.ReadCatalogSectors()
		if err != nil {
			return nil, err
		}
		h.Write(sec0[:])
		h.Write(sec1[:])
		for _, e := range sortedByStart(s.entries) {
			off, err := s.sectorOffset(int(e.StartSector))
			if err != nil {
				return nil, err
			}
			data, err := s.store.ReadAt(off, e.Sectors()*SectorSize)
			if err != nil {
				return nil, Wrap(KindIoError, err)
			}
			h.Write(data)
		}
	case DigestSortedFiles:
		for _, e := range sortedByName(s.entries) {
			_, data, err := s.ReadFile(e.Name, e.Dir)
			if err != nil {
				return nil, err
			}
			h.Write(data)
		}
	default:
		return nil, New(KindIoError, "digest mode %d is not a whole-side mode", mode)
	}

	return h.Sum(nil), nil
}

// DigestCatalogSectors hashes exactly the two on-disk catalog sectors, the
// primitive a `digest(sector=0-1, ...)` command is built from.
func (s *Side) DigestCatalogSectors(newHash HashFunc) ([]byte, error) {
	sec0, sec1, err := s.ReadCatalogSectors()
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(sec0[:])
	h.Write(sec1[:])
	return h.Sum(nil), nil
}

func writeAddr(h hash.Hash, load, exec uint32) {
	fmt.Fprintf(h, "%08x%08x", load, exec)
}

func writeAccess(h hash.Hash, locked bool) {
	if locked {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}

func sortedByStart(entries []FileEntry) []FileEntry {
	out := make([]FileEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].StartSector < out[j].StartSector })
	return out
}

func sortedByName(entries []FileEntry) []FileEntry {
	out := make([]FileEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		ki := fmt.Sprintf("%c.%s", upper(out[i].Dir), upperName(out[i].Name))
		kj := fmt.Sprintf("%c.%s", upper(out[j].Dir), upperName(out[j].Name))
		return ki < kj
	})
	return out
}
