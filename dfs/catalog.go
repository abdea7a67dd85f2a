// This file implements the catalog codec: the pure decode/encode pair
// between the two 256-byte catalog sectors of a DFS side and the in-memory
// CatalogView model.

package dfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	maxEntries  = 31
	entrySize   = 8
	titleLen0   = 8
	titleLen1   = 4
	romAddrHigh = 0xFFFF0000
)

// defaultEncoding is the byte order used for every restruct-packed field in
// this package; DFS stores all multi-byte values little-endian.
var defaultEncoding = binary.LittleEndian

// catalogSector0 is the raw on-disk layout of catalog sector 0: an 8-byte
// title fragment followed by 31 8-byte name slots.
type catalogSector0 struct {
	Title0 [titleLen0]byte
	Slots  [maxEntries][entrySize]byte
}

// catalogSector1 is the raw on-disk layout of catalog sector 1: a 4-byte
// title fragment, sequence number, end offset, boot/total-sector fields,
// and 31 8-byte entry extensions parallel to sector 0's name slots.
type catalogSector1 struct {
	Title1       [titleLen1]byte
	Sequence     byte
	EndOffset    byte
	BootAndTotal byte
	TotalLow     byte
	Extensions   [maxEntries][entrySize]byte
}

// FileEntry is the canonical in-memory form of one catalog entry.
type FileEntry struct {
	Name        string
	Dir         byte
	Locked      bool
	LoadAddr    uint32
	ExecAddr    uint32
	Length      uint32
	StartSector uint16
}

// Sectors is the number of 256-byte sectors this entry occupies.
func (e FileEntry) Sectors() int {
	return int((e.Length + SectorSize - 1) / SectorSize)
}

// EndSector is the logical sector one past the last sector this entry
// occupies.
func (e FileEntry) EndSector() int {
	return int(e.StartSector) + e.Sectors()
}

// CatalogView is the decoded, in-memory form of a side's two catalog
// sectors.
type CatalogView struct {
	Title        string
	Sequence     byte
	BootOption   uint8
	TotalSectors int
	Entries      []FileEntry
}

func packTitle(title string) (t0 [titleLen0]byte, t1 [titleLen1]byte) {
	padded := title
	if len(padded) < titleLen0+titleLen1 {
		padded = padded + spaces(titleLen0+titleLen1-len(padded))
	}
	copy(t0[:], padded[:titleLen0])
	copy(t1[:], padded[titleLen0:titleLen0+titleLen1])
	return t0, t1
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// unpackTitle joins the two title fragments and drops the trailing space
// padding; packTitle restores it, so re-encoding reproduces the same bytes.
func unpackTitle(t0 [titleLen0]byte, t1 [titleLen1]byte) string {
	return trimTrailingSpace(string(t0[:]) + string(t1[:]))
}

// canonicalizeAddr applies the DFS ROM-address convention: a stored 18-bit
// value whose top two bits are both set represents a sign-extended FFxxxx
// address rather than a literal small positive value.
func canonicalizeAddr(low16 uint16, high2 uint8) uint32 {
	if high2 == 0x3 {
		return romAddrHigh | uint32(low16)
	}
	return uint32(high2)<<16 | uint32(low16)
}

func deconstructAddr(addr uint32) (low16 uint16, high2 uint8) {
	if addr&romAddrHigh == romAddrHigh {
		return uint16(addr & 0xFFFF), 0x3
	}
	return uint16(addr & 0xFFFF), uint8((addr >> 16) & 0x3)
}

// decodeEntry decodes one 8+8 byte slot/extension pair into a FileEntry.
func decodeEntry(slot, ext [entrySize]byte) FileEntry {
	name := make([]byte, 0, 7)
	for _, b := range slot[:7] {
		name = append(name, b)
	}
	dirByte := slot[7]
	locked := dirByte&0x80 != 0
	dir := dirByte & 0x7F

	loadLow := uint16(ext[0]) | uint16(ext[1])<<8
	execLow := uint16(ext[2]) | uint16(ext[3])<<8
	lengthLow := uint16(ext[4]) | uint16(ext[5])<<8

	high := ext[6]
	execHigh := (high >> 6) & 0x3
	lengthHigh := (high >> 4) & 0x3
	loadHigh := (high >> 2) & 0x3
	startHigh := high & 0x3

	startSector := uint16(startHigh)<<8 | uint16(ext[7])

	return FileEntry{
		Name:        trimTrailingSpace(string(name)),
		Dir:         dir,
		Locked:      locked,
		LoadAddr:    canonicalizeAddr(loadLow, loadHigh),
		ExecAddr:    canonicalizeAddr(execLow, execHigh),
		Length:      uint32(lengthHigh)<<16 | uint32(lengthLow),
		StartSector: startSector,
	}
}

func trimTrailingSpace(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}

// encodeEntry encodes a FileEntry into its 8+8 byte slot/extension pair.
func encodeEntry(e FileEntry) (slot, ext [entrySize]byte) {
	name := e.Name
	if len(name) < 7 {
		name = name + spaces(7-len(name))
	}
	copy(slot[:7], name[:7])

	dirByte := e.Dir & 0x7F
	if e.Locked {
		dirByte |= 0x80
	}
	slot[7] = dirByte

	loadLow, loadHigh := deconstructAddr(e.LoadAddr)
	execLow, execHigh := deconstructAddr(e.ExecAddr)
	lengthLow := uint16(e.Length & 0xFFFF)
	lengthHigh := uint8((e.Length >> 16) & 0x3)

	ext[0] = byte(loadLow)
	ext[1] = byte(loadLow >> 8)
	ext[2] = byte(execLow)
	ext[3] = byte(execLow >> 8)
	ext[4] = byte(lengthLow)
	ext[5] = byte(lengthLow >> 8)
	ext[6] = (execHigh&0x3)<<6 | (lengthHigh&0x3)<<4 | (loadHigh&0x3)<<2 | byte((e.StartSector>>8)&0x3)
	ext[7] = byte(e.StartSector & 0xFF)

	return slot, ext
}

// DecodeCatalog decodes the two raw 256-byte catalog sectors into a
// CatalogView. Decode never fails on a byte stream: unrepresentable or
// out-of-range fields are carried through as-is and left for the
// Validator to flag, mirroring the teacher's tolerant parse-then-validate
// split between ExfatReader.Parse and the directory-entry enumerator.
func DecodeCatalog(sector0, sector1 [SectorSize]byte) (view CatalogView, warnings []Warning) {
	var s0 catalogSector0
	var s1 catalogSector1

	if err := restruct.Unpack(sector0[:], defaultEncoding, &s0); err != nil {
		warnings = append(warnings, Warning{Kind: WarnCatalogUnreadable, Message: err.Error()})
		return CatalogView{}, warnings
	}
	if err := restruct.Unpack(sector1[:], defaultEncoding, &s1); err != nil {
		warnings = append(warnings, Warning{Kind: WarnCatalogUnreadable, Message: err.Error()})
		return CatalogView{}, warnings
	}

	numFiles := int(s1.EndOffset) / entrySize
	if int(s1.EndOffset)%entrySize != 0 {
		warnings = append(warnings, Warning{Kind: WarnEndOffsetMismatch, Message: "end-offset is not a multiple of 8"})
	}
	if numFiles < 0 || numFiles > maxEntries {
		warnings = append(warnings, Warning{Kind: WarnNumberOfFilesRange, Message: "number-of-files out of range"})
		if numFiles > maxEntries {
			numFiles = maxEntries
		}
		if numFiles < 0 {
			numFiles = 0
		}
	}

	entries := make([]FileEntry, 0, numFiles)
	for i := 0; i < numFiles; i++ {
		entries = append(entries, decodeEntry(s0.Slots[i], s1.Extensions[i]))
	}

	totalSectors := int(s1.BootAndTotal&0x30)<<4 | int(s1.TotalLow)
	bootOption := s1.BootAndTotal & 0x3

	view = CatalogView{
		Title:        unpackTitle(s0.Title0, s1.Title1),
		Sequence:     s1.Sequence,
		BootOption:   bootOption,
		TotalSectors: totalSectors,
		Entries:      entries,
	}

	return view, warnings
}

// EncodeCatalog encodes a well-formed CatalogView into its two raw 256-byte
// catalog sectors. Encode is total on any model that satisfies the basic
// shape constraints (entry count, name length); it is byte-exact invertible
// with DecodeCatalog on previously-encoded bytes.
func EncodeCatalog(view CatalogView) (sector0, sector1 [SectorSize]byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if asErr, ok := errRaw.(error); ok {
				err = NewStacked(KindCatalogCorrupt, asErr)
			} else {
				err = NewStacked(KindCatalogCorrupt, fmt.Errorf("panic encoding catalog: %v", errRaw))
			}
		}
	}()

	if len(view.Entries) > maxEntries {
		log.Panicf("too many entries to encode: %d", len(view.Entries))
	}

	var s0 catalogSector0
	var s1 catalogSector1

	s0.Title0, s1.Title1 = packTitle(view.Title)
	s1.Sequence = view.Sequence
	s1.EndOffset = byte(len(view.Entries) * entrySize)
	s1.BootAndTotal = (view.BootOption & 0x3) | byte((view.TotalSectors>>4)&0x30)
	s1.TotalLow = byte(view.TotalSectors & 0xFF)

	for i, e := range view.Entries {
		slot, ext := encodeEntry(e)
		s0.Slots[i] = slot
		s1.Extensions[i] = ext
	}

	raw0, packErr := restruct.Pack(defaultEncoding, &s0)
	if packErr != nil {
		log.Panic(packErr)
	}
	raw1, packErr := restruct.Pack(defaultEncoding, &s1)
	if packErr != nil {
		log.Panic(packErr)
	}

	copy(sector0[:], raw0)
	copy(sector1[:], raw1)

	return sector0, sector1, nil
}

// bcdIncrement increments a BCD byte by one, wrapping 0x99 back to 0x00.
func bcdIncrement(b byte) byte {
	lo := b & 0x0F
	hi := (b >> 4) & 0x0F

	lo++
	if lo == 0x0A {
		lo = 0
		hi++
	}
	if hi == 0x0A {
		hi = 0
	}

	return hi<<4 | lo
}

// validBCD reports whether both nibbles of b are valid decimal digits.
func validBCD(b byte) bool {
	return (b&0x0F) <= 9 && ((b>>4)&0x0F) <= 9
}
