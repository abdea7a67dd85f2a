package dfs

import "testing"

func TestAddrCanonicalizationRoundTrip(t *testing.T) {
	// Ordinary addresses (top two bits not both set) round-trip as-is.
	for _, addr := range []uint32{0, 0x1900, 0x8023, 0x20000, 0x2FFFF} {
		low, high := deconstructAddr(addr)
		if got := canonicalizeAddr(low, high); got != addr {
			t.Fatalf("round-trip addr 0x%X: got 0x%X", addr, got)
		}
	}
}

func TestAddrCanonicalizationROMConvention(t *testing.T) {
	// The documented ROM convention: an 18-bit address with top two bits
	// both set sign-extends to FFxxxx.
	romAddr := uint32(romAddrHigh | 0x8000)
	low, high := deconstructAddr(romAddr)
	if high != 0x3 {
		t.Fatalf("ROM address did not deconstruct to high=0x3, got 0x%X", high)
	}
	if got := canonicalizeAddr(low, high); got != romAddr {
		t.Fatalf("ROM address round-trip: got 0x%X, want 0x%X", got, romAddr)
	}
}

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	entry := FileEntry{
		Name:        "HELLO",
		Dir:         '$',
		Locked:      true,
		LoadAddr:    0x1900,
		ExecAddr:    0x8023,
		Length:      100,
		StartSector: 399,
	}

	slot, ext := encodeEntry(entry)
	got := decodeEntry(slot, ext)

	if got != entry {
		t.Fatalf("entry round-trip: got %+v, want %+v", got, entry)
	}
}

func TestCatalogEncodeDecodeRoundTrip(t *testing.T) {
	view := CatalogView{
		Title:        "GAMES",
		Sequence:     0x01,
		BootOption:   2,
		TotalSectors: 800,
		Entries: []FileEntry{
			{Name: "A", Dir: '$', Locked: true, LoadAddr: 0x1900, ExecAddr: 0x8023, Length: 100, StartSector: 799},
			{Name: "BOOT", Dir: '$', LoadAddr: 0xFFFF0E00, ExecAddr: 0xFFFF8023, Length: 256, StartSector: 798},
		},
	}

	sector0, sector1, err := EncodeCatalog(view)
	if err != nil {
		t.Fatalf("EncodeCatalog: %v", err)
	}

	got, warnings := DecodeCatalog(sector0, sector1)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings decoding a freshly encoded catalog: %+v", warnings)
	}

	if got.Title != view.Title {
		t.Fatalf("title = %q, want %q", got.Title, view.Title)
	}
	if got.Sequence != view.Sequence {
		t.Fatalf("sequence = 0x%02X, want 0x%02X", got.Sequence, view.Sequence)
	}
	if got.BootOption != view.BootOption {
		t.Fatalf("boot option = %d, want %d", got.BootOption, view.BootOption)
	}
	if got.TotalSectors != view.TotalSectors {
		t.Fatalf("total sectors = %d, want %d", got.TotalSectors, view.TotalSectors)
	}
	if len(got.Entries) != len(view.Entries) {
		t.Fatalf("entry count = %d, want %d", len(got.Entries), len(view.Entries))
	}
	for i, e := range got.Entries {
		if e != view.Entries[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, e, view.Entries[i])
		}
	}

	// Re-encoding a decoded view must reproduce the identical bytes.
	sector0b, sector1b, err := EncodeCatalog(got)
	if err != nil {
		t.Fatalf("EncodeCatalog (second pass): %v", err)
	}
	if sector0b != sector0 || sector1b != sector1 {
		t.Fatalf("re-encoding a decoded catalog did not reproduce the original bytes")
	}
}

func TestBCDIncrement(t *testing.T) {
	cases := []struct{ in, want byte }{
		{0x00, 0x01},
		{0x09, 0x10},
		{0x98, 0x99},
		{0x99, 0x00},
	}
	for _, c := range cases {
		if got := bcdIncrement(c.in); got != c.want {
			t.Fatalf("bcdIncrement(0x%02X) = 0x%02X, want 0x%02X", c.in, got, c.want)
		}
	}
}

func TestValidBCD(t *testing.T) {
	if !validBCD(0x42) {
		t.Fatalf("0x42 should be valid BCD")
	}
	if validBCD(0xFA) {
		t.Fatalf("0xFA should not be valid BCD")
	}
}
