package dfs

import "fmt"

// SectorSize is the fixed DFS sector size in bytes.
const SectorSize = 256

// SectorsPerTrack is fixed by the Acorn DFS format.
const SectorsPerTrack = 10

// CatalogSectors is the number of sectors at the head of every side that
// hold the catalog (sectors 0 and 1).
const CatalogSectors = 2

// Layout describes how a multi-side image interleaves its sides on disk.
type Layout int

// Layout values.
const (
	// LayoutInterleaved stores track N of side 0, then track N of side 1,
	// for each N. Standard for .dsd.
	LayoutInterleaved Layout = iota
	// LayoutLinear stores all tracks of side 0, then all tracks of side 1.
	// Standard for double-sided .ssd (sometimes called sequential).
	LayoutLinear
)

func (l Layout) String() string {
	if l == LayoutLinear {
		return "linear"
	}
	return "interleaved"
}

// Geometry describes the physical shape of a DFS image: how many sides it
// has, how many tracks per side, and how those sides are interleaved in the
// backing file.
type Geometry struct {
	Layout        Layout
	TracksPerSide int
	SideCount     int
}

// SectorsPerSide is the logical sector count of a single side.
func (g Geometry) SectorsPerSide() int {
	return g.TracksPerSide * SectorsPerTrack
}

// BytesPerSide is the byte size of a single side.
func (g Geometry) BytesPerSide() int64 {
	return int64(g.SectorsPerSide()) * SectorSize
}

// TotalSize is the byte size of the whole image file under this geometry.
func (g Geometry) TotalSize() int64 {
	return g.BytesPerSide() * int64(g.SideCount)
}

// Validate rejects nonsensical geometries.
func (g Geometry) Validate() error {
	if g.TracksPerSide != 40 && g.TracksPerSide != 80 {
		return New(KindGeometryAmbiguous, "tracks-per-side must be 40 or 80, got %d", g.TracksPerSide)
	}
	if g.SideCount != 1 && g.SideCount != 2 {
		return New(KindGeometryAmbiguous, "side-count must be 1 or 2, got %d", g.SideCount)
	}
	return nil
}

// SectorOffset translates a logical sector number on a given side to a byte
// offset in the backing file, per the side's layout.
func (g Geometry) SectorOffset(side, logicalSector int) (int64, error) {
	sectorsPerSide := g.SectorsPerSide()

	if logicalSector < 0 || logicalSector >= sectorsPerSide {
		return 0, New(KindAddressOutOfRange, "logical sector %d out of range [0, %d)", logicalSector, sectorsPerSide)
	}
	if side < 0 || side >= g.SideCount {
		return 0, New(KindAddressOutOfRange, "side %d out of range [0, %d)", side, g.SideCount)
	}

	switch g.Layout {
	case LayoutLinear:
		return int64(side)*g.BytesPerSide() + int64(logicalSector)*SectorSize, nil
	case LayoutInterleaved:
		track := logicalSector / SectorsPerTrack
		sector := logicalSector % SectorsPerTrack
		trackOffset := int64(track*g.SideCount+side) * SectorsPerTrack * SectorSize
		return trackOffset + int64(sector)*SectorSize, nil
	default:
		return 0, fmt.Errorf("unknown layout %v", g.Layout)
	}
}

// TrackSectorOffset is SectorOffset accepting a physical track/sector
// address instead of a logical sector number.
func (g Geometry) TrackSectorOffset(side, track, sector int) (int64, error) {
	if sector < 0 || sector >= SectorsPerTrack {
		return 0, New(KindAddressOutOfRange, "sector %d out of range [0, %d)", sector, SectorsPerTrack)
	}
	return g.SectorOffset(side, track*SectorsPerTrack+sector)
}

// canonicalSizes enumerates the byte sizes this engine recognizes without
// an explicit override, largest first. Promotion-on-truncation compares the
// sizes itself to pick the smallest canonical size that still covers a
// given file.
var canonicalSizes = []struct {
	size int64
	geom Geometry
}{
	{409600, Geometry{Layout: LayoutInterleaved, TracksPerSide: 80, SideCount: 2}},
	{204800, Geometry{Layout: LayoutInterleaved, TracksPerSide: 40, SideCount: 2}},
	{204800, Geometry{Layout: LayoutLinear, TracksPerSide: 80, SideCount: 1}},
	{102400, Geometry{Layout: LayoutLinear, TracksPerSide: 40, SideCount: 1}},
}

// GeometryOverride narrows an otherwise-ambiguous geometry inference.
type GeometryOverride struct {
	Layout        *Layout
	TracksPerSide *int
	SideCount     *int
}

func (o GeometryOverride) apply(g Geometry) Geometry {
	if o.Layout != nil {
		g.Layout = *o.Layout
	}
	if o.TracksPerSide != nil {
		g.TracksPerSide = *o.TracksPerSide
	}
	if o.SideCount != nil {
		g.SideCount = *o.SideCount
	}
	return g
}

// InferGeometry implements the size-based geometry heuristics of the
// storage engine: canonical sizes map directly (modulo the one genuinely
// ambiguous size, 204800, which resolves to 80-track single-sided unless an
// override selects another geometry of that size), and undersized
// files are treated as a truncated image promoted to the smallest
// canonical size that covers them.
func InferGeometry(size int64, override *GeometryOverride) (Geometry, error) {
	if override != nil && override.TracksPerSide != nil && override.SideCount != nil {
		g := Geometry{
			Layout:        LayoutInterleaved,
			TracksPerSide: *override.TracksPerSide,
			SideCount:     *override.SideCount,
		}
		g = override.apply(g)
		if err := g.Validate(); err != nil {
			return Geometry{}, err
		}
		return g, nil
	}

	// Exact canonical match.
	var candidates []Geometry
	for _, c := range canonicalSizes {
		if c.size == size {
			candidates = append(candidates, c.geom)
		}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	if len(candidates) > 1 {
		if override == nil {
			// Absent an override, the 80-track single-sided interpretation
			// wins for the one genuinely ambiguous size (204800).
			for _, c := range candidates {
				if c.SideCount == 1 {
					return c, nil
				}
			}
			return Geometry{}, New(KindGeometryAmbiguous, "size %d is ambiguous between %d candidate geometries; an explicit override is required", size, len(candidates))
		}
		for _, c := range candidates {
			resolved := override.apply(c)
			if resolved.TotalSize() == size {
				return resolved, nil
			}
		}
		return Geometry{}, New(KindGeometryAmbiguous, "override does not resolve ambiguous size %d", size)
	}

	// Smaller than canonical: a truncated image, promoted to the smallest
	// canonical size that still covers it.
	best := Geometry{}
	bestSize := int64(-1)
	for _, c := range canonicalSizes {
		if c.size >= size && (bestSize == -1 || c.size < bestSize) {
			best = c.geom
			bestSize = c.size
		}
	}
	if bestSize == -1 {
		return Geometry{}, New(KindNotAnImage, "size %d exceeds every canonical DFS geometry", size)
	}
	if override != nil {
		best = override.apply(best)
	}
	if err := best.Validate(); err != nil {
		return Geometry{}, err
	}
	return best, nil
}
