// This file implements Image: the container of one or two Sides over a
// single Backing store, the top-level handle a CLI command opens.

package dfs

// Image holds 1 or 2 Sides over one Backing store. SideCount, Layout and
// TracksPerSide are decided at open time from explicit options or the
// geometry heuristics the Store itself already applied. Image only needs
// the narrow BackingStore contract to serve its Sides - a standalone
// on-disk Store and an MMB slot window are equally at home here - so
// lifecycle extras (geometry reporting, expand/shrink, close) are reached
// through small optional interfaces rather than a concrete *Store field.
type Image struct {
	store    BackingStore
	geometry Geometry
	sides    []*Side
}

type expandShrinker interface {
	Expand(maxSize int64) error
	Shrink(minSize int64) error
}

type closer interface {
	Close() error
}

// OpenImage opens path and builds an Image over it, loading every side's
// catalog. Warnings from every side are concatenated in side-index order;
// a side with warnings is still present in Sides - read-only listing
// tolerates a bad side per the validator's contract.
func OpenImage(path string, mode OpenMode, access Access, override *GeometryOverride) (*Image, []Warning, error) {
	store, err := Open(path, mode, access, override)
	if err != nil {
		return nil, nil, err
	}

	geometry := store.Geometry()
	sides := make([]*Side, geometry.SideCount)
	var warnings []Warning

	for i := 0; i < geometry.SideCount; i++ {
		side, sideWarnings, err := LoadSide(store, i, geometry)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		sides[i] = side
		warnings = append(warnings, sideWarnings...)
	}

	return &Image{store: store, geometry: geometry, sides: sides}, warnings, nil
}

// CreateImage creates a new, freshly formatted image at path under the
// given geometry, with every side titled and booted as given.
func CreateImage(path string, geometry Geometry, titles []string, bootOption uint8) (*Image, error) {
	override := &GeometryOverride{
		Layout:        &geometry.Layout,
		TracksPerSide: &geometry.TracksPerSide,
		SideCount:     &geometry.SideCount,
	}

	store, err := Open(path, ModeNewFailIfExists, AccessReadWrite, override)
	if err != nil {
		return nil, err
	}

	sides := make([]*Side, geometry.SideCount)
	for i := 0; i < geometry.SideCount; i++ {
		title := ""
		if i < len(titles) {
			title = titles[i]
		}
		side := NewSide(store, i, geometry, title, bootOption)
		if err := side.Flush(); err != nil {
			store.Close()
			return nil, err
		}
		sides[i] = side
	}

	return &Image{store: store, geometry: geometry, sides: sides}, nil
}

// ImageFromSides builds an Image directly from an already-loaded set of
// sides over a caller-owned BackingStore. This is the seam the MMB
// container's slot windows come in through: a slot is a BackingStore like
// any other, so it gets the same Side/catalog machinery without the Image
// type needing to know slots exist. geometry is the caller's own
// authoritative geometry (the one every side was already loaded under) -
// it is not re-derived from the store or the decoded catalog, since a
// slot's catalog may be blank (all zero) before it is ever formatted.
func ImageFromSides(store BackingStore, geometry Geometry, sides []*Side) *Image {
	return &Image{store: store, geometry: geometry, sides: sides}
}

// SideCount is the number of sides this image has.
func (img *Image) SideCount() int {
	return len(img.sides)
}

// Side returns the i'th side (0-based). Panics on out-of-range i, the way
// slice indexing does - callers are expected to check SideCount first.
func (img *Image) Side(i int) *Side {
	return img.sides[i]
}

// Geometry returns the image's physical geometry.
func (img *Image) Geometry() Geometry {
	return img.geometry
}

// Expand pads the backing store up to maxSize. Returns IoError if the
// underlying store has no notion of growth (an MMB slot, for instance, is
// fixed-size by format).
func (img *Image) Expand(maxSize int64) error {
	es, ok := img.store.(expandShrinker)
	if !ok {
		return New(KindIoError, "backing store does not support expand")
	}
	return es.Expand(maxSize)
}

// Shrink truncates the backing store down to its last non-zero-only
// sector, not below minSize.
func (img *Image) Shrink(minSize int64) error {
	es, ok := img.store.(expandShrinker)
	if !ok {
		return New(KindIoError, "backing store does not support shrink")
	}
	return es.Shrink(minSize)
}

// Close flushes every dirty side in index order and then closes the
// backing store, if it owns one. Failure to flush one side does not
// prevent attempting the rest, to minimize loss; the first error
// encountered is what Close reports. An Image built over a borrowed store
// (an MMB slot window) flushes its sides but leaves the store itself
// alone - the container, not the view, owns that file.
func (img *Image) Close() error {
	var firstErr error

	for _, side := range img.sides {
		if err := side.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c, ok := img.store.(closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
