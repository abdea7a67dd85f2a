// This file implements cross-layout conversion: copying every sector of
// one geometry's backing store into another geometry's backing store,
// the primitive behind turning a linear .ssd into an interleaved .dsd
// (or back) without touching catalog contents.

package dfs

import "github.com/pkg/errors"

// ConvertLayout copies every (side, track, sector) of src (under
// srcGeometry) into dst (under dstGeometry). The two geometries must agree
// on side count and tracks per side; only the sector addressing (layout)
// may differ. For every physical address, the byte content at the source
// offset lands at the destination offset for that same address - this is
// the property that makes an interleaved .dsd and a linear .ssd of the
// same volume byte-equivalent at the sector level even though their file
// offsets differ.
func ConvertLayout(src BackingStore, srcGeometry Geometry, dst BackingStore, dstGeometry Geometry) error {
	if srcGeometry.TracksPerSide != dstGeometry.TracksPerSide {
		return errors.Errorf("tracks-per-side mismatch: %d vs %d", srcGeometry.TracksPerSide, dstGeometry.TracksPerSide)
	}
	if srcGeometry.SideCount != dstGeometry.SideCount {
		return errors.Errorf("side-count mismatch: %d vs %d", srcGeometry.SideCount, dstGeometry.SideCount)
	}

	for side := 0; side < srcGeometry.SideCount; side++ {
		for track := 0; track < srcGeometry.TracksPerSide; track++ {
			for sector := 0; sector < SectorsPerTrack; sector++ {
				srcOff, err := srcGeometry.TrackSectorOffset(side, track, sector)
				if err != nil {
					return errors.Wrapf(err, "source offset for side %d track %d sector %d", side, track, sector)
				}
				dstOff, err := dstGeometry.TrackSectorOffset(side, track, sector)
				if err != nil {
					return errors.Wrapf(err, "destination offset for side %d track %d sector %d", side, track, sector)
				}

				data, err := src.ReadAt(srcOff, SectorSize)
				if err != nil {
					return errors.Wrapf(err, "reading side %d track %d sector %d", side, track, sector)
				}
				if err := dst.WriteAt(dstOff, data); err != nil {
					return errors.Wrapf(err, "writing side %d track %d sector %d", side, track, sector)
				}
			}
		}
	}

	return nil
}
