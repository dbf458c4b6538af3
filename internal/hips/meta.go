// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package hips

import (
	"fmt"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// TileMeta identifies one tile of a survey: its HEALPix order and pixel
// index in the nested scheme, plus the storage format, sky frame and
// pixel width shared by all tiles of the survey.
type TileMeta struct {
	Order  int
	Ipix   int64
	Format codec.Format
	Frame  wcs.Frame
	Width  int
}

// Validate checks the invariants every tile address must satisfy.
func (m TileMeta) Validate() error {
	if m.Order < 0 || m.Order > healpix.MaxOrder {
		return fmt.Errorf("tile order %d out of range", m.Order)
	}
	if m.Ipix < 0 || m.Ipix >= healpix.OrderToNpix(m.Order) {
		return fmt.Errorf("tile index %d out of range for order %d", m.Ipix, m.Order)
	}
	if m.Width <= 0 || m.Width&(m.Width-1) != 0 {
		return fmt.Errorf("%w: tile width %d is not a power of two", ErrInvalidSurvey, m.Width)
	}
	return nil
}

// Path returns the canonical relative tile path within a survey,
// grouping tiles in directories of ten thousand.
func (m TileMeta) Path() string {
	dir := m.Ipix / 10000 * 10000
	return fmt.Sprintf("Norder%d/Dir%d/Npix%d.%s", m.Order, dir, m.Ipix, m.Format.Ext())
}

// SkyCorners returns the four corner directions of the tile in its sky
// frame, in the order north, west, south, east.
func (m TileMeta) SkyCorners() [4]wcs.SkyCoord {
	corners := healpix.Corners(m.Order, m.Ipix)
	var res [4]wcs.SkyCoord
	for i, c := range corners {
		res[i] = wcs.SkyCoord{Lon: c[0], Lat: c[1], Frame: m.Frame}
	}
	return res
}

// CornerPixelCoordinates returns the tile-local pixel coordinates
// matching the sky corners from SkyCorners, for estimating the
// projective transform of a tile. Pixel row 0 is the bottom row.
func (m TileMeta) CornerPixelCoordinates() [4][2]float64 {
	w := float64(m.Width - 1)
	return [4][2]float64{
		{w, 0}, // north
		{w, w}, // west
		{0, w}, // south
		{0, 0}, // east
	}
}
