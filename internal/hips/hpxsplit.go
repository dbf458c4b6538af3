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
	"math/bits"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// HealpixToTile builds the survey tile with the given index from a
// full-sphere HEALPix map in the nested scheme. The map must be sampled
// at order tileOrder + log2(tileWidth); hpxData holds channels
// interleaved per map pixel. The ipixTable comes from
// healpix.TileIpixArray for the tile's shift order.
func HealpixToTile(hpxData []float32, channels int, meta TileMeta, ipixTable []int64) (*Tile, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	w := meta.Width
	if len(ipixTable) != w*w {
		return nil, fmt.Errorf("ipix table has %d entries, want %d", len(ipixTable), w*w)
	}
	shift := bits.TrailingZeros(uint(w))
	mapPixels := healpix.OrderToNpix(meta.Order + shift)
	if int64(len(hpxData)) != mapPixels*int64(channels) {
		return nil, fmt.Errorf("map has %d values, order %d with %d channels needs %d",
			len(hpxData), meta.Order+shift, channels, mapPixels*int64(channels))
	}

	bitpix := int32(-32)
	if meta.Format != codec.FormatFITS {
		bitpix = 8
	}
	offset := meta.Ipix * int64(w) * int64(w)

	// The natural sub-pixel order within a tile comes out rotated a
	// quarter turn against the tile raster convention.
	data := codec.NewArray(w, w, channels, bitpix)
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			ipix := offset + ipixTable[x*w+(w-1-y)]
			for c := 0; c < channels; c++ {
				data.Set(x, y, c, hpxData[ipix*int64(channels)+int64(c)])
			}
		}
	}
	return NewTileFromPixels(meta, data)
}

// HealpixToTiles converts a full-sphere HEALPix map into the complete
// set of survey tiles at the given order, in pixel index order.
func HealpixToTiles(hpxData []float32, channels int, order, tileWidth int, format codec.Format, frame wcs.Frame) ([]*Tile, error) {
	if tileWidth <= 0 || tileWidth&(tileWidth-1) != 0 {
		return nil, fmt.Errorf("%w: tile width %d is not a power of two", ErrInvalidSurvey, tileWidth)
	}
	table, err := healpix.TileIpixArray(bits.TrailingZeros(uint(tileWidth)))
	if err != nil {
		return nil, err
	}

	n := healpix.OrderToNpix(order)
	tiles := make([]*Tile, n)
	for ipix := int64(0); ipix < n; ipix++ {
		meta := TileMeta{Order: order, Ipix: ipix, Format: format, Frame: frame, Width: tileWidth}
		tile, err := HealpixToTile(hpxData, channels, meta, table)
		if err != nil {
			return nil, err
		}
		tiles[ipix] = tile
	}
	return tiles, nil
}
