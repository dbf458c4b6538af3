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
	"testing"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// Pinned to the reference sub-pixel ordering: an order-1 map holding
// its own pixel indices splits into order-0 tiles of width 2 whose
// rows, bottom-up, are [1 3] and [0 2] plus the tile offset.
func TestHealpixToTile(t *testing.T) {
	hpxData := make([]float32, 48)
	for i := range hpxData {
		hpxData[i] = float32(i)
	}
	table, err := healpix.TileIpixArray(1)
	if err != nil {
		t.Fatal(err)
	}

	meta := TileMeta{Order: 0, Ipix: 0, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 2}
	tile, err := HealpixToTile(hpxData, 1, meta, table)
	if err != nil {
		t.Fatal(err)
	}
	data, err := tile.Data()
	if err != nil {
		t.Fatal(err)
	}
	want := [2][2]float32{{1, 3}, {0, 2}} // rows bottom-up
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if data.At(x, y, 0) != want[y][x] {
				t.Errorf("(%d,%d)=%f, want %f", x, y, data.At(x, y, 0), want[y][x])
			}
		}
	}

	meta.Ipix = 5
	tile, err = HealpixToTile(hpxData, 1, meta, table)
	if err != nil {
		t.Fatal(err)
	}
	data, _ = tile.Data()
	if data.At(0, 0, 0) != 21 || data.At(1, 1, 0) != 22 {
		t.Errorf("tile 5 offset wrong: %v", data.Data)
	}
}

func TestHealpixToTiles(t *testing.T) {
	hpxData := make([]float32, 48)
	for i := range hpxData {
		hpxData[i] = float32(i)
	}
	tiles, err := HealpixToTiles(hpxData, 1, 0, 2, codec.FormatFITS, wcs.ICRS)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 12 {
		t.Fatalf("got %d tiles", len(tiles))
	}
	// together the tiles must cover every map pixel exactly once
	seen := make(map[float32]bool)
	for _, tile := range tiles {
		data, err := tile.Data()
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range data.Data {
			if seen[v] {
				t.Fatalf("value %f appears twice", v)
			}
			seen[v] = true
		}
	}
	if len(seen) != 48 {
		t.Errorf("covered %d of 48 pixels", len(seen))
	}
}

func TestHealpixToTileErrors(t *testing.T) {
	table, _ := healpix.TileIpixArray(1)
	meta := TileMeta{Order: 0, Ipix: 0, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 2}
	if _, err := HealpixToTile(make([]float32, 47), 1, meta, table); err == nil {
		t.Errorf("expected error for short map")
	}
	if _, err := HealpixToTiles(make([]float32, 48), 1, 0, 3, codec.FormatFITS, wcs.ICRS); err == nil {
		t.Errorf("expected error for non-power-of-two width")
	}
}
