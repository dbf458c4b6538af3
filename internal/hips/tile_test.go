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
	"bytes"
	"math"
	"testing"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/wcs"
)

func TestTileMetaPath(t *testing.T) {
	cases := []struct {
		meta TileMeta
		want string
	}{
		{TileMeta{Order: 3, Ipix: 450, Format: codec.FormatFITS, Width: 512}, "Norder3/Dir0/Npix450.fits"},
		{TileMeta{Order: 6, Ipix: 30889, Format: codec.FormatJPG, Width: 512}, "Norder6/Dir30000/Npix30889.jpg"},
		{TileMeta{Order: 11, Ipix: 345678, Format: codec.FormatPNG, Width: 512}, "Norder11/Dir340000/Npix345678.png"},
	}
	for _, c := range cases {
		if got := c.meta.Path(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestTileMetaValidate(t *testing.T) {
	good := TileMeta{Order: 3, Ipix: 450, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 512}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []TileMeta{
		{Order: -1, Ipix: 0, Width: 512},
		{Order: 0, Ipix: 12, Width: 512},  // npix(0) == 12
		{Order: 3, Ipix: 450, Width: 100}, // not a power of two
		{Order: 30, Ipix: 0, Width: 512},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}

// Pinned against healpy boundary values for order 3, pixel 450.
func TestTileMetaSkyCorners(t *testing.T) {
	meta := TileMeta{Order: 3, Ipix: 450, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 512}
	want := [4][2]float64{
		{264.375, -24.62431835}, // north
		{258.75, -30},           // west
		{264.375, -35.68533471}, // south
		{270, -30},              // east
	}
	corners := meta.SkyCorners()
	for i, c := range corners {
		lon, lat := c.Deg()
		if math.Abs(lon-want[i][0]) > 1e-6 || math.Abs(lat-want[i][1]) > 1e-6 {
			t.Errorf("corner %d: (%f, %f), want (%f, %f)", i, lon, lat, want[i][0], want[i][1])
		}
		if c.Frame != wcs.ICRS {
			t.Errorf("corner %d: frame %v", i, c.Frame)
		}
	}
}

func TestTileLazyDecode(t *testing.T) {
	src := codec.NewArray(4, 4, 1, -32)
	for i := range src.Data {
		src.Data[i] = float32(i)
	}
	buf := bytes.Buffer{}
	if err := codec.Encode(&buf, src, codec.FormatFITS); err != nil {
		t.Fatal(err)
	}

	meta := TileMeta{Order: 1, Ipix: 0, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 4}
	tile := NewTile(meta, buf.Bytes())
	data, err := tile.Data()
	if err != nil {
		t.Fatal(err)
	}
	if data.At(2, 1, 0) != 6 {
		t.Errorf("got %f, want 6", data.At(2, 1, 0))
	}
	// memoized: same array on second access
	data2, err := tile.Data()
	if err != nil {
		t.Fatal(err)
	}
	if &data.Data[0] != &data2.Data[0] {
		t.Errorf("decode not memoized")
	}
}

func TestMissingTileData(t *testing.T) {
	meta := TileMeta{Order: 1, Ipix: 3, Format: codec.FormatJPG, Frame: wcs.ICRS, Width: 8}
	tile := NewMissingTile(meta)
	data, err := tile.Data()
	if err != nil {
		t.Fatal(err)
	}
	if data.Width != 8 || data.Height != 8 || data.Channels != 3 {
		t.Fatalf("got %dx%dx%d", data.Width, data.Height, data.Channels)
	}
	for i, v := range data.Data {
		if v != 0 {
			t.Fatalf("data[%d]=%f, want 0", i, v)
		}
	}
}

func TestTileChildren(t *testing.T) {
	src := codec.NewArray(4, 4, 1, -32)
	for i := range src.Data {
		src.Data[i] = float32(i) // value at (x,y) is 4y+x, row 0 at the bottom
	}
	meta := TileMeta{Order: 2, Ipix: 7, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 4}
	tile, err := NewTileFromPixels(meta, src)
	if err != nil {
		t.Fatal(err)
	}

	children, err := tile.Children()
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 4 {
		t.Fatalf("got %d children", len(children))
	}
	// child k of pixel i is 4i+k; quadrants follow the nested scheme
	want := []struct {
		ipix   int64
		values [4]float32 // (0,0), (1,0), (0,1), (1,1)
	}{
		{28, [4]float32{8, 9, 12, 13}},   // top-left
		{29, [4]float32{0, 1, 4, 5}},     // bottom-left
		{30, [4]float32{10, 11, 14, 15}}, // top-right
		{31, [4]float32{2, 3, 6, 7}},     // bottom-right
	}
	for k, child := range children {
		if child.Meta.Ipix != want[k].ipix || child.Meta.Order != 3 || child.Meta.Width != 2 {
			t.Errorf("child %d: meta %+v", k, child.Meta)
		}
		data, err := child.Data()
		if err != nil {
			t.Fatal(err)
		}
		got := [4]float32{data.At(0, 0, 0), data.At(1, 0, 0), data.At(0, 1, 0), data.At(1, 1, 0)}
		if got != want[k].values {
			t.Errorf("child %d: values %v, want %v", k, got, want[k].values)
		}
	}
}

func TestTileEncodeRoundTrip(t *testing.T) {
	src := codec.NewArray(2, 2, 1, -32)
	src.Data = []float32{1.5, -2.5, 3, 4}
	meta := TileMeta{Order: 0, Ipix: 5, Format: codec.FormatFITS, Frame: wcs.Galactic, Width: 2}
	tile, err := NewTileFromPixels(meta, src)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tile.Encode()
	if err != nil {
		t.Fatal(err)
	}
	tile2 := NewTile(meta, raw)
	data, err := tile2.Data()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range src.Data {
		if data.Data[i] != v {
			t.Errorf("data[%d]=%f, want %f", i, data.Data[i], v)
		}
	}
}
