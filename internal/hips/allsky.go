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
	"fmt"
	"io/ioutil"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// Allsky is the packed preview file a survey may ship for its low
// orders: all tiles of one order packed into a single image, arranged
// row-major in a square-ish grid.
//
// Sub-tiles within the packed image are ordered top to bottom in
// display orientation regardless of the tile format, while individual
// tiles keep row 0 at the bottom, so extraction flips the row order of
// each sub-block.
type Allsky struct {
	Order  int
	Format codec.Format
	Frame  wcs.Frame
	Raw    []byte

	data *codec.Array
}

// NewAllsky wraps raw encoded bytes of an allsky file without decoding.
func NewAllsky(order int, format codec.Format, frame wcs.Frame, raw []byte) *Allsky {
	return &Allsky{Order: order, Format: format, Frame: frame, Raw: raw}
}

// ReadAllsky reads an encoded allsky file from local storage.
func ReadAllsky(order int, format codec.Format, frame wcs.Frame, fileName string) (*Allsky, error) {
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return NewAllsky(order, format, frame, raw), nil
}

// FetchAllsky retrieves the allsky file of the given order from the
// survey's tile server.
func FetchAllsky(survey *Properties, order int, format codec.Format, timeout time.Duration) (*Allsky, error) {
	frame, err := survey.Frame()
	if err != nil {
		return nil, err
	}
	url, err := survey.AllskyURL(order, format)
	if err != nil {
		return nil, err
	}
	raw, err := fetchURL(url, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return NewAllsky(order, format, frame, raw), nil
}

// NumTiles returns the number of sub-tiles the packed image holds.
func (a *Allsky) NumTiles() int64 { return healpix.OrderToNpix(a.Order) }

// TilesPerRow returns the number of sub-tiles per packed image row.
func (a *Allsky) TilesPerRow() int {
	return int(math.Sqrt(float64(a.NumTiles())))
}

// Data returns the decoded packed pixel array, memoized on first access.
func (a *Allsky) Data() (*codec.Array, error) {
	if a.data == nil {
		data, err := codec.Decode(bytes.NewReader(a.Raw), a.Format)
		if err != nil {
			return nil, fmt.Errorf("decoding allsky order %d: %s", a.Order, err.Error())
		}
		a.data = data
	}
	return a.data, nil
}

// TileWidth returns the pixel width of one sub-tile.
func (a *Allsky) TileWidth() (int, error) {
	data, err := a.Data()
	if err != nil {
		return 0, err
	}
	return data.Width / a.TilesPerRow(), nil
}

// Tile extracts the sub-tile with the given pixel index.
func (a *Allsky) Tile(ipix int64) (*Tile, error) {
	data, err := a.Data()
	if err != nil {
		return nil, err
	}
	perRow := a.TilesPerRow()
	w := data.Width / perRow
	rowIdx, colIdx := int(ipix)/perRow, int(ipix)%perRow

	// Sub-tile rows count from the top of the packed image; tile row 0
	// is the bottom row. Both flips combined leave a plain block copy
	// offset from the top.
	yBase := data.Height - (rowIdx+1)*w
	xBase := colIdx * w
	sub := codec.NewArray(w, w, data.Channels, data.Bitpix)
	for c := 0; c < data.Channels; c++ {
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				sub.Set(x, y, c, data.At(xBase+x, yBase+y, c))
			}
		}
	}

	meta := TileMeta{Order: a.Order, Ipix: ipix, Format: a.Format, Frame: a.Frame, Width: w}
	return NewTileFromPixels(meta, sub)
}

// Tiles extracts all sub-tiles, in pixel index order.
func (a *Allsky) Tiles() ([]*Tile, error) {
	n := a.NumTiles()
	tiles := make([]*Tile, n)
	for ipix := int64(0); ipix < n; ipix++ {
		tile, err := a.Tile(ipix)
		if err != nil {
			return nil, err
		}
		tiles[ipix] = tile
	}
	return tiles, nil
}

// NewAllskyFromTiles packs tiles of one order into an allsky image, the
// inverse of Tiles. All tiles must share order, format, frame and width.
func NewAllskyFromTiles(tiles []*Tile) (*Allsky, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to pack")
	}
	first := tiles[0].Meta
	if int64(len(tiles)) != healpix.OrderToNpix(first.Order) {
		return nil, fmt.Errorf("have %d tiles, order %d needs %d", len(tiles), first.Order, healpix.OrderToNpix(first.Order))
	}

	w := first.Width
	perRow := int(math.Sqrt(float64(len(tiles))))
	perCol := len(tiles)/perRow + 1
	firstData, err := tiles[0].Data()
	if err != nil {
		return nil, err
	}
	packed := codec.NewArray(perRow*w, perCol*w, firstData.Channels, firstData.Bitpix)

	for _, tile := range tiles {
		if tile.Meta.Order != first.Order || tile.Meta.Format != first.Format ||
			tile.Meta.Frame != first.Frame || tile.Meta.Width != first.Width {
			return nil, fmt.Errorf("tile %s does not match the first tile's geometry", tile.Meta.Path())
		}
		data, err := tile.Data()
		if err != nil {
			return nil, err
		}
		rowIdx, colIdx := int(tile.Meta.Ipix)/perRow, int(tile.Meta.Ipix)%perRow
		yBase := packed.Height - (rowIdx+1)*w
		xBase := colIdx * w
		for c := 0; c < data.Channels; c++ {
			for y := 0; y < w; y++ {
				for x := 0; x < w; x++ {
					packed.Set(xBase+x, yBase+y, c, data.At(x, y, c))
				}
			}
		}
	}

	a := &Allsky{Order: first.Order, Format: first.Format, Frame: first.Frame, data: packed}
	if err := a.encode(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allsky) encode() error {
	buf := bytes.Buffer{}
	if err := codec.Encode(&buf, a.data, a.Format); err != nil {
		return err
	}
	a.Raw = buf.Bytes()
	return nil
}

// WriteFile writes the encoded allsky image to a local file.
func (a *Allsky) WriteFile(fileName string) error {
	if a.Raw == nil {
		if err := a.encode(); err != nil {
			return err
		}
	}
	return ioutil.WriteFile(fileName, a.Raw, os.FileMode(0644))
}
