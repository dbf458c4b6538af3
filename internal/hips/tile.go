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
	"os"

	"github.com/mlnoga/skypaint/internal/codec"
)

// Tile is one fetched survey tile. Raw bytes are decoded on first pixel
// access and memoized. A missing tile has no raw bytes and decodes to
// an all-zero array.
type Tile struct {
	Meta    TileMeta
	Raw     []byte
	Missing bool

	data *codec.Array
}

// NewTile wraps raw encoded bytes into a tile without decoding them.
func NewTile(meta TileMeta, raw []byte) *Tile {
	return &Tile{Meta: meta, Raw: raw}
}

// NewMissingTile creates the placeholder for a tile that could not be
// retrieved. Its pixel data is all zero.
func NewMissingTile(meta TileMeta) *Tile {
	return &Tile{Meta: meta, Missing: true}
}

// NewTileFromPixels creates a tile directly from decoded pixel data.
// The array must be square with the width given in meta.
func NewTileFromPixels(meta TileMeta, data *codec.Array) (*Tile, error) {
	if data.Width != meta.Width || data.Height != meta.Width {
		return nil, fmt.Errorf("pixel array is %dx%d, tile meta wants %dx%d",
			data.Width, data.Height, meta.Width, meta.Width)
	}
	return &Tile{Meta: meta, data: data}, nil
}

// ReadTile reads an encoded tile from a local file.
func ReadTile(meta TileMeta, fileName string) (*Tile, error) {
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return NewTile(meta, raw), nil
}

// WriteFile encodes the tile and writes it to a local file.
func (t *Tile) WriteFile(fileName string) error {
	raw, err := t.Encode()
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fileName, raw, os.FileMode(0644))
}

// Encode returns the encoded bytes of the tile, encoding its pixel data
// if the tile was created from pixels rather than read from storage.
func (t *Tile) Encode() ([]byte, error) {
	if t.Raw != nil {
		return t.Raw, nil
	}
	data, err := t.Data()
	if err != nil {
		return nil, err
	}
	buf := bytes.Buffer{}
	if err := codec.Encode(&buf, data, t.Meta.Format); err != nil {
		return nil, err
	}
	t.Raw = buf.Bytes()
	return t.Raw, nil
}

// Data returns the decoded pixel array of the tile, decoding and
// memoizing on first access. Missing tiles yield all zeros.
func (t *Tile) Data() (*codec.Array, error) {
	if t.data != nil {
		return t.data, nil
	}
	if t.Missing {
		t.data = codec.NewArray(t.Meta.Width, t.Meta.Width, t.Meta.Format.Channels(), 8)
		return t.data, nil
	}
	data, err := codec.Decode(bytes.NewReader(t.Raw), t.Meta.Format)
	if err != nil {
		return nil, fmt.Errorf("decoding tile %s: %s", t.Meta.Path(), err.Error())
	}
	t.data = data
	return t.data, nil
}

// Children bisects the tile pixel array into four quadrants and returns
// the four child tiles at order+1. In the nested scheme child k of
// pixel i has index 4i+k; children 0..3 take the top-left, bottom-left,
// top-right and bottom-right quadrant respectively, with row 0 at the
// bottom.
func (t *Tile) Children() ([]*Tile, error) {
	data, err := t.Data()
	if err != nil {
		return nil, err
	}
	w := data.Height / 2
	quadrants := [4][2]int{ // x offset, y offset per child index
		{0, w}, // top-left
		{0, 0}, // bottom-left
		{w, w}, // top-right
		{w, 0}, // bottom-right
	}

	tiles := make([]*Tile, 4)
	for idx, q := range quadrants {
		sub := codec.NewArray(w, w, data.Channels, data.Bitpix)
		for c := 0; c < data.Channels; c++ {
			for y := 0; y < w; y++ {
				for x := 0; x < w; x++ {
					sub.Set(x, y, c, data.At(q[0]+x, q[1]+y, c))
				}
			}
		}
		meta := TileMeta{
			Order:  t.Meta.Order + 1,
			Ipix:   t.Meta.Ipix*4 + int64(idx),
			Format: t.Meta.Format,
			Frame:  t.Meta.Frame,
			Width:  w,
		}
		child, err := NewTileFromPixels(meta, sub)
		if err != nil {
			return nil, err
		}
		tiles[idx] = child
	}
	return tiles, nil
}
