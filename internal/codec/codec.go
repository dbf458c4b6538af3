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

// Package codec decodes and encodes sky survey tile pixel data in the
// FITS, JPEG and PNG formats. All in-memory arrays use the FITS
// orientation, with row 0 at the bottom of the image; JPEG and PNG
// store rows top-down, so rows are flipped at the codec boundary.
package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/mlnoga/skypaint/internal/fits"
)

// ErrUnsupportedFormat flags a tile format this package cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported tile format")

// Format identifies a tile storage format.
type Format int

const (
	FormatFITS Format = iota // float or integer science values, 1 channel
	FormatJPG                // 8-bit display values, 3 channels
	FormatPNG                // 8-bit display values, 4 channels
)

func (f Format) String() string {
	switch f {
	case FormatFITS:
		return "fits"
	case FormatJPG:
		return "jpg"
	case FormatPNG:
		return "png"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Ext returns the file name extension for the format, without the dot.
func (f Format) Ext() string { return f.String() }

// Channels returns the number of color channels tiles of this format carry.
func (f Format) Channels() int {
	switch f {
	case FormatJPG:
		return 3
	case FormatPNG:
		return 4
	}
	return 1
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fits":
		return FormatFITS, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	case "png":
		return FormatPNG, nil
	}
	return FormatFITS, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Array is a decoded pixel array. Channels are stored as planes, pixel
// (x,y) of channel c lives at Data[(c*Height+y)*Width+x], with row 0 at
// the bottom. JPEG and PNG pixels hold their 8-bit values as floats.
type Array struct {
	Width, Height int
	Channels      int
	Bitpix        int32 // FITS data type the values came from or go to
	Data          []float32
}

// NewArray allocates a zeroed array of the given dimensions.
func NewArray(width, height, channels int, bitpix int32) *Array {
	return &Array{
		Width:    width,
		Height:   height,
		Channels: channels,
		Bitpix:   bitpix,
		Data:     make([]float32, width*height*channels),
	}
}

// At returns the value of pixel (x,y) in channel c.
func (a *Array) At(x, y, c int) float32 {
	return a.Data[(c*a.Height+y)*a.Width+x]
}

// Set sets the value of pixel (x,y) in channel c.
func (a *Array) Set(x, y, c int, v float32) {
	a.Data[(c*a.Height+y)*a.Width+x] = v
}

// Plane returns the data slice of channel c.
func (a *Array) Plane(c int) []float32 {
	size := a.Width * a.Height
	return a.Data[c*size : (c+1)*size]
}

// Decode reads one image in the given format from r.
func Decode(r io.Reader, format Format) (*Array, error) {
	switch format {
	case FormatFITS:
		return decodeFITS(r)
	case FormatJPG, FormatPNG:
		img, _, err := image.Decode(r)
		if err != nil {
			return nil, err
		}
		return fromImage(img, format), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Encode writes the array to w in the given format.
func Encode(w io.Writer, a *Array, format Format) error {
	switch format {
	case FormatFITS:
		return encodeFITS(w, a)
	case FormatJPG:
		return jpeg.Encode(w, toImage(a), &jpeg.Options{Quality: 95})
	case FormatPNG:
		return png.Encode(w, toImage(a))
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func decodeFITS(r io.Reader) (*Array, error) {
	img := fits.NewImage()
	if err := img.Read(r, true, io.Discard); err != nil {
		return nil, err
	}
	if len(img.Naxisn) < 2 || len(img.Naxisn) > 3 {
		return nil, fmt.Errorf("unsupported FITS dimensions %s", img.DimensionsToString())
	}
	a := &Array{
		Width:    int(img.Naxisn[0]),
		Height:   int(img.Naxisn[1]),
		Channels: 1,
		Bitpix:   img.Bitpix,
		Data:     img.Data,
	}
	if len(img.Naxisn) == 3 {
		a.Channels = int(img.Naxisn[2])
	}
	return a, nil
}

func encodeFITS(w io.Writer, a *Array) error {
	naxisn := []int32{int32(a.Width), int32(a.Height)}
	if a.Channels > 1 {
		naxisn = append(naxisn, int32(a.Channels))
	}
	img := fits.NewImageFromNaxisn(naxisn, a.Data)
	if a.Bitpix != 0 {
		img.Bitpix = a.Bitpix
	}
	return img.Write(w)
}

// fromImage converts a decoded Go image, flipping rows so row 0 ends up
// at the bottom.
func fromImage(img image.Image, format Format) *Array {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	a := NewArray(width, height, format.Channels(), 8)
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + (height - 1 - y)
		for x := 0; x < width; x++ {
			r, g, b, alpha := img.At(bounds.Min.X+x, srcY).RGBA()
			a.Set(x, y, 0, float32(r>>8))
			if a.Channels >= 3 {
				a.Set(x, y, 1, float32(g>>8))
				a.Set(x, y, 2, float32(b>>8))
			}
			if a.Channels == 4 {
				a.Set(x, y, 3, float32(alpha>>8))
			}
		}
	}
	return a
}

// toImage converts the array back to a Go image, flipping rows so row 0
// ends up at the top again.
func toImage(a *Array) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, a.Width, a.Height))
	for y := 0; y < a.Height; y++ {
		dstY := a.Height - 1 - y
		for x := 0; x < a.Width; x++ {
			var r, g, b, alpha float32
			r = a.At(x, y, 0)
			g, b, alpha = r, r, 255
			if a.Channels >= 3 {
				g, b = a.At(x, y, 1), a.At(x, y, 2)
			}
			if a.Channels == 4 {
				alpha = a.At(x, y, 3)
			}
			img.SetRGBA(x, dstY, color.RGBA{clamp8(r), clamp8(g), clamp8(b), clamp8(alpha)})
		}
	}
	return img
}

func clamp8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
