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

package render

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"github.com/mlnoga/skypaint/internal/codec"
)

// WriteFile writes the rendered image to a file, picking the encoding
// from the file name extension: .fits, .jpg/.jpeg, .png, .tif/.tiff.
func (res *Result) WriteFile(fileName string) error {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".fits", ".fit":
		return res.writeEncoded(fileName, codec.FormatFITS)
	case ".png":
		return res.writeEncoded(fileName, codec.FormatPNG)
	case ".jpg", ".jpeg":
		return res.WriteJPGToFile(fileName, 95)
	case ".tif", ".tiff":
		return res.WriteTIFF16ToFile(fileName)
	}
	return fmt.Errorf("%w: %s", codec.ErrUnsupportedFormat, fileName)
}

func (res *Result) writeEncoded(fileName string, format codec.Format) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	writer := bufio.NewWriter(f)
	defer writer.Flush()
	return codec.Encode(writer, res.Pixels, format)
}

// WriteJPGToFile writes a display rendition of the image to a JPG file.
func (res *Result) WriteJPGToFile(fileName string, quality int) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	writer := bufio.NewWriter(f)
	defer writer.Flush()
	return res.WriteJPG(writer, quality)
}

// WriteJPG writes a display rendition of the image: multi-channel data
// as RGB, single-channel data through a blue-to-yellow false color ramp.
// Values are stretched linearly between the data minimum and maximum.
func (res *Result) WriteJPG(writer io.Writer, quality int) error {
	return jpeg.Encode(writer, res.displayImage(), &jpeg.Options{Quality: quality})
}

func (res *Result) displayImage() image.Image {
	a := res.Pixels
	min, max := dataRange(a)
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}

	cold := colorful.Color{R: 0.03, G: 0.05, B: 0.25}
	hot := colorful.Color{R: 1.0, G: 0.95, B: 0.6}

	img := image.NewRGBA(image.Rect(0, 0, a.Width, a.Height))
	for y := 0; y < a.Height; y++ {
		dstY := a.Height - 1 - y // rows are bottom-up in memory
		for x := 0; x < a.Width; x++ {
			var c color.RGBA
			if a.Channels >= 3 {
				r := (a.At(x, y, 0) - min) * scale
				g := (a.At(x, y, 1) - min) * scale
				b := (a.At(x, y, 2) - min) * scale
				c = color.RGBA{clampU8(r), clampU8(g), clampU8(b), 255}
			} else {
				v := float64((a.At(x, y, 0) - min) * scale)
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				blend := cold.BlendLuv(hot, v).Clamped()
				r, g, b := blend.RGB255()
				c = color.RGBA{r, g, b, 255}
			}
			img.SetRGBA(x, dstY, c)
		}
	}
	return img
}

// WriteTIFF16ToFile writes the image as a 16-bit TIFF, stretched
// linearly between the data minimum and maximum.
func (res *Result) WriteTIFF16ToFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	writer := bufio.NewWriter(f)
	defer writer.Flush()
	return res.WriteTIFF16(writer)
}

// WriteTIFF16 writes the image as a 16-bit TIFF with deflate compression.
func (res *Result) WriteTIFF16(writer io.Writer) error {
	a := res.Pixels
	min, max := dataRange(a)
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}

	var img image.Image
	if a.Channels >= 3 {
		rgba := image.NewRGBA64(image.Rect(0, 0, a.Width, a.Height))
		for y := 0; y < a.Height; y++ {
			dstY := a.Height - 1 - y
			for x := 0; x < a.Width; x++ {
				rgba.SetRGBA64(x, dstY, color.RGBA64{
					R: clampU16((a.At(x, y, 0) - min) * scale),
					G: clampU16((a.At(x, y, 1) - min) * scale),
					B: clampU16((a.At(x, y, 2) - min) * scale),
					A: 65535,
				})
			}
		}
		img = rgba
	} else {
		gray := image.NewGray16(image.Rect(0, 0, a.Width, a.Height))
		for y := 0; y < a.Height; y++ {
			dstY := a.Height - 1 - y
			for x := 0; x < a.Width; x++ {
				gray.SetGray16(x, dstY, color.Gray16{Y: clampU16((a.At(x, y, 0) - min) * scale)})
			}
		}
		img = gray
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate})
}

// Report writes a one-render summary of timing and tile provenance.
func (res *Result) Report(w io.Writer) {
	fmt.Fprintf(w, "Rendered %dx%d %s image from %d tiles (%d missing)\n",
		res.Geometry.Width, res.Geometry.Height, res.Format, res.Stats.TileCount, res.Stats.MissingCount)
	fmt.Fprintf(w, "Fetched %d bytes in %.2fs, composited in %.2fs\n",
		res.Stats.BytesConsumed, res.Stats.FetchSeconds, res.Stats.DrawSeconds)
}

func dataRange(a *codec.Array) (min, max float32) {
	min, max = float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range a.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func clampU8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func clampU16(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 65535
	}
	return uint16(v*65535 + 0.5)
}
