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

// Package healpix implements the subset of HEALPix needed for HiPS tile
// addressing: order/nside conversions, angle to pixel mapping and pixel
// corner computation, all in the nested numbering scheme. HiPS mandates
// nested numbering, because a tile's four children at the next order are
// the indices 4*i .. 4*i+3.
package healpix

import (
	"fmt"
	"math"
)

// MaxOrder is the highest HEALPix order representable with 64-bit pixel
// indices (12*4^29 pixels).
const MaxOrder = 29

// OrderToNside returns nside = 2^order.
func OrderToNside(order int) int64 { return int64(1) << uint(order) }

// NsideToNpix returns the number of pixels on the full sphere, 12*nside^2.
func NsideToNpix(nside int64) int64 { return 12 * nside * nside }

// OrderToNpix returns the number of pixels on the full sphere at the given order.
func OrderToNpix(order int) int64 { n := OrderToNside(order); return 12 * n * n }

// face rows and longitude offsets of the twelve HEALPix base faces,
// as in the reference implementation
var jrll = [12]float64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
var jpll = [12]float64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}

// spreadBits interleaves the lower 32 bits of v with zero bits,
// placing bit k of v at bit 2k of the result.
func spreadBits(v int64) int64 {
	x := uint64(v) & 0xffffffff
	x = (x | (x << 16)) & 0x0000ffff0000ffff
	x = (x | (x << 8)) & 0x00ff00ff00ff00ff
	x = (x | (x << 4)) & 0x0f0f0f0f0f0f0f0f
	x = (x | (x << 2)) & 0x3333333333333333
	x = (x | (x << 1)) & 0x5555555555555555
	return int64(x)
}

// compressBits is the inverse of spreadBits: it extracts the even bits of v.
func compressBits(v int64) int64 {
	x := uint64(v) & 0x5555555555555555
	x = (x | (x >> 1)) & 0x3333333333333333
	x = (x | (x >> 2)) & 0x0f0f0f0f0f0f0f0f
	x = (x | (x >> 4)) & 0x00ff00ff00ff00ff
	x = (x | (x >> 8)) & 0x0000ffff0000ffff
	x = (x | (x >> 16)) & 0x00000000ffffffff
	return int64(x)
}

// xyfToNest converts face number and in-face coordinates to a nested pixel index.
func xyfToNest(order int, ix, iy int64, face int) int64 {
	return (int64(face) << uint(2*order)) + spreadBits(ix) + (spreadBits(iy) << 1)
}

// nestToXyf converts a nested pixel index to face number and in-face coordinates.
func nestToXyf(order int, ipix int64) (ix, iy int64, face int) {
	npface := int64(1) << uint(2*order)
	face = int(ipix >> uint(2*order))
	p := ipix & (npface - 1)
	return compressBits(p), compressBits(p >> 1), face
}

// AngToPix maps a sky direction (lon, lat in radians) to the nested pixel
// index at the given nside. Follows the reference ang2pix_nest.
func AngToPix(order int, lon, lat float64) int64 {
	nside := OrderToNside(order)
	z := math.Sin(lat)
	za := math.Abs(z)
	tt := math.Mod(lon*2.0/math.Pi, 4.0)
	if tt < 0 {
		tt += 4.0
	}

	var ix, iy int64
	var face int
	if za <= 2.0/3.0 { // equatorial region
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * (z * 0.75)
		jp := int64(temp1 - temp2) // index of ascending edge line
		jm := int64(temp1 + temp2) // index of descending edge line
		ifp := jp >> uint(order)
		ifm := jm >> uint(order)
		if ifp == ifm {
			face = int(ifp&3) + 4
		} else if ifp < ifm {
			face = int(ifp & 3)
		} else {
			face = int(ifm&3) + 8
		}
		ix = jm & (nside - 1)
		iy = nside - (jp & (nside - 1)) - 1
	} else { // polar caps
		ntt := int(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(nside) * math.Sqrt(3.0*(1.0-za))
		jp := int64(tp * tmp)
		jm := int64((1.0 - tp) * tmp)
		if jp >= nside {
			jp = nside - 1
		}
		if jm >= nside {
			jm = nside - 1
		}
		if z >= 0 {
			face = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}
	return xyfToNest(order, ix, iy, face)
}

// locFromXY maps in-face coordinates x,y in [0,1] on the given face to
// (z, lon), where z is the sine of the latitude. Reference xyf2loc.
func locFromXY(x, y float64, face int) (z, lon float64) {
	jr := jrll[face] - x - y
	var nr float64
	if jr < 1 { // north polar cap
		nr = jr
		z = 1 - nr*nr/3.0
	} else if jr > 3 { // south polar cap
		nr = 4 - jr
		z = nr*nr/3.0 - 1
	} else { // equatorial belt
		nr = 1
		z = (2 - jr) * 2.0 / 3.0
	}

	tmp := jpll[face]*nr + x - y
	if tmp < 0 {
		tmp += 8
	}
	if tmp >= 8 {
		tmp -= 8
	}
	if nr < 1e-15 {
		lon = 0
	} else {
		lon = (math.Pi / 4.0) * tmp / nr
	}
	return z, lon
}

// PixCenter returns the sky direction (lon, lat in radians) of the center
// of the given nested pixel.
func PixCenter(order int, ipix int64) (lon, lat float64) {
	ix, iy, face := nestToXyf(order, ipix)
	nside := float64(OrderToNside(order))
	z, lon := locFromXY((float64(ix)+0.5)/nside, (float64(iy)+0.5)/nside, face)
	return lon, math.Asin(z)
}

// Corners returns the four corner directions of the given nested pixel,
// in the order north, west, south, east, as (lon, lat) pairs in radians.
// This is the corner order the reference boundaries() routine produces,
// and the tile drawing code depends on it.
func Corners(order int, ipix int64) [4][2]float64 {
	ix, iy, face := nestToXyf(order, ipix)
	nside := float64(OrderToNside(order))
	xs := [4]float64{float64(ix) + 1, float64(ix), float64(ix), float64(ix) + 1}     // N W S E
	ys := [4]float64{float64(iy) + 1, float64(iy) + 1, float64(iy), float64(iy)}    // N W S E
	var out [4][2]float64
	for i := 0; i < 4; i++ {
		z, lon := locFromXY(xs[i]/nside, ys[i]/nside, face)
		out[i] = [2]float64{lon, math.Asin(z)}
	}
	return out
}

// TileIpixArray returns the tileWidth x tileWidth table of nested pixel
// indices covered by one HiPS tile, relative to tileIdx*tileWidth^2, where
// tileWidth = 2^shiftOrder. Row-major, entry [y*w+x]. The table is built
// once and handed to callers explicitly; there is no hidden cache.
func TileIpixArray(shiftOrder int) ([]int64, error) {
	if shiftOrder < 1 || shiftOrder > 16 {
		return nil, fmt.Errorf("healpix: shift order %d outside supported range 1..16", shiftOrder)
	}
	table := []int64{0, 1, 2, 3} // 2x2 base pattern [[0,1],[2,3]]
	w := 2
	for s := 2; s <= shiftOrder; s++ {
		h := w
		w *= 2
		next := make([]int64, w*w)
		for y := 0; y < w; y++ {
			for x := 0; x < w; x++ {
				quad := int64((y/h)*2 + (x / h))
				next[y*w+x] = table[(y%h)*h+(x%h)] + quad*int64(h)*int64(h)
			}
		}
		table = next
	}
	return table, nil
}
