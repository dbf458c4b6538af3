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

package wcs

import (
	"fmt"
	"math"
	"strings"
)

// Frame is a celestial coordinate frame.
type Frame int

const (
	ICRS Frame = iota
	Galactic
	Ecliptic
)

func (f Frame) String() string {
	switch f {
	case ICRS:
		return "icrs"
	case Galactic:
		return "galactic"
	case Ecliptic:
		return "ecliptic"
	}
	return fmt.Sprintf("frame(%d)", int(f))
}

// ParseFrame maps both the HiPS names (equatorial, galactic, ecliptic)
// and the astronomy names (icrs, ...) to a Frame.
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equatorial", "icrs", "cel", "c":
		return ICRS, nil
	case "galactic", "gal", "g":
		return Galactic, nil
	case "ecliptic", "ecl", "e":
		return Ecliptic, nil
	}
	return ICRS, fmt.Errorf("unknown coordinate frame %q", s)
}

// SkyCoord is a direction on the sky in a given frame. Angles in radians.
type SkyCoord struct {
	Lon, Lat float64
	Frame    Frame
}

// mat3 is a 3x3 rotation matrix, row-major.
type mat3 [9]float64

func (m mat3) apply(x, y, z float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2]*z,
		m[3]*x + m[4]*y + m[5]*z,
		m[6]*x + m[7]*y + m[8]*z
}

func (m mat3) transpose() mat3 {
	return mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

// Equatorial J2000 to galactic rotation (IAU 1958 pole, J2000 values).
var icrsToGal = mat3{
	-0.0548755604, -0.8734370902, -0.4838350155,
	+0.4941094279, -0.4448296300, +0.7469822445,
	-0.8676661490, -0.1980763734, +0.4559837762,
}

// Equatorial J2000 to ecliptic J2000: rotation about the x axis by the
// mean obliquity.
var icrsToEcl = func() mat3 {
	eps := 23.4392911 * math.Pi / 180
	c, s := math.Cos(eps), math.Sin(eps)
	return mat3{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	}
}()

func vecOf(c SkyCoord) (x, y, z float64) {
	cosLat := math.Cos(c.Lat)
	return cosLat * math.Cos(c.Lon), cosLat * math.Sin(c.Lon), math.Sin(c.Lat)
}

func coordOf(x, y, z float64, frame Frame) SkyCoord {
	lon := math.Atan2(y, x)
	if lon < 0 {
		lon += 2 * math.Pi
	}
	return SkyCoord{Lon: lon, Lat: math.Asin(math.Max(-1, math.Min(1, z))), Frame: frame}
}

// Transform converts the coordinate into the given frame, going through
// ICRS as the hub frame.
func (c SkyCoord) Transform(to Frame) SkyCoord {
	if c.Frame == to {
		return c
	}
	x, y, z := vecOf(c)
	switch c.Frame {
	case Galactic:
		x, y, z = icrsToGal.transpose().apply(x, y, z)
	case Ecliptic:
		x, y, z = icrsToEcl.transpose().apply(x, y, z)
	}
	switch to {
	case Galactic:
		x, y, z = icrsToGal.apply(x, y, z)
	case Ecliptic:
		x, y, z = icrsToEcl.apply(x, y, z)
	}
	return coordOf(x, y, z, to)
}

// Deg returns lon and lat in degrees.
func (c SkyCoord) Deg() (lon, lat float64) {
	return c.Lon * 180 / math.Pi, c.Lat * 180 / math.Pi
}

// FromDeg builds a SkyCoord from degrees.
func FromDeg(lonDeg, latDeg float64, frame Frame) SkyCoord {
	return SkyCoord{Lon: lonDeg * math.Pi / 180, Lat: latDeg * math.Pi / 180, Frame: frame}
}
