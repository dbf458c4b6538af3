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

// Package wcs provides the output image geometry for sky rendering: a
// projection, a reference direction and a pixel grid, with pixel to sky
// and sky to pixel transforms in the TAN, AIT and CAR projections.
package wcs

import (
	"fmt"
	"math"
	"strings"
)

// Projection identifies a sky projection.
type Projection int

const (
	TAN Projection = iota // gnomonic
	AIT                   // Hammer-Aitoff
	CAR                   // plate carree
)

func (p Projection) String() string {
	switch p {
	case TAN:
		return "TAN"
	case AIT:
		return "AIT"
	case CAR:
		return "CAR"
	}
	return fmt.Sprintf("projection(%d)", int(p))
}

func ParseProjection(s string) (Projection, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TAN":
		return TAN, nil
	case "AIT":
		return AIT, nil
	case "CAR":
		return CAR, nil
	}
	return TAN, fmt.Errorf("unknown projection %q", s)
}

// Geometry is the output image geometry: pixel grid dimensions plus the
// projection of pixel coordinates onto the sky. Pixel (0,0) is the
// bottom-left pixel center, rows run bottom-up (FITS orientation).
// Geometries are immutable once created.
type Geometry struct {
	Width, Height  int
	Proj           Projection
	Frame          Frame
	cdelt          float64 // radians per pixel, along both axes
	crpix1, crpix2 float64 // reference pixel (projection center)
	rot, rotInv    mat3    // sky frame <-> native sphere
	center         SkyCoord
}

// NewGeometry creates a geometry of width x height pixels centered on the
// given direction, with the given field of view in degrees across the
// image width. The geometry's frame is the frame of the center coordinate.
func NewGeometry(center SkyCoord, width, height int, fovDeg float64, proj Projection) (*Geometry, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if fovDeg <= 0 {
		return nil, fmt.Errorf("invalid field of view %g deg", fovDeg)
	}
	g := &Geometry{
		Width:  width,
		Height: height,
		Proj:   proj,
		Frame:  center.Frame,
		cdelt:  fovDeg * math.Pi / 180 / float64(width),
		crpix1: float64(width-1) / 2,
		crpix2: float64(height-1) / 2,
		center: center,
	}
	g.rot = rotationTo(center)
	g.rotInv = g.rot.transpose()
	return g, nil
}

// rotationTo builds the rotation taking the sky frame to the native
// sphere, with the reference direction at native (0,0) and native north
// aligned with sky north at the reference point.
func rotationTo(ref SkyCoord) mat3 {
	cl, sl := math.Cos(ref.Lon), math.Sin(ref.Lon)
	cb, sb := math.Cos(ref.Lat), math.Sin(ref.Lat)
	// Ry(lat) * Rz(-lon)
	return mat3{
		cb * cl, cb * sl, sb,
		-sl, cl, 0,
		-sb * cl, -sb * sl, cb,
	}
}

// Center returns the reference direction of the geometry.
func (g *Geometry) Center() SkyCoord { return g.center }

// PixelScale returns the angular size of one pixel in degrees.
func (g *Geometry) PixelScale() float64 { return g.cdelt * 180 / math.Pi }

// SkyToPix maps a sky direction to pixel coordinates. Returns ok=false
// for directions that do not project into the plane (e.g. behind the
// tangent point for TAN, outside the ellipse for AIT).
func (g *Geometry) SkyToPix(c SkyCoord) (px, py float64, ok bool) {
	x, y, z := vecOf(c.Transform(g.Frame))
	nx, ny, nz := g.rot.apply(x, y, z)

	var xi, eta float64
	switch g.Proj {
	case TAN:
		if nx <= 1e-12 {
			return 0, 0, false
		}
		xi, eta = ny/nx, nz/nx
	case CAR:
		xi = math.Atan2(ny, nx)
		eta = math.Asin(math.Max(-1, math.Min(1, nz)))
	case AIT:
		lam := math.Atan2(ny, nx)
		phi := math.Asin(math.Max(-1, math.Min(1, nz)))
		gamma := math.Sqrt(2 / (1 + math.Cos(phi)*math.Cos(lam/2)))
		xi = 2 * gamma * math.Cos(phi) * math.Sin(lam/2)
		eta = gamma * math.Sin(phi)
	default:
		return 0, 0, false
	}

	// longitude axis mirrored: east is to the left, as on the sky
	return g.crpix1 - xi/g.cdelt, g.crpix2 + eta/g.cdelt, true
}

// PixToSky maps pixel coordinates to a sky direction in the geometry's
// frame. Returns ok=false for pixels outside the projection's valid area.
func (g *Geometry) PixToSky(px, py float64) (SkyCoord, bool) {
	xi := (g.crpix1 - px) * g.cdelt
	eta := (py - g.crpix2) * g.cdelt

	var nx, ny, nz float64
	switch g.Proj {
	case TAN:
		norm := math.Sqrt(1 + xi*xi + eta*eta)
		nx, ny, nz = 1/norm, xi/norm, eta/norm
	case CAR:
		if eta < -math.Pi/2 || eta > math.Pi/2 || xi < -math.Pi || xi > math.Pi {
			return SkyCoord{}, false
		}
		cb := math.Cos(eta)
		nx, ny, nz = cb*math.Cos(xi), cb*math.Sin(xi), math.Sin(eta)
	case AIT:
		s := xi*xi/16 + eta*eta/4
		if s > 0.5 {
			return SkyCoord{}, false
		}
		z := math.Sqrt(1 - s)
		lam := 2 * math.Atan2(z*xi/2, 2*z*z-1)
		phi := math.Asin(math.Max(-1, math.Min(1, z*eta)))
		cb := math.Cos(phi)
		nx, ny, nz = cb*math.Cos(lam), cb*math.Sin(lam), math.Sin(phi)
	default:
		return SkyCoord{}, false
	}

	x, y, z := g.rotInv.apply(nx, ny, nz)
	return coordOf(x, y, z, g.Frame), true
}
