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

// Package render composites survey tiles into a flat sky image: it
// matches the output resolution to a tile order, resolves and fetches
// the tile set, and warps each tile through a planar homography into
// the output raster.
package render

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Homography is a planar projective transform in homogeneous
// coordinates, mapping pixel positions of one plane onto another.
type Homography struct {
	m [9]float64 // row-major 3x3
}

// EstimateHomography computes the unique projective transform taking
// the four src points to the four dst points. Fails if the points are
// degenerate (three collinear, or coincident).
func EstimateHomography(src, dst [4][2]float64) (*Homography, error) {
	// Direct linear transform: two equations per correspondence in the
	// eight unknowns a..h, with i fixed to 1.
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i][0], src[i][1]
		u, v := dst[i][0], dst[i][1]
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var params mat.VecDense
	if err := params.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("degenerate correspondences: %s", err.Error())
	}

	h := &Homography{}
	for i := 0; i < 8; i++ {
		h.m[i] = params.AtVec(i)
	}
	h.m[8] = 1
	return h, nil
}

// Apply maps the point (x,y) through the transform.
func (h *Homography) Apply(x, y float64) (u, v float64) {
	w := h.m[6]*x + h.m[7]*y + h.m[8]
	u = (h.m[0]*x + h.m[1]*y + h.m[2]) / w
	v = (h.m[3]*x + h.m[4]*y + h.m[5]) / w
	return u, v
}

// Invert returns the inverse transform.
func (h *Homography) Invert() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h.m[:])); err != nil {
		return nil, fmt.Errorf("transform not invertible: %s", err.Error())
	}
	res := &Homography{}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			res.m[row*3+col] = inv.At(row, col)
		}
	}
	return res, nil
}
