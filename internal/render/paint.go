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
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"sort"
	"time"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/hips"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// ErrInvalidGeometry flags an output geometry the renderer cannot work
// with, such as a non-positive pixel scale.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Surveys never serve tiles below order 3.
const minTileOrder = 3

// Distortion thresholds for tile quadrilaterals in output pixel space.
const (
	distortedMaxEdge       = 300.0
	distortedMaxDiagonal   = 150.0
	distortedDiagonalRatio = 0.7
)

// OrderFor returns the coarsest tile order whose angular resolution is
// at least as fine as the given pixel scale in degrees, clipped to the
// deepest order the survey serves.
func OrderFor(tileWidth int, pixelScaleDeg float64, nativeOrder int) (int, error) {
	if pixelScaleDeg <= 0 {
		return 0, fmt.Errorf("%w: pixel scale %g deg", ErrInvalidGeometry, pixelScaleDeg)
	}
	if tileWidth <= 0 || tileWidth&(tileWidth-1) != 0 {
		return 0, fmt.Errorf("%w: tile width %d is not a power of two", hips.ErrInvalidSurvey, tileWidth)
	}

	fullSkyDegSq := 4 * math.Pi * (180 / math.Pi) * (180 / math.Pi)
	shift := math.Log2(float64(tileWidth))
	order := healpix.MaxOrder
	for o := minTileOrder; o <= healpix.MaxOrder; o++ {
		res := math.Sqrt(fullSkyDegSq / (12 * math.Pow(4, float64(o)+shift)))
		if res <= pixelScaleDeg {
			order = o
			break
		}
	}
	if order > nativeOrder {
		order = nativeOrder
	}
	return order, nil
}

// TilesIn returns the sorted set of tile indices at the given order
// whose sky footprint intersects the output geometry, by mapping every
// output pixel center to its HEALPix pixel in frame.
func TilesIn(geom *wcs.Geometry, order int, frame wcs.Frame) []int64 {
	seen := make(map[int64]bool)
	for y := 0; y < geom.Height; y++ {
		for x := 0; x < geom.Width; x++ {
			collectTileIndex(seen, geom, order, frame, float64(x), float64(y))
		}
	}
	return sortedIndices(seen)
}

// TilesInSampled resolves the tile set from a random subsample of
// output pixels instead of a full scan. Cheaper for very large images,
// but may miss tiles that only touch a few pixels.
func TilesInSampled(geom *wcs.Geometry, order int, frame wcs.Frame, samples int) []int64 {
	var rng fastrand.RNG
	seen := make(map[int64]bool)
	for i := 0; i < samples; i++ {
		x := float64(rng.Uint32n(uint32(geom.Width)))
		y := float64(rng.Uint32n(uint32(geom.Height)))
		collectTileIndex(seen, geom, order, frame, x, y)
	}
	return sortedIndices(seen)
}

func collectTileIndex(seen map[int64]bool, geom *wcs.Geometry, order int, frame wcs.Frame, x, y float64) {
	c, ok := geom.PixToSky(x, y)
	if !ok {
		return
	}
	c = c.Transform(frame)
	seen[healpix.AngToPix(order, c.Lon, c.Lat)] = true
}

func sortedIndices(seen map[int64]bool) []int64 {
	indices := make([]int64, 0, len(seen))
	for ipix := range seen {
		indices = append(indices, ipix)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// tileLengths measures the four edges and two diagonals of a tile
// quadrilateral in output pixel space, corners ordered N, W, S, E.
func tileLengths(corners [4][2]float64) (edges [4]float64, diagonals [2]float64) {
	dist := func(a, b [2]float64) float64 {
		return math.Hypot(a[0]-b[0], a[1]-b[1])
	}
	for i := 0; i < 4; i++ {
		edges[i] = dist(corners[i], corners[(i+1)%4])
	}
	diagonals[0] = dist(corners[0], corners[2])
	diagonals[1] = dist(corners[1], corners[3])
	return edges, diagonals
}

// IsDistorted reports whether a tile's reprojected corner quadrilateral
// is too deformed to warp as a single homography: any long edge, or
// long and clearly unequal diagonals.
func IsDistorted(corners [4][2]float64) bool {
	edges, diagonals := tileLengths(corners)
	maxEdge := math.Max(math.Max(edges[0], edges[1]), math.Max(edges[2], edges[3]))
	if maxEdge > distortedMaxEdge {
		return true
	}
	maxDiag := math.Max(diagonals[0], diagonals[1])
	minDiag := math.Min(diagonals[0], diagonals[1])
	return maxDiag > distortedMaxDiagonal && minDiag/maxDiag < distortedDiagonalRatio
}

// Opts control a render call. The zero value selects sensible defaults.
type Opts struct {
	Precise      bool          // subdivide distorted tiles once before warping
	FromAllsky   bool          // extract low-order tiles from the packed allsky file
	MaxParallel  int           // concurrent tile fetches, default 5
	Timeout      time.Duration // per-tile fetch timeout, default 10s
	SamplePixels int           // if >0, resolve the tile set from this many random pixels
	Log          io.Writer     // progress and warnings, default discard
}

func (o *Opts) applyDefaults() {
	if o.MaxParallel <= 0 {
		o.MaxParallel = hips.DefaultMaxParallel
	}
	if o.Timeout <= 0 {
		o.Timeout = hips.DefaultTimeout
	}
	if o.Log == nil {
		o.Log = ioutil.Discard
	}
}

// Stats reports per-render timing and provenance.
type Stats struct {
	FetchSeconds  float64
	DrawSeconds   float64
	TileCount     int // tiles drawn, after refinement
	MissingCount  int // requested tiles that could not be retrieved
	BytesConsumed int // raw encoded bytes of all fetched tiles
}

// Result is a rendered sky image plus the tiles that produced it.
type Result struct {
	Pixels    *codec.Array
	Geometry  *wcs.Geometry
	Format    codec.Format
	TilesUsed []*hips.Tile
	Stats     Stats
}

// SkyImage renders the survey onto the given output geometry in the
// given tile format. Missing tiles leave their sky region blank; the
// call fails only on structural geometry, survey or format errors.
func SkyImage(geom *wcs.Geometry, survey *hips.Properties, format codec.Format, opts Opts) (*Result, error) {
	opts.applyDefaults()

	frame, err := survey.Frame()
	if err != nil {
		return nil, err
	}
	nativeOrder, err := survey.Order()
	if err != nil {
		return nil, err
	}
	tileWidth, err := survey.TileWidth()
	if err != nil {
		return nil, err
	}

	order, err := OrderFor(tileWidth, geom.PixelScale(), nativeOrder)
	if err != nil {
		return nil, err
	}

	var indices []int64
	if opts.SamplePixels > 0 {
		indices = TilesInSampled(geom, order, frame, opts.SamplePixels)
	} else {
		indices = TilesIn(geom, order, frame)
	}
	metas := make([]hips.TileMeta, len(indices))
	for i, ipix := range indices {
		metas[i] = hips.TileMeta{Order: order, Ipix: ipix, Format: format, Frame: frame, Width: tileWidth}
	}
	fmt.Fprintf(opts.Log, "Rendering %dx%d image from %d tiles at order %d\n", geom.Width, geom.Height, len(metas), order)

	tStart := time.Now()
	tiles, err := fetchTiles(metas, survey, order, format, opts)
	if err != nil {
		return nil, err
	}
	fetchSeconds := time.Since(tStart).Seconds()

	res := &Result{
		Geometry: geom,
		Format:   format,
		Stats:    Stats{FetchSeconds: fetchSeconds},
	}
	drawList := make([]*hips.Tile, 0, len(tiles))
	for _, tile := range tiles {
		if tile.Missing {
			res.Stats.MissingCount++
			continue
		}
		res.Stats.BytesConsumed += len(tile.Raw)
		drawList = append(drawList, tile)
	}
	if res.Stats.MissingCount > 0 {
		fmt.Fprintf(opts.Log, "Warning: %d of %d tiles missing\n", res.Stats.MissingCount, len(tiles))
	}

	tStart = time.Now()
	if opts.Precise {
		drawList = refineTiles(drawList, geom, opts.Log)
	}
	if err := res.paint(drawList, opts.Log); err != nil {
		return nil, err
	}
	res.Stats.DrawSeconds = time.Since(tStart).Seconds()
	res.Stats.TileCount = len(res.TilesUsed)
	return res, nil
}

// fetchTiles retrieves the requested tiles, from the packed allsky file
// when asked to and possible, else tile by tile.
func fetchTiles(metas []hips.TileMeta, survey *hips.Properties, order int, format codec.Format, opts Opts) ([]*hips.Tile, error) {
	if opts.FromAllsky && order <= 3 {
		allsky, err := hips.FetchAllsky(survey, order, format, opts.Timeout)
		if err == nil {
			return allskyTiles(allsky, metas, opts.Log), nil
		}
		fmt.Fprintf(opts.Log, "Warning: no allsky file at order %d (%s), fetching tiles individually\n", order, err.Error())
	}
	return hips.FetchAll(metas, survey.TileURL, opts.MaxParallel, opts.Timeout, opts.Log)
}

func allskyTiles(allsky *hips.Allsky, metas []hips.TileMeta, logWriter io.Writer) []*hips.Tile {
	tiles := make([]*hips.Tile, len(metas))
	for i, meta := range metas {
		tile, err := allsky.Tile(meta.Ipix)
		if err != nil {
			fmt.Fprintf(logWriter, "Tile %s missing from allsky: %s\n", meta.Path(), err.Error())
			tiles[i] = hips.NewMissingTile(meta)
			continue
		}
		tiles[i] = tile
	}
	return tiles
}

// refineTiles replaces each distorted tile by its four children at the
// next deeper order. Applied once, without recursion.
func refineTiles(tiles []*hips.Tile, geom *wcs.Geometry, logWriter io.Writer) []*hips.Tile {
	refined := make([]*hips.Tile, 0, len(tiles))
	for _, tile := range tiles {
		corners, ok := cornerPixels(tile.Meta, geom)
		if ok && IsDistorted(corners) {
			children, err := tile.Children()
			if err != nil {
				fmt.Fprintf(logWriter, "Cannot subdivide tile %s: %s\n", tile.Meta.Path(), err.Error())
				refined = append(refined, tile)
				continue
			}
			refined = append(refined, children...)
			continue
		}
		refined = append(refined, tile)
	}
	return refined
}

// cornerPixels reprojects a tile's sky corners into output pixel
// coordinates. ok is false if any corner misses the projection plane.
func cornerPixels(meta hips.TileMeta, geom *wcs.Geometry) ([4][2]float64, bool) {
	var res [4][2]float64
	for i, c := range meta.SkyCorners() {
		px, py, ok := geom.SkyToPix(c)
		if !ok {
			return res, false
		}
		res[i] = [2]float64{px, py}
	}
	return res, true
}

// paint warps each tile into the output raster and accumulates. The
// accumulator is owned by this single-threaded phase; overlapping tiles
// at grid seams sum up rather than overwrite, matching the established
// drawing behavior downstream consumers expect.
func (res *Result) paint(drawList []*hips.Tile, logWriter io.Writer) error {
	geom := res.Geometry
	res.Pixels = codec.NewArray(geom.Width, geom.Height, res.Format.Channels(), -32)
	res.TilesUsed = make([]*hips.Tile, 0, len(drawList))

	for _, tile := range drawList {
		corners, ok := cornerPixels(tile.Meta, geom)
		if !ok {
			fmt.Fprintf(logWriter, "Tile %s does not project onto the image, skipping\n", tile.Meta.Path())
			continue
		}
		data, err := tile.Data()
		if err != nil {
			fmt.Fprintf(logWriter, "Skipping tile: %s\n", err.Error())
			res.Stats.MissingCount++
			continue
		}
		if len(res.TilesUsed) == 0 {
			res.Pixels.Bitpix = data.Bitpix
		}

		// transform from output pixel space into tile pixel space
		trans, err := EstimateHomography(corners, tile.Meta.CornerPixelCoordinates())
		if err != nil {
			fmt.Fprintf(logWriter, "Tile %s degenerate on the image, skipping: %s\n", tile.Meta.Path(), err.Error())
			continue
		}
		warpAccumulate(res.Pixels, data, trans)
		res.TilesUsed = append(res.TilesUsed, tile)
	}
	return nil
}

// warpAccumulate resamples the tile through the transform with bilinear
// interpolation and adds it into the accumulator. Samples outside the
// tile contribute nothing.
func warpAccumulate(acc, tile *codec.Array, trans *Homography) {
	channels := acc.Channels
	if tile.Channels < channels {
		channels = tile.Channels
	}
	for row := 0; row < acc.Height; row++ {
		for col := 0; col < acc.Width; col++ {
			proj0, proj1 := trans.Apply(float64(col), float64(row))

			xl, yl := int(math.Floor(proj0)), int(math.Floor(proj1))
			xh, yh := xl+1, yl+1
			if xh < 0 || xl >= tile.Width || yh < 0 || yl >= tile.Height {
				continue
			}
			xr, yr := float32(proj0-float64(xl)), float32(proj1-float64(yl))

			for c := 0; c < channels; c++ {
				vyl := sampleOrZero(tile, xl, yl, c)*(1-xr) + sampleOrZero(tile, xh, yl, c)*xr
				vyh := sampleOrZero(tile, xl, yh, c)*(1-xr) + sampleOrZero(tile, xh, yh, c)*xr
				v := vyl*(1-yr) + vyh*yr
				acc.Set(col, row, c, acc.At(col, row, c)+v)
			}
		}
	}
}

// sampleOrZero reads a tile pixel, treating positions outside the tile
// as zero so tile borders fade instead of clamping.
func sampleOrZero(a *codec.Array, x, y, c int) float32 {
	if x < 0 || x >= a.Width || y < 0 || y >= a.Height {
		return 0
	}
	return a.At(x, y, c)
}
