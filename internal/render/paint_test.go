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
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/healpix"
	"github.com/mlnoga/skypaint/internal/hips"
	"github.com/mlnoga/skypaint/internal/wcs"
)

func TestOrderFor(t *testing.T) {
	cases := []struct {
		tileWidth   int
		scaleDeg    float64
		nativeOrder int
		want        int
	}{
		{512, 1.0, 29, 3},    // coarse scales stop at the shallowest served order
		{512, 0.02, 29, 3},   // order 3 resolves 0.0143 deg/px
		{512, 0.01, 29, 4},   // just past the order 3 resolution
		{512, 1e-5, 29, 14},  // deep zoom
		{512, 1e-5, 5, 5},    // clipped to the survey's native depth
		{512, 1e-12, 29, 29}, // never beyond the healpix limit
	}
	for _, c := range cases {
		got, err := OrderFor(c.tileWidth, c.scaleDeg, c.nativeOrder)
		if err != nil {
			t.Fatalf("OrderFor(%d, %g, %d): %s", c.tileWidth, c.scaleDeg, c.nativeOrder, err)
		}
		if got != c.want {
			t.Errorf("OrderFor(%d, %g, %d)=%d, want %d", c.tileWidth, c.scaleDeg, c.nativeOrder, got, c.want)
		}
	}

	prev := 0
	for scale := 10.0; scale > 1e-9; scale /= 2 {
		order, err := OrderFor(512, scale, 29)
		if err != nil {
			t.Fatal(err)
		}
		if order < prev {
			t.Errorf("order %d at scale %g shallower than %d at the coarser scale", order, scale, prev)
		}
		prev = order
	}

	if _, err := OrderFor(512, 0, 29); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for zero scale, got %v", err)
	}
	if _, err := OrderFor(512, -1, 29); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for negative scale, got %v", err)
	}
	if _, err := OrderFor(100, 0.01, 29); !errors.Is(err, hips.ErrInvalidSurvey) {
		t.Errorf("expected ErrInvalidSurvey for tile width 100, got %v", err)
	}
}

func square(edge float64) [4][2]float64 {
	return [4][2]float64{{0, 0}, {edge, 0}, {edge, edge}, {0, edge}}
}

// kite returns a quadrilateral with diagonals of the given lengths and
// all edges well below the edge threshold.
func kite(diag0, diag1 float64) [4][2]float64 {
	return [4][2]float64{
		{0, -diag0 / 2}, {diag1 / 2, 0}, {0, diag0 / 2}, {-diag1 / 2, 0},
	}
}

func TestIsDistorted(t *testing.T) {
	cases := []struct {
		name    string
		corners [4][2]float64
		want    bool
	}{
		{"small square", square(10), false},
		{"edge at threshold", square(300), false},
		{"edge past threshold", square(301), true},
		{"short diagonals", kite(140, 98), false},
		{"diagonal ratio at threshold", kite(200, 140), false},
		{"diagonal ratio past threshold", kite(200, 139.8), true},
		{"sheared quadrilateral", [4][2]float64{
			{764.627476, 300.055412}, {999, 101.107245},
			{764.646551, -97.849955}, {530.26981, 101.105373},
		}, true},
	}
	for _, c := range cases {
		if got := IsDistorted(c.corners); got != c.want {
			t.Errorf("%s: IsDistorted=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestTilesIn(t *testing.T) {
	lon, lat := healpix.PixCenter(3, 450)
	center := wcs.SkyCoord{Lon: lon, Lat: lat, Frame: wcs.ICRS}
	geom, err := wcs.NewGeometry(center, 8, 8, 0.1, wcs.TAN)
	if err != nil {
		t.Fatal(err)
	}

	indices := TilesIn(geom, 3, wcs.ICRS)
	if len(indices) != 1 || indices[0] != 450 {
		t.Fatalf("indices=%v, want [450]", indices)
	}
	again := TilesIn(geom, 3, wcs.ICRS)
	if len(again) != 1 || again[0] != 450 {
		t.Errorf("second resolve gave %v", again)
	}

	full := make(map[int64]bool)
	for _, ipix := range TilesIn(geom, 6, wcs.ICRS) {
		full[ipix] = true
	}
	for _, ipix := range TilesInSampled(geom, 6, wcs.ICRS, 100) {
		if !full[ipix] {
			t.Errorf("sampled resolve found tile %d outside the full set", ipix)
		}
	}
}

// testSurvey serves the twelve order 0 tiles of a synthetic survey
// whose pixel values are constant per tile, ipix+5, over a test HTTP
// server. Tiles listed in skip are withheld and served as 404.
func testSurvey(t *testing.T, skip ...int64) (*hips.Properties, []*hips.Tile, *httptest.Server) {
	t.Helper()

	hpx := make([]float32, 48)
	for i := range hpx {
		hpx[i] = float32(i/4 + 5)
	}
	tiles, err := hips.HealpixToTiles(hpx, 1, 0, 2, codec.FormatFITS, wcs.ICRS)
	if err != nil {
		t.Fatal(err)
	}

	skipped := make(map[int64]bool)
	for _, ipix := range skip {
		skipped[ipix] = true
	}
	served := make(map[string][]byte)
	for _, tile := range tiles {
		if skipped[tile.Meta.Ipix] {
			continue
		}
		raw, err := tile.Encode()
		if err != nil {
			t.Fatal(err)
		}
		served["/"+tile.Meta.Path()] = raw
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := served[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(raw)
	}))
	t.Cleanup(server.Close)

	text := fmt.Sprintf(`obs_title  = Constant test survey
hips_order = 0
hips_tile_width  = 2
hips_tile_format = fits
hips_frame = equatorial
hips_service_url = %s
`, server.URL)
	return hips.ParseProperties(text, server.URL+"/properties"), tiles, server
}

func TestSkyImageSingleTile(t *testing.T) {
	survey, _, _ := testSurvey(t)

	lon, lat := healpix.PixCenter(0, 5)
	center := wcs.SkyCoord{Lon: lon, Lat: lat, Frame: wcs.ICRS}
	geom, err := wcs.NewGeometry(center, 8, 8, 1.0, wcs.TAN)
	if err != nil {
		t.Fatal(err)
	}

	res, err := SkyImage(geom, survey, codec.FormatFITS, Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.TilesUsed) != 1 || res.TilesUsed[0].Meta.Ipix != 5 {
		t.Fatalf("expected tile 5 only, got %d tiles", len(res.TilesUsed))
	}
	if res.Stats.MissingCount != 0 || res.Stats.TileCount != 1 {
		t.Errorf("stats %+v", res.Stats)
	}
	if res.Stats.BytesConsumed == 0 {
		t.Errorf("no bytes accounted")
	}
	for y := 0; y < geom.Height; y++ {
		for x := 0; x < geom.Width; x++ {
			if v := res.Pixels.At(x, y, 0); math.Abs(float64(v)-10) > 1e-3 {
				t.Fatalf("pixel (%d,%d)=%f, want 10", x, y, v)
			}
		}
	}
}

func TestSkyImageMissingTiles(t *testing.T) {
	survey, _, _ := testSurvey(t, 3, 7)

	center := wcs.FromDeg(0, 0, wcs.ICRS)
	geom, err := wcs.NewGeometry(center, 32, 16, 360, wcs.AIT)
	if err != nil {
		t.Fatal(err)
	}

	res, err := SkyImage(geom, survey, codec.FormatFITS, Opts{MaxParallel: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.MissingCount != 2 {
		t.Errorf("MissingCount=%d, want 2", res.Stats.MissingCount)
	}
	if len(res.TilesUsed) != 10 {
		t.Errorf("TilesUsed=%d, want 10", len(res.TilesUsed))
	}
	for _, tile := range res.TilesUsed {
		if tile.Meta.Ipix == 3 || tile.Meta.Ipix == 7 {
			t.Errorf("withheld tile %d was drawn", tile.Meta.Ipix)
		}
	}
}

func TestSkyImageFromAllsky(t *testing.T) {
	survey, tiles, _ := testSurvey(t)

	allsky, err := hips.NewAllskyFromTiles(tiles)
	if err != nil {
		t.Fatal(err)
	}
	allskyOnly := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Norder0/Allsky.fits" {
			w.Write(allsky.Raw)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(allskyOnly.Close)
	survey.Data["hips_service_url"] = allskyOnly.URL

	lon, lat := healpix.PixCenter(0, 5)
	center := wcs.SkyCoord{Lon: lon, Lat: lat, Frame: wcs.ICRS}
	geom, err := wcs.NewGeometry(center, 8, 8, 1.0, wcs.TAN)
	if err != nil {
		t.Fatal(err)
	}

	res, err := SkyImage(geom, survey, codec.FormatFITS, Opts{FromAllsky: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.TilesUsed) != 1 || res.TilesUsed[0].Meta.Ipix != 5 {
		t.Fatalf("expected tile 5 only, got %d tiles", len(res.TilesUsed))
	}
	if v := res.Pixels.At(4, 4, 0); math.Abs(float64(v)-10) > 1e-3 {
		t.Errorf("center pixel %f, want 10", v)
	}
}

func TestWarpAccumulateIdentity(t *testing.T) {
	tile := codec.NewArray(4, 4, 1, -32)
	for i := range tile.Data {
		tile.Data[i] = float32(i + 1)
	}
	corners := [4][2]float64{{0, 0}, {3, 0}, {3, 3}, {0, 3}}
	trans, err := EstimateHomography(corners, corners)
	if err != nil {
		t.Fatal(err)
	}

	acc := codec.NewArray(4, 4, 1, -32)
	warpAccumulate(acc, tile, trans)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := tile.At(x, y, 0)
			if got := acc.At(x, y, 0); math.Abs(float64(got-want)) > 1e-4 {
				t.Errorf("(%d,%d)=%f, want %f", x, y, got, want)
			}
		}
	}

	// summing the same tile again doubles every pixel
	warpAccumulate(acc, tile, trans)
	if got, want := acc.At(2, 1, 0), 2*tile.At(2, 1, 0); math.Abs(float64(got-want)) > 1e-4 {
		t.Errorf("after second pass (2,1)=%f, want %f", got, want)
	}
}

func TestRefineTiles(t *testing.T) {
	data := codec.NewArray(4, 4, 1, -32)
	for i := range data.Data {
		data.Data[i] = float32(i)
	}
	meta := hips.TileMeta{Order: 0, Ipix: 6, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 4}
	tile, err := hips.NewTileFromPixels(meta, data)
	if err != nil {
		t.Fatal(err)
	}
	lon, lat := healpix.PixCenter(0, 6)
	center := wcs.SkyCoord{Lon: lon, Lat: lat, Frame: wcs.ICRS}

	// at 1 degree across 600 pixels an order 0 tile spans thousands
	// of pixels and must be subdivided
	zoomed, err := wcs.NewGeometry(center, 600, 600, 1.0, wcs.TAN)
	if err != nil {
		t.Fatal(err)
	}
	refined := refineTiles([]*hips.Tile{tile}, zoomed, ioutil.Discard)
	if len(refined) != 4 {
		t.Fatalf("got %d tiles, want 4 children", len(refined))
	}
	for i, child := range refined {
		if child.Meta.Order != 1 || child.Meta.Ipix != int64(24+i) || child.Meta.Width != 2 {
			t.Errorf("child %d has meta %+v", i, child.Meta)
		}
	}

	// at 60 degrees across 8 pixels the same tile is a few pixels wide
	wide, err := wcs.NewGeometry(center, 8, 8, 60, wcs.TAN)
	if err != nil {
		t.Fatal(err)
	}
	kept := refineTiles([]*hips.Tile{tile}, wide, ioutil.Discard)
	if len(kept) != 1 || kept[0] != tile {
		t.Errorf("undistorted tile was not kept as is")
	}
}
