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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/wcs"
)

const samplePropertiesText = `# HiPS properties
creator_did          = ivo://CDS/P/2MASS/H
obs_title            = 2MASS H band
hips_version         = 1.4
hips_order           = 9
hips_frame           = equatorial
hips_tile_width      = 512
hips_tile_format     = fits jpg
hips_service_url     = http://alasky.unistra.fr/2MASS/H
bad line without an equals sign
`

func TestParseProperties(t *testing.T) {
	p := ParseProperties(samplePropertiesText, "")
	if p.Title() != "2MASS H band" {
		t.Errorf("title %q", p.Title())
	}
	if order, err := p.Order(); err != nil || order != 9 {
		t.Errorf("order %d, %v", order, err)
	}
	if frame, err := p.Frame(); err != nil || frame != wcs.ICRS {
		t.Errorf("frame %v, %v", frame, err)
	}
	if width, err := p.TileWidth(); err != nil || width != 512 {
		t.Errorf("width %d, %v", width, err)
	}
	if !p.HasTileFormat(codec.FormatFITS) || !p.HasTileFormat(codec.FormatJPG) || p.HasTileFormat(codec.FormatPNG) {
		t.Errorf("tile formats wrong: %v", p.Data["hips_tile_format"])
	}
}

func TestPickFormat(t *testing.T) {
	p := ParseProperties(samplePropertiesText, "")
	if format, err := p.PickFormat(""); err != nil || format != codec.FormatFITS {
		t.Errorf("default format %v, %v", format, err)
	}
	if format, err := p.PickFormat("jpg"); err != nil || format != codec.FormatJPG {
		t.Errorf("jpg format %v, %v", format, err)
	}
	if _, err := p.PickFormat("png"); err == nil {
		t.Errorf("expected error for a format the survey does not serve")
	}
	if _, err := p.PickFormat("webp"); !errors.Is(err, codec.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTileWidthDefault(t *testing.T) {
	p := ParseProperties("hips_order = 3", "")
	if width, err := p.TileWidth(); err != nil || width != 512 {
		t.Errorf("width %d, %v", width, err)
	}
	p = ParseProperties("hips_tile_width = 100", "")
	if _, err := p.TileWidth(); !errors.Is(err, ErrInvalidSurvey) {
		t.Errorf("expected ErrInvalidSurvey for width 100, got %v", err)
	}
}

func TestBaseURLFallbacks(t *testing.T) {
	cases := []struct {
		name string
		text string
		url  string
		want string
	}{
		{"service url", "hips_service_url = http://example.org/survey", "", "http://example.org/survey"},
		{"moc url", "moc_access_url = http://example.org/survey/Moc.fits", "", "http://example.org/survey"},
		{"properties url", "obs_title = x", "http://example.org/survey/properties", "http://example.org/survey"},
	}
	for _, c := range cases {
		p := ParseProperties(c.text, c.url)
		got, err := p.BaseURL()
		if err != nil || got != c.want {
			t.Errorf("%s: got %q, %v; want %q", c.name, got, err, c.want)
		}
	}

	p := ParseProperties("obs_title = x", "")
	if _, err := p.BaseURL(); !errors.Is(err, ErrInvalidSurvey) {
		t.Errorf("expected ErrInvalidSurvey, got %v", err)
	}
}

func TestTileURL(t *testing.T) {
	p := ParseProperties("hips_service_url = http://example.org/survey", "")
	meta := TileMeta{Order: 6, Ipix: 30889, Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 512}
	url, err := p.TileURL(meta)
	if err != nil || url != "http://example.org/survey/Norder6/Dir30000/Npix30889.fits" {
		t.Errorf("got %q, %v", url, err)
	}
	url, err = p.AllskyURL(3, codec.FormatJPG)
	if err != nil || url != "http://example.org/survey/Norder3/Allsky.jpg" {
		t.Errorf("got %q, %v", url, err)
	}
}

func TestFetchProperties(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/survey/properties" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("hips_order = 3\nhips_frame = galactic\n"))
	}))
	defer server.Close()

	p, err := FetchProperties(server.URL + "/survey/properties")
	if err != nil {
		t.Fatal(err)
	}
	if frame, err := p.Frame(); err != nil || frame != wcs.Galactic {
		t.Errorf("frame %v, %v", frame, err)
	}
	// without a service URL, the properties location is the fallback
	base, err := p.BaseURL()
	if err != nil || base != server.URL+"/survey" {
		t.Errorf("base %q, %v", base, err)
	}
}
