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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/wcs"
)

func testMetas(n int) []TileMeta {
	metas := make([]TileMeta, n)
	for i := range metas {
		metas[i] = TileMeta{Order: 1, Ipix: int64(i), Format: codec.FormatFITS, Frame: wcs.ICRS, Width: 2}
	}
	return metas
}

// Results must come back in input order with per-tile failure isolation,
// regardless of completion timing.
func TestFetchAllOrderingAndMissing(t *testing.T) {
	missing := map[string]bool{"/Norder1/Dir0/Npix1.fits": true, "/Norder1/Dir0/Npix4.fits": true}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if missing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		// delay some tiles so completion order differs from input order
		if r.URL.Path == "/Norder1/Dir0/Npix0.fits" || r.URL.Path == "/Norder1/Dir0/Npix3.fits" {
			time.Sleep(50 * time.Millisecond)
		}
		fmt.Fprintf(w, "payload %s", r.URL.Path)
	}))
	defer server.Close()

	metas := testMetas(6)
	locate := func(m TileMeta) (string, error) { return server.URL + "/" + m.Path(), nil }
	tiles, err := FetchAll(metas, locate, 3, 5*time.Second, ioutil.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 6 {
		t.Fatalf("got %d tiles", len(tiles))
	}
	numMissing := 0
	for i, tile := range tiles {
		if tile.Meta != metas[i] {
			t.Errorf("tile %d: meta %+v out of order", i, tile.Meta)
		}
		if tile.Missing {
			numMissing++
			continue
		}
		want := fmt.Sprintf("payload /%s", tile.Meta.Path())
		if !bytes.Equal(tile.Raw, []byte(want)) {
			t.Errorf("tile %d: raw %q, want %q", i, tile.Raw, want)
		}
	}
	if numMissing != 2 || !tiles[1].Missing || !tiles[4].Missing {
		t.Errorf("wrong missing tiles: %d missing", numMissing)
	}
}

func TestFetchAllTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("too late"))
	}))
	defer server.Close()

	metas := testMetas(2)
	locate := func(m TileMeta) (string, error) { return server.URL + "/" + m.Path(), nil }
	tiles, err := FetchAll(metas, locate, 2, 20*time.Millisecond, ioutil.Discard)
	if err != nil {
		t.Fatal(err)
	}
	for i, tile := range tiles {
		if !tile.Missing {
			t.Errorf("tile %d: expected Missing on timeout", i)
		}
	}
}

func TestFetchAllLocalFiles(t *testing.T) {
	dir := t.TempDir()
	metas := testMetas(2)
	path0 := filepath.Join(dir, "Npix0.fits")
	if err := ioutil.WriteFile(path0, []byte("local tile"), 0644); err != nil {
		t.Fatal(err)
	}
	locate := func(m TileMeta) (string, error) { return filepath.Join(dir, fmt.Sprintf("Npix%d.fits", m.Ipix)), nil }

	tiles, err := FetchAll(metas, locate, 2, time.Second, ioutil.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if tiles[0].Missing || !bytes.Equal(tiles[0].Raw, []byte("local tile")) {
		t.Errorf("tile 0 not read from file")
	}
	if !tiles[1].Missing {
		t.Errorf("tile 1 should be missing")
	}
}

func TestFetchAllProgrammerErrors(t *testing.T) {
	metas := testMetas(1)
	locate := func(m TileMeta) (string, error) { return m.Path(), nil }
	if _, err := FetchAll(metas, locate, 0, time.Second, ioutil.Discard); err == nil {
		t.Errorf("expected error for maxParallel 0")
	}
	if _, err := FetchAll(metas, nil, 2, time.Second, ioutil.Discard); err == nil {
		t.Errorf("expected error for nil locate")
	}
	bad := []TileMeta{{Order: 1, Ipix: 48, Format: codec.FormatFITS, Width: 2}}
	if _, err := FetchAll(bad, locate, 2, time.Second, ioutil.Discard); err == nil {
		t.Errorf("expected error for out-of-range ipix")
	}
}
