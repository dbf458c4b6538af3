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
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxParallel is the default number of concurrent tile fetches.
const DefaultMaxParallel = 5

// DefaultTimeout is the default per-tile fetch timeout.
const DefaultTimeout = 10 * time.Second

// FetchAll retrieves the tiles for the given addresses with at most
// maxParallel concurrent fetches and an independent per-fetch timeout.
// locate turns an address into a URL or local file path.
//
// Results come back in input order, one per address. A tile that cannot
// be retrieved in time, does not exist, or fails to transfer becomes a
// Missing placeholder; a partial batch never fails the call. The only
// errors returned are structural: an invalid address list, a
// non-positive maxParallel, or a locate failure.
func FetchAll(metas []TileMeta, locate func(TileMeta) (string, error), maxParallel int, timeout time.Duration, logWriter io.Writer) ([]*Tile, error) {
	if maxParallel <= 0 {
		return nil, fmt.Errorf("maxParallel must be positive, have %d", maxParallel)
	}
	if locate == nil {
		return nil, fmt.Errorf("missing tile locator")
	}
	locations := make([]string, len(metas))
	for i, meta := range metas {
		if err := meta.Validate(); err != nil {
			return nil, err
		}
		loc, err := locate(meta)
		if err != nil {
			return nil, err
		}
		locations[i] = loc
	}

	client := &http.Client{Timeout: timeout}
	tiles := make([]*Tile, len(metas))

	limiter := make(chan bool, maxParallel)
	for i, meta := range metas {
		limiter <- true
		go func(i int, meta TileMeta, location string) {
			defer func() { <-limiter }()
			tiles[i] = fetchOne(meta, location, client, logWriter)
		}(i, meta, locations[i])
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}

	return tiles, nil
}

// fetchOne retrieves a single tile, from the network or the local
// filesystem. Failures of any kind yield a Missing placeholder.
func fetchOne(meta TileMeta, location string, client *http.Client, logWriter io.Writer) *Tile {
	var raw []byte
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		raw, err = fetchURL(location, client)
	} else {
		raw, err = ioutil.ReadFile(location)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "Tile %s missing: %s\n", meta.Path(), err.Error())
		return NewMissingTile(meta)
	}
	return NewTile(meta, raw)
}

func fetchURL(url string, client *http.Client) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d fetching %s", resp.StatusCode, url)
	}
	return ioutil.ReadAll(resp.Body)
}
