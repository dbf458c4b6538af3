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

// Package hips provides access to Hierarchical Progressive Survey (HiPS)
// image pyramids: survey descriptors, tile addressing, concurrent tile
// retrieval and packed allsky preview files.
package hips

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/wcs"
)

// ErrInvalidSurvey flags a survey descriptor that is missing required
// fields or carries values outside the HiPS standard.
var ErrInvalidSurvey = errors.New("invalid survey descriptor")

// Properties holds the key-value pairs of a HiPS survey description
// file, with typed accessors for the fields the renderer needs.
type Properties struct {
	Data map[string]string
}

// ParseProperties parses HiPS survey description text. Empty lines,
// comment lines and malformed lines are skipped. If url is non-empty it
// records the location the properties file came from, as a fallback for
// deriving the tile access URL.
func ParseProperties(text, url string) *Properties {
	data := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		data[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if url != "" {
		if idx := strings.LastIndex(url, "/"); idx >= 0 {
			data["properties_url"] = url[:idx]
		}
	}
	return &Properties{Data: data}
}

// ReadProperties reads a survey description from a local file.
func ReadProperties(fileName string) (*Properties, error) {
	text, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return ParseProperties(string(text), ""), nil
}

// FetchProperties reads a survey description from a remote URL.
func FetchProperties(url string) (*Properties, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	text, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseProperties(string(text), url), nil
}

// LoadProperties reads a survey description from a URL, a local
// properties file, or a directory containing one.
func LoadProperties(location string) (*Properties, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if !strings.HasSuffix(location, "/properties") {
			location = strings.TrimRight(location, "/") + "/properties"
		}
		return FetchProperties(location)
	}
	if st, err := os.Stat(location); err == nil && st.IsDir() {
		location = location + "/properties"
	}
	return ReadProperties(location)
}

// Title returns the survey title, if present.
func (p *Properties) Title() string { return p.Data["obs_title"] }

// Frame returns the sky coordinate frame tiles of this survey are
// aligned to.
func (p *Properties) Frame() (wcs.Frame, error) {
	val, ok := p.Data["hips_frame"]
	if !ok {
		return wcs.ICRS, fmt.Errorf("%w: missing hips_frame", ErrInvalidSurvey)
	}
	frame, err := wcs.ParseFrame(val)
	if err != nil {
		return wcs.ICRS, fmt.Errorf("%w: %s", ErrInvalidSurvey, err.Error())
	}
	return frame, nil
}

// Order returns the deepest tile order the survey serves.
func (p *Properties) Order() (int, error) {
	val, ok := p.Data["hips_order"]
	if !ok {
		return 0, fmt.Errorf("%w: missing hips_order", ErrInvalidSurvey)
	}
	order, err := strconv.Atoi(val)
	if err != nil || order < 0 {
		return 0, fmt.Errorf("%w: bad hips_order %q", ErrInvalidSurvey, val)
	}
	return order, nil
}

// TileWidth returns the tile pixel width, defaulting to 512 if the
// descriptor does not carry one.
func (p *Properties) TileWidth() (int, error) {
	val, ok := p.Data["hips_tile_width"]
	if !ok {
		return 512, nil
	}
	width, err := strconv.Atoi(val)
	if err != nil || width <= 0 || width&(width-1) != 0 {
		return 0, fmt.Errorf("%w: tile width %q is not a power of two", ErrInvalidSurvey, val)
	}
	return width, nil
}

// TileFormats returns the tile formats the survey serves.
func (p *Properties) TileFormats() ([]codec.Format, error) {
	val, ok := p.Data["hips_tile_format"]
	if !ok {
		return nil, fmt.Errorf("%w: missing hips_tile_format", ErrInvalidSurvey)
	}
	var formats []codec.Format
	for _, s := range strings.Fields(val) {
		format, err := codec.ParseFormat(s)
		if err != nil {
			continue // surveys may list formats this renderer cannot use
		}
		formats = append(formats, format)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: no usable format in hips_tile_format %q", ErrInvalidSurvey, val)
	}
	return formats, nil
}

// PickFormat selects the tile format to work with: the named one if
// the survey serves it, else the first format the survey offers.
func (p *Properties) PickFormat(name string) (codec.Format, error) {
	if name != "" {
		format, err := codec.ParseFormat(name)
		if err != nil {
			return 0, err
		}
		if !p.HasTileFormat(format) {
			return 0, fmt.Errorf("survey does not serve %s tiles", format)
		}
		return format, nil
	}
	formats, err := p.TileFormats()
	if err != nil {
		return 0, err
	}
	return formats[0], nil
}

// HasTileFormat reports whether the survey serves tiles in the given format.
func (p *Properties) HasTileFormat(format codec.Format) bool {
	formats, err := p.TileFormats()
	if err != nil {
		return false
	}
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}

// BaseURL derives the tile access URL: the explicit service URL if
// present, else the directory of the MOC access URL, else the location
// the properties file itself was read from.
func (p *Properties) BaseURL() (string, error) {
	if url, ok := p.Data["hips_service_url"]; ok {
		return url, nil
	}
	if url, ok := p.Data["moc_access_url"]; ok {
		if idx := strings.LastIndex(url, "/"); idx >= 0 {
			return url[:idx], nil
		}
	}
	if url, ok := p.Data["properties_url"]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w: no tile access URL can be derived", ErrInvalidSurvey)
}

// TileURL returns the fetch location of the given tile within this survey.
func (p *Properties) TileURL(meta TileMeta) (string, error) {
	base, err := p.BaseURL()
	if err != nil {
		return "", err
	}
	return base + "/" + meta.Path(), nil
}

// AllskyURL returns the fetch location of the packed allsky preview
// file at the given order.
func (p *Properties) AllskyURL(order int, format codec.Format) (string, error) {
	base, err := p.BaseURL()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/Norder%d/Allsky.%s", base, order, format.Ext()), nil
}
