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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/skypaint/internal/hips"
	"github.com/mlnoga/skypaint/internal/render"
	"github.com/mlnoga/skypaint/internal/rest"
	"github.com/mlnoga/skypaint/internal/wcs"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out  = flag.String("out", "out.fits", "save rendered image to `file`")
var jpg  = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var tif  = flag.String("tif", "", "save 16bit rendition of output as TIFF to `file`")

var lon  = flag.Float64("lon", 0, "center longitude (right ascension) in degrees")
var lat  = flag.Float64("lat", 0, "center latitude (declination) in degrees")
var coordsys = flag.String("coordsys", "icrs", "coordinate system of the center position, one of icrs, galactic, ecliptic")
var fov  = flag.Float64("fov", 1.0, "field of view across the image width in degrees")
var width  = flag.Int("width", 1024, "output image width in pixels")
var height = flag.Int("height", 768, "output image height in pixels")
var projection = flag.String("projection", "TAN", "sky projection, one of TAN, AIT, CAR")
var format = flag.String("format", "", "tile format to fetch, one of fits, jpg, png; default: first format the survey offers")

var precise  = flag.Bool("precise", false, "subdivide distorted tiles once for higher accuracy near poles and edges")
var allsky   = flag.Bool("allsky", false, "use the packed allsky file for low tile orders")
var parallel = flag.Int("parallel", hips.DefaultMaxParallel, "maximum number of parallel tile fetches")
var timeout  = flag.Int("timeout", int(hips.DefaultTimeout/time.Second), "per-tile fetch timeout in seconds")
var sample   = flag.Int("sample", 0, "resolve the tile set from this many random pixels instead of all, 0=all")
var order    = flag.Int("order", 3, "tile order for the allsky command")

var maxMiBs  = flag.Int64("maxMiBs", int64((totalMiBs*7)/10), "refuse renders needing more MiB of memory than this, default=0.7x physical memory")

var chroot = flag.String("chroot", "", "change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "switch to user id `uid` before serving, -1=don't")

func main() {
	logWriter:=os.Stdout
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `Skypaint Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (render|allsky|properties|serve|legal|version) [surveyURL]

Commands:
  render     Render a sky image from the given survey
  allsky     Fetch the survey's allsky file and split it into tile files
  properties Show the survey's properties
  serve      Start the REST API server on port 8080
  legal      Show license and attribution information
  version    Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Also auto-select JPEG output target
	if *jpg=="%auto" {
		if *out!="" {
			*jpg=strings.TrimSuffix(*out, filepath.Ext(*out))+".jpg"
		} else {
			*jpg=""
		}
	}

	// Enable CPU profiling if flagged
    if *cpuprofile != "" {
        f, err := os.Create(*cpuprofile)
        if err != nil {
            fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        if err := pprof.StartCPUProfile(f); err != nil {
            fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer pprof.StopCPUProfile()
    }

    args:=flag.Args()
    if len(args)<1 {
    	flag.Usage()
    	return
    }

	var err error
    switch args[0] {
    case "render":
    	err=cmdRender(args[1:], logWriter)

    case "allsky":
    	err=cmdAllsky(args[1:], logWriter)

    case "properties":
    	err=cmdProperties(args[1:], logWriter)

    case "serve":
    	if err=rest.MakeSandbox(*chroot, *setuid, logWriter); err==nil {
	    	rest.Serve()
    	}

    case "legal":
    	cmdLegal(logWriter)

    case "version":
    	fmt.Fprintf(logWriter, "Version %s\n", version)

    case "help", "?":
    	flag.Usage()

    default:
    	fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
    	flag.Usage()
    	return
    }

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
    if *memprofile != "" {
        f, err := os.Create(*memprofile)
        if err != nil {
            fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
            os.Exit(-1)
        }
        defer f.Close()
        runtime.GC() // get up-to-date statistics
        if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
            fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
            os.Exit(-1)
        }
    }

    if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Render a sky image from the survey given as the sole argument
func cmdRender(args []string, logWriter io.Writer) error {
	if len(args)!=1 {
		return fmt.Errorf("render needs exactly one survey URL or directory argument")
	}

	frame, err:=wcs.ParseFrame(*coordsys)
	if err!=nil { return err }
	proj, err:=wcs.ParseProjection(*projection)
	if err!=nil { return err }

	props, err:=hips.LoadProperties(args[0])
	if err!=nil { return err }
	if title:=props.Title(); title!="" {
		fmt.Fprintf(logWriter, "Rendering from %s\n", title)
	}

	tileFormat, err:=props.PickFormat(*format)
	if err!=nil { return err }

	// accumulator, per-tile decodes and the final encode roughly
	// triple the raster footprint
	neededMiBs:=int64(*width) * int64(*height) * int64(tileFormat.Channels()) * 4 * 3 / (1024*1024)
	if neededMiBs> *maxMiBs {
		return fmt.Errorf("render needs about %d MiB, limit is %d MiB; reduce image size or raise -maxMiBs", neededMiBs, *maxMiBs)
	}

	center:=wcs.FromDeg(*lon, *lat, frame)
	geom, err:=wcs.NewGeometry(center, *width, *height, *fov, proj)
	if err!=nil { return err }

	opts:=render.Opts{
		Precise:      *precise,
		FromAllsky:   *allsky,
		MaxParallel:  *parallel,
		Timeout:      time.Duration(*timeout)*time.Second,
		SamplePixels: *sample,
		Log:          logWriter,
	}
	res, err:=render.SkyImage(geom, props, tileFormat, opts)
	if err!=nil { return err }
	res.Report(logWriter)

	if *out!="" {
		fmt.Fprintf(logWriter, "Writing %s ...\n", *out)
		if err:=res.WriteFile(*out); err!=nil { return err }
	}
	if *jpg!="" && *jpg!=*out {
		fmt.Fprintf(logWriter, "Writing %s ...\n", *jpg)
		if err:=res.WriteJPGToFile(*jpg, 95); err!=nil { return err }
	}
	if *tif!="" {
		fmt.Fprintf(logWriter, "Writing %s ...\n", *tif)
		if err:=res.WriteTIFF16ToFile(*tif); err!=nil { return err }
	}
	return nil
}

// Fetch the survey's allsky file at -order and split it into one file
// per tile under the directory given by -out
func cmdAllsky(args []string, logWriter io.Writer) error {
	if len(args)!=1 {
		return fmt.Errorf("allsky needs exactly one survey URL or directory argument")
	}
	props, err:=hips.LoadProperties(args[0])
	if err!=nil { return err }
	tileFormat, err:=props.PickFormat(*format)
	if err!=nil { return err }

	a, err:=hips.FetchAllsky(props, *order, tileFormat, time.Duration(*timeout)*time.Second)
	if err!=nil { return err }
	tiles, err:=a.Tiles()
	if err!=nil { return err }

	outDir:=*out
	if filepath.Ext(outDir)!="" { outDir=filepath.Dir(outDir) }
	for _, tile:=range tiles {
		fileName:=filepath.Join(outDir, tile.Meta.Path())
		if err:=os.MkdirAll(filepath.Dir(fileName), 0755); err!=nil { return err }
		if err:=tile.WriteFile(fileName); err!=nil { return err }
	}
	fmt.Fprintf(logWriter, "Wrote %d tiles of order %d to %s\n", len(tiles), *order, outDir)
	return nil
}

// Show the survey's properties
func cmdProperties(args []string, logWriter io.Writer) error {
	if len(args)!=1 {
		return fmt.Errorf("properties needs exactly one survey URL or directory argument")
	}
	props, err:=hips.LoadProperties(args[0])
	if err!=nil { return err }
	keys:=make([]string, 0, len(props.Data))
	for key:=range props.Data {
		keys=append(keys, key)
	}
	sort.Strings(keys)
	for _, key:=range keys {
		fmt.Fprintf(logWriter, "%-24s = %s\n", key, props.Data[key])
	}
	return nil
}

// Show licensing information
func cmdLegal(logWriter io.Writer) {
	fmt.Fprint(logWriter, `Skypaint is Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.
The binary version of this program uses several open source libraries and components, which come with their own licensing terms. See below for a list of attributions.

ATTRIBUTIONS

A1. https://github.com/gonum/gonum is Copyright (c) 2013 The Gonum Authors. All rights reserved.

Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met:

* Redistributions of source code must retain the above copyright notice, this list of conditions and the following disclaimer.

* Redistributions in binary form must reproduce the above copyright notice, this list of conditions and the following disclaimer in the documentation and/or other materials provided with the distribution.

* Neither the name of the copyright holder nor the names of its contributors may be used to endorse or promote products derived from this software without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.


A2. https://github.com/pbnjay/memory is Copyright (c) 2017, Jeremy Jay. All rights reserved.

Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met:

* Redistributions of source code must retain the above copyright notice, this list of conditions and the following disclaimer.

* Redistributions in binary form must reproduce the above copyright notice, this list of conditions and the following disclaimer in the documentation and/or other materials provided with the distribution.

* Neither the name of the copyright holder nor the names of its contributors may be used to endorse or promote products derived from this software without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.


A3. https://github.com/valyala/fastrand is Copyright (c) 2017 Aliaksandr Valialkin

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A4. https://github.com/lucasb-eyer/go-colorful is Copyright (c) 2013 Lucas Beyer

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A5. https://github.com/gin-gonic/gin is Copyright (c) 2014 Manuel Martinez-Almeida

Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


A6. https://golang.org/x/image is Copyright (c) 2009 The Go Authors. All rights reserved.

Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met:

* Redistributions of source code must retain the above copyright notice, this list of conditions and the following disclaimer.

* Redistributions in binary form must reproduce the above copyright notice, this list of conditions and the following disclaimer in the documentation and/or other materials provided with the distribution.

* Neither the name of Google Inc. nor the names of its contributors may be used to endorse or promote products derived from this software without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
`)
}
