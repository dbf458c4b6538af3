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


package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/skypaint/internal/codec"
	"github.com/mlnoga/skypaint/internal/hips"
	"github.com/mlnoga/skypaint/internal/render"
	"github.com/mlnoga/skypaint/internal/wcs"
)


func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",       getPing)
			v1.GET ("/properties", getProperties)
			v1.POST("/render",     postRender)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

// Loads the survey properties file given by the ?survey= query
// parameter and returns its key-value pairs as JSON.
func getProperties(c *gin.Context) {
	location := c.Query("survey")
	if location=="" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing survey parameter"} )
		return
	}
	props, err := hips.LoadProperties(location)
	if err!=nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()} )
		return
	}
	c.JSON(http.StatusOK, props.Data)
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postRenderArgs struct {
	Survey          string  `json:"survey"`
	Lon             float64 `json:"lon"`
	Lat             float64 `json:"lat"`
	CoordSys        string  `json:"coordsys"`
	FOV             float64 `json:"fov"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Projection      string  `json:"projection"`
	Format          string  `json:"format"`
	Precise         bool    `json:"precise"`
	Allsky          bool    `json:"allsky"`
	Parallel        int     `json:"parallel"`
	TimeoutSeconds  int     `json:"timeoutSeconds"`
}

func postRender(c *gin.Context)  {
	logWriter := gin.DefaultWriter
	var args postRenderArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	var err error
	frame:=wcs.ICRS
	if args.CoordSys!="" {
		if frame, err=wcs.ParseFrame(args.CoordSys); err!=nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
			return
		}
	}
	proj:=wcs.TAN
	if args.Projection!="" {
		if proj, err=wcs.ParseProjection(args.Projection); err!=nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
			return
		}
	}

	props, err:=hips.LoadProperties(args.Survey)
	if err!=nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error() } )
		return
	}
	format, err:=props.PickFormat(args.Format)
	if err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	center:=wcs.FromDeg(args.Lon, args.Lat, frame)
	geom, err:=wcs.NewGeometry(center, args.Width, args.Height, args.FOV, proj)
	if err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	opts:=render.Opts{
		Precise:     args.Precise,
		FromAllsky:  args.Allsky,
		MaxParallel: args.Parallel,
		Timeout:     time.Duration(args.TimeoutSeconds)*time.Second,
		Log:         logWriter,
	}
	res, err:=render.SkyImage(geom, props, format, opts)
	if err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error() } )
		return
	}

	buf:=bytes.Buffer{}
	if err:=codec.Encode(&buf, res.Pixels, format); err!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error() } )
		return
	}
	c.Header("X-Tiles-Used",    strconv.Itoa(res.Stats.TileCount))
	c.Header("X-Tiles-Missing", strconv.Itoa(res.Stats.MissingCount))
	c.Data(http.StatusOK, contentType(format), buf.Bytes())
}

func contentType(format codec.Format) string {
	switch format {
	case codec.FormatJPG: return "image/jpeg"
	case codec.FormatPNG: return "image/png"
	}
	return "application/fits"
}
