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

package fits

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Creates/overwrites the file if necessary
func (fits *Image) WriteFile(fileName string) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return fits.Write(f)
}

// Writes an in-memory FITS image to an io.Writer, using the image's
// Bitpix for the data unit. Supported are 8, 16, 32 bit integral and
// 32, 64 bit floating point values.
func (fits *Image) Write(f io.Writer) error {
	bitpix := fits.Bitpix
	if bitpix == 0 {
		bitpix = -32
	}

	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32(&sb, "BITPIX", bitpix, "[1] Bits per pixel")
	writeInt32(&sb, "NAXIS", int32(len(fits.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(fits.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), fits.Naxisn[i], "[1] Axis size")
	}
	if fits.Bzero != 0 {
		writeFloat32(&sb, "BZERO", fits.Bzero, "[1] Zero offset")
	}
	if fits.Bscale != 0 && fits.Bscale != 1 {
		writeFloat32(&sb, "BSCALE", fits.Bscale, "[1] Value scaler")
	}
	for key, val := range fits.Header.Strings {
		writeString(&sb, key, val, "")
	}
	for key, val := range fits.Header.Floats {
		writeFloat32(&sb, key, val, "")
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock := (sb.Len() % fitsBlockSize)
	if bytesInHeaderBlock > 0 {
		for i := bytesInHeaderBlock; i < fitsBlockSize; i++ {
			sb.WriteRune(' ')
		}
	}

	// Write header block(s)
	_, err := f.Write([]byte(sb.String()))
	if err != nil {
		return err
	}

	// Write payload data in network byte order, replacing NaNs with
	// zeros for compatibility
	var bytesPerValue int
	var encode func(v float32, b []byte)
	switch bitpix {
	case 8:
		bytesPerValue = 1
		encode = func(v float32, b []byte) { b[0] = byte(clampRound(v, 0, 255)) }
	case 16:
		bytesPerValue = 2
		encode = func(v float32, b []byte) {
			val := uint16(int16(clampRound(v, -32768, 32767)))
			b[0], b[1] = byte(val>>8), byte(val)
		}
	case 32:
		bytesPerValue = 4
		encode = func(v float32, b []byte) {
			// 2147483520 is the largest float32 below MaxInt32
			val := uint32(int32(clampRound(v, math.MinInt32, 2147483520)))
			b[0], b[1], b[2], b[3] = byte(val>>24), byte(val>>16), byte(val>>8), byte(val)
		}
	case -32:
		bytesPerValue = 4
		encode = func(v float32, b []byte) {
			if math.IsNaN(float64(v)) {
				v = 0
			}
			val := math.Float32bits(v)
			b[0], b[1], b[2], b[3] = byte(val>>24), byte(val>>16), byte(val>>8), byte(val)
		}
	case -64:
		bytesPerValue = 8
		encode = func(v float32, b []byte) {
			if math.IsNaN(float64(v)) {
				v = 0
			}
			val := math.Float64bits(float64(v))
			b[0], b[1], b[2], b[3] = byte(val>>56), byte(val>>48), byte(val>>40), byte(val>>32)
			b[4], b[5], b[6], b[7] = byte(val>>24), byte(val>>16), byte(val>>8), byte(val)
		}
	default:
		return fmt.Errorf("%s: unsupported BITPIX value %d for writing", fits.FileName, bitpix)
	}

	// raw value on disk is (v - Bzero) / Bscale
	bzero, bscale := fits.Bzero, fits.Bscale
	if bscale == 0 {
		bscale = 1
	}
	if bzero != 0 || bscale != 1 {
		inner := encode
		encode = func(v float32, b []byte) { inner((v-bzero)/bscale, b) }
	}
	return writeRawData(f, fits.Data, bytesPerValue, encode)
}

func clampRound(v, lo, hi float32) float32 {
	v = float32(math.Round(float64(v)))
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20g / %-47s", key, value, comment)
}

// Writes a FITS header string value, with escaping if necessary.
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	value = strings.Join(strings.Split(value, "'"), "''")
	if len(value) > 18 {
		value = value[0:18]
	}
	fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", 80-3))
}

// Writes FITS binary body data in network byte order, padding the final
// block to the FITS block size with zeros.
func writeRawData(w io.Writer, data []float32, bytesPerValue int, encode func(v float32, b []byte)) error {
	buf := make([]byte, bufLen-bufLen%bytesPerValue)
	valuesPerBuf := len(buf) / bytesPerValue

	written := 0
	for block := 0; block < len(data); block += valuesPerBuf {
		size := len(data) - block
		if size > valuesPerBuf {
			size = valuesPerBuf
		}
		for offset := 0; offset < size; offset++ {
			encode(data[block+offset], buf[offset*bytesPerValue:(offset+1)*bytesPerValue])
		}
		n, err := w.Write(buf[:size*bytesPerValue])
		if err != nil {
			return err
		}
		written += n
	}

	if pad := written % fitsBlockSize; pad > 0 {
		zeros := make([]byte, fitsBlockSize-pad)
		if _, err := w.Write(zeros); err != nil {
			return err
		}
	}
	return nil
}
