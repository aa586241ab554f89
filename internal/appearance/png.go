// Package appearance decodes a caller-supplied PNG buffer and embeds it
// (plus an optional text overlay) as a widget's normal appearance: one
// color Image XObject, an optional DeviceGray SMask Image XObject for the
// alpha plane, and a Form XObject drawing both.
//
// PNG rasterization (producing the stamp image itself) stays the caller's
// job; this package only decodes IHDR/IDAT far enough to split color and
// alpha samples, the way the core spec assigns it — it intentionally
// doesn't use image/png, since that would delegate the very decode this
// component exists to do.
package appearance

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// ColorType mirrors the PNG IHDR colour type byte for the forms this
// decoder accepts.
type ColorType byte

const (
	ColorGray      ColorType = 0
	ColorRGB       ColorType = 2
	ColorGrayAlpha ColorType = 4
	ColorRGBA      ColorType = 6
)

// DecodedImage is a PNG split into a color plane (gray or RGB, matching the
// source's own color space) and an optional alpha plane.
type DecodedImage struct {
	Width, Height int
	ColorType     ColorType
	Color         []byte // Width*Height*{1,3} bytes
	Alpha         []byte // Width*Height bytes, nil if the source has no alpha
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Decode parses a PNG buffer into a DecodedImage. Only 8-bit, non-interlaced
// gray/gray+alpha/RGB/RGBA images are supported, matching the component's
// scope — palette images, 16-bit depth and Adam7 interlacing are rejected.
func Decode(data []byte) (*DecodedImage, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil, fmt.Errorf("appearance: not a PNG signature")
	}

	pos := 8
	var width, height int
	var bitDepth, colorType, interlace byte
	var idat bytes.Buffer
	sawIHDR := false

	for pos+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[pos:])
		typ := string(data[pos+4 : pos+8])
		bodyStart := pos + 8
		if bodyStart+int(length)+4 > len(data) {
			return nil, fmt.Errorf("appearance: truncated PNG chunk %q", typ)
		}
		body := data[bodyStart : bodyStart+int(length)]

		switch typ {
		case "IHDR":
			if len(body) < 13 {
				return nil, fmt.Errorf("appearance: short IHDR chunk")
			}
			width = int(binary.BigEndian.Uint32(body[0:4]))
			height = int(binary.BigEndian.Uint32(body[4:8]))
			bitDepth = body[8]
			colorType = body[9]
			interlace = body[12]
			sawIHDR = true
		case "IDAT":
			idat.Write(body)
		case "IEND":
			pos = len(data)
			continue
		}
		pos = bodyStart + int(length) + 4
	}

	if !sawIHDR {
		return nil, fmt.Errorf("appearance: missing IHDR chunk")
	}
	if bitDepth != 8 {
		return nil, fmt.Errorf("appearance: unsupported PNG bit depth %d (only 8-bit is supported)", bitDepth)
	}
	if interlace != 0 {
		return nil, fmt.Errorf("appearance: interlaced PNG is not supported")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("appearance: invalid PNG dimensions %dx%d", width, height)
	}

	var channels int
	switch ColorType(colorType) {
	case ColorGray:
		channels = 1
	case ColorRGB:
		channels = 3
	case ColorGrayAlpha:
		channels = 2
	case ColorRGBA:
		channels = 4
	default:
		return nil, fmt.Errorf("appearance: unsupported PNG color type %d", colorType)
	}

	zr, err := zlib.NewReader(bytes.NewReader(idat.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("appearance: zlib: %w", err)
	}
	raw, err := io.ReadAll(zr)
	_ = zr.Close()
	if err != nil {
		return nil, fmt.Errorf("appearance: inflate IDAT: %w", err)
	}

	stride := width * channels
	if len(raw) < (stride+1)*height {
		return nil, fmt.Errorf("appearance: inflated data too short for %dx%d image", width, height)
	}

	pixels := make([]byte, stride*height)
	prevRow := make([]byte, stride)
	rp := 0
	for y := 0; y < height; y++ {
		filterType := raw[rp]
		rp++
		row := raw[rp : rp+stride]
		rp += stride
		out := pixels[y*stride : (y+1)*stride]
		if err := unfilter(filterType, row, prevRow, out, channels); err != nil {
			return nil, err
		}
		prevRow = out
	}

	img := &DecodedImage{Width: width, Height: height, ColorType: ColorType(colorType)}
	switch img.ColorType {
	case ColorGray, ColorRGB:
		img.Color = pixels
	case ColorGrayAlpha:
		gray := make([]byte, width*height)
		alpha := make([]byte, width*height)
		for i := 0; i < width*height; i++ {
			gray[i] = pixels[i*2]
			alpha[i] = pixels[i*2+1]
		}
		img.Color, img.Alpha = gray, alpha
	case ColorRGBA:
		rgb := make([]byte, width*height*3)
		alpha := make([]byte, width*height)
		for i := 0; i < width*height; i++ {
			rgb[i*3] = pixels[i*4]
			rgb[i*3+1] = pixels[i*4+1]
			rgb[i*3+2] = pixels[i*4+2]
			alpha[i] = pixels[i*4+3]
		}
		img.Color, img.Alpha = rgb, alpha
	}
	return img, nil
}

// unfilter reverses one of PNG's five per-scanline filters in place, given
// the already-unfiltered previous row.
func unfilter(filterType byte, row, prevRow, out []byte, bpp int) error {
	switch filterType {
	case 0:
		copy(out, row)
	case 1:
		for i := range row {
			left := byte(0)
			if i >= bpp {
				left = out[i-bpp]
			}
			out[i] = row[i] + left
		}
	case 2:
		for i := range row {
			out[i] = row[i] + prevRow[i]
		}
	case 3:
		for i := range row {
			left := 0
			if i >= bpp {
				left = int(out[i-bpp])
			}
			out[i] = row[i] + byte((left+int(prevRow[i]))/2)
		}
	case 4:
		for i := range row {
			left, upLeft := 0, 0
			if i >= bpp {
				left = int(out[i-bpp])
				upLeft = int(prevRow[i-bpp])
			}
			out[i] = row[i] + paeth(left, int(prevRow[i]), upLeft)
		}
	default:
		return fmt.Errorf("appearance: unsupported PNG filter type %d", filterType)
	}
	return nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	switch {
	case pa <= pb && pa <= pc:
		return byte(a)
	case pb <= pc:
		return byte(b)
	default:
		return byte(c)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
