package appearance

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strconv"
	"strings"
)

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

// imageObjects renders the color Image XObject body and, if the source has
// an alpha plane, the DeviceGray SMask Image XObject body that smaskObjNum
// will be written under.
func imageObjects(img *DecodedImage, smaskObjNum int) (colorObj string, alphaObj string) {
	colorSpace := "/DeviceRGB"
	if img.ColorType == ColorGray || img.ColorType == ColorGrayAlpha {
		colorSpace = "/DeviceGray"
	}

	compressed := deflate(img.Color)
	var b strings.Builder
	fmt.Fprintf(&b, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8 /Filter /FlateDecode",
		img.Width, img.Height, colorSpace)
	if img.Alpha != nil {
		fmt.Fprintf(&b, " /SMask %d 0 R", smaskObjNum)
	}
	fmt.Fprintf(&b, " /Length %d >>\nstream\n", len(compressed))
	b.Write(compressed)
	b.WriteString("\nendstream")
	colorObj = b.String()

	if img.Alpha != nil {
		compressedAlpha := deflate(img.Alpha)
		var a strings.Builder
		fmt.Fprintf(&a, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n",
			img.Width, img.Height, len(compressedAlpha))
		a.Write(compressedAlpha)
		a.WriteString("\nendstream")
		alphaObj = a.String()
	}
	return colorObj, alphaObj
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// withAppearance appends /AP << /N formNum 0 R >> /AS /N onto a fresh
// (unsigned, appearance-less) widget dictionary.
func withAppearance(dict []byte, formNum int) []byte {
	idx := bytes.LastIndex(dict, []byte(">>"))
	if idx == -1 {
		return dict
	}
	addition := fmt.Sprintf(" /AP << /N %d 0 R >> /AS /N ", formNum)
	out := make([]byte, 0, len(dict)+len(addition))
	out = append(out, dict[:idx]...)
	out = append(out, addition...)
	out = append(out, dict[idx:]...)
	return out
}
