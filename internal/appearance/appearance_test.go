package appearance_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/AybarsYldrm/PAdES/internal/appearance"
	"github.com/AybarsYldrm/PAdES/internal/pdfdoc"
	"github.com/AybarsYldrm/PAdES/internal/testpki"
)

// encodePNG builds a PNG test fixture via the standard library's encoder —
// this module's own Decode deliberately avoids image/png (see png.go's
// package doc), but producing a *fixture* for that decoder to consume is a
// different concern and not part of what's under test here.
func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture PNG: %v", err)
	}
	return buf.Bytes()
}

func rgbaFixture(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func grayAlphaFixture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) * 5)
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: uint8(255 - x*2)})
		}
	}
	return img
}

func TestDecodeRGBA(t *testing.T) {
	png := encodePNG(t, rgbaFixture(8, 4))
	img, err := appearance.Decode(png)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Width != 8 || img.Height != 4 {
		t.Errorf("dimensions = %dx%d, want 8x4", img.Width, img.Height)
	}
	if img.ColorType != appearance.ColorRGB && img.ColorType != appearance.ColorRGBA {
		t.Errorf("ColorType = %v, want an RGB(A) color type", img.ColorType)
	}
	if len(img.Color) != 8*4*3 {
		t.Errorf("Color plane length = %d, want %d", len(img.Color), 8*4*3)
	}
}

func TestDecodeRejectsNonPNG(t *testing.T) {
	if _, err := appearance.Decode([]byte("not a png")); err == nil {
		t.Error("Decode on non-PNG bytes should fail")
	}
}

func preparedWidget(t *testing.T, rect pdfdoc.Rect) (*pdfdoc.Document, int) {
	t.Helper()
	doc, err := pdfdoc.Open(testpki.MinimalPDF())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	result, err := pdfdoc.EnsureAcroFormAndEmptySigField(doc, "Sig1", rect, -1)
	if err != nil {
		t.Fatalf("EnsureAcroFormAndEmptySigField: %v", err)
	}
	reopened, err := pdfdoc.Open(result.PDF)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	return reopened, result.WidgetObjNum
}

func TestEmbedRGBAWritesImageAndFormXObjects(t *testing.T) {
	rect := pdfdoc.Rect{X0: 10, Y0: 10, X1: 110, Y1: 60}
	doc, widgetNum := preparedWidget(t, rect)

	pngBytes := encodePNG(t, rgbaFixture(16, 8))
	out, err := appearance.Embed(doc, widgetNum, rect, appearance.Options{PNG: pngBytes, Text: "Jane Signer"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	reopened, err := pdfdoc.Open(out)
	if err != nil {
		t.Fatalf("reopen after Embed: %v", err)
	}
	widgetDict, err := reopened.Dict(widgetNum)
	if err != nil {
		t.Fatalf("Dict(widget): %v", err)
	}
	if !bytes.Contains(widgetDict, []byte("/AP")) || !bytes.Contains(widgetDict, []byte("/AS /N")) {
		t.Errorf("widget dict missing appearance stream wiring: %s", widgetDict)
	}
}

func TestEmbedGrayAlphaWritesSMask(t *testing.T) {
	rect := pdfdoc.Rect{X0: 0, Y0: 0, X1: 50, Y1: 50}
	doc, widgetNum := preparedWidget(t, rect)

	pngBytes := encodePNG(t, grayAlphaFixture(6, 6))
	out, err := appearance.Embed(doc, widgetNum, rect, appearance.Options{PNG: pngBytes})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !bytes.Contains(out, []byte("/SMask")) {
		t.Error("embedding an image with an alpha plane should write an /SMask reference")
	}
}

func TestEmbedTurkishTextWritesDifferences(t *testing.T) {
	rect := pdfdoc.Rect{X0: 0, Y0: 0, X1: 150, Y1: 40}
	doc, widgetNum := preparedWidget(t, rect)

	out, err := appearance.Embed(doc, widgetNum, rect, appearance.Options{Text: "Şükrü Ğüzel İmzacı"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !bytes.Contains(out, []byte("/Differences")) {
		t.Errorf("embedding Turkish-letter text should emit a /Differences array, got: %s", out)
	}
	if !bytes.Contains(out, []byte("/BaseEncoding /WinAnsiEncoding")) {
		t.Errorf("expected /BaseEncoding /WinAnsiEncoding alongside /Differences, got: %s", out)
	}
}

func TestEmbedRejectsZeroRect(t *testing.T) {
	rect := pdfdoc.Rect{}
	doc, widgetNum := preparedWidget(t, rect)
	pngBytes := encodePNG(t, rgbaFixture(4, 4))
	if _, err := appearance.Embed(doc, widgetNum, rect, appearance.Options{PNG: pngBytes}); err == nil {
		t.Error("Embed with a zero-area rect should fail")
	}
}
