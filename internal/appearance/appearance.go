package appearance

import (
	"fmt"
	"strings"

	"github.com/AybarsYldrm/PAdES/internal/pdfdoc"
)

// Options configures a widget's visible appearance. Both fields are
// optional; supplying neither produces an empty (invisible) appearance.
type Options struct {
	PNG  []byte // decoded per IHDR/IDAT; 8-bit gray/gray+alpha/RGB/RGBA, no interlace
	Text string // overlay text, drawn in Helvetica on top of the image if both are set
}

// Embed decodes opts.PNG (if present), writes the Image/SMask/Form XObjects
// needed to render it plus any overlay text, and points the widget's
// /AP /N at the new Form XObject, asserting /AS /N. widgetObjNum and rect
// must be the values EnsureAcroFormAndEmptySigField returned for this
// widget.
func Embed(doc *pdfdoc.Document, widgetObjNum int, rect pdfdoc.Rect, opts Options) ([]byte, error) {
	width := rect.X1 - rect.X0
	height := rect.Y1 - rect.Y0
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("appearance: widget rect has non-positive dimensions")
	}

	u := pdfdoc.NewUpdate(doc)

	var resourceParts, contentParts []string

	if len(opts.PNG) > 0 {
		img, err := Decode(opts.PNG)
		if err != nil {
			return nil, fmt.Errorf("appearance: decode PNG: %w", err)
		}

		var smaskNum int
		if img.Alpha != nil {
			smaskNum = u.AllocObjectNum()
		}
		colorNum := u.AllocObjectNum()
		colorObj, alphaObj := imageObjects(img, smaskNum)
		u.SetObject(colorNum, colorObj)
		if img.Alpha != nil {
			u.SetObject(smaskNum, alphaObj)
		}

		resourceParts = append(resourceParts, fmt.Sprintf("/XObject << /Im0 %d 0 R >>", colorNum))
		contentParts = append(contentParts, fmt.Sprintf("q %s 0 0 %s 0 0 cm /Im0 Do Q", formatFloat(width), formatFloat(height)))
	}

	if opts.Text != "" {
		encodedText, diffs := encodeWinAnsi(opts.Text)
		encoding := "/WinAnsiEncoding"
		if d := differencesArray(diffs); d != "" {
			encoding = fmt.Sprintf("<< /BaseEncoding /WinAnsiEncoding %s >>", d)
		}
		resourceParts = append(resourceParts, fmt.Sprintf("/Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding %s >> >>", encoding))

		fontSize := fitFontSize(opts.Text, width*0.9, height*0.7)
		tw := textWidth(opts.Text, fontSize)
		tx := (width - tw) / 2
		if tx < 0 {
			tx = 0
		}
		ty := (height-fontSize)/2 + fontSize*0.2
		contentParts = append(contentParts, fmt.Sprintf("q BT /F1 %s Tf %s %s Td %s Tj ET Q",
			formatFloat(fontSize), formatFloat(tx), formatFloat(ty), winAnsiTextString(encodedText)))
	}

	formNum := u.AllocObjectNum()
	content := strings.Join(contentParts, " ")
	formDict := fmt.Sprintf(
		"<< /Type /XObject /Subtype /Form /FormType 1 /BBox [0 0 %s %s] /Matrix [1 0 0 1 0 0] /Resources << %s >> /Length %d >>\nstream\n%s\nendstream",
		formatFloat(width), formatFloat(height), strings.Join(resourceParts, " "), len(content), content)
	u.SetObject(formNum, formDict)

	widgetDict, err := doc.Dict(widgetObjNum)
	if err != nil {
		return nil, fmt.Errorf("appearance: read widget: %w", err)
	}
	u.SetObject(widgetObjNum, string(withAppearance(widgetDict, formNum)))

	return u.Finalize(doc.RootNum())
}
