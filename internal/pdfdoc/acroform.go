package pdfdoc

import (
	"bytes"
	"fmt"
)

// widgetFlags is /F 132: bit 3 (Print, value 4) + bit 7 (Locked, value 128)
// = 132. A zero Rect makes the widget invisible on the page despite the
// Print flag, which is the point of an unsigned placeholder widget.
const widgetFlags = 132

// SigFieldResult reports the object numbers created or reused by
// EnsureAcroFormAndEmptySigField.
type SigFieldResult struct {
	PDF          []byte
	FieldObjNum  int
	WidgetObjNum int
	PageObjNum   int
	AppliedRect  Rect
}

// EnsureAcroFormAndEmptySigField produces an incremental update (if needed)
// guaranteeing: Root has /AcroForm with /SigFlags 3; an empty /Sig field
// named fieldName exists with one widget on the resolved page; the page's
// /Annots array lists that widget exactly once. pageIndex < 0 means "first
// page in document order".
func EnsureAcroFormAndEmptySigField(doc *Document, fieldName string, rect Rect, pageIndex int) (*SigFieldResult, error) {
	var pageNum int
	var err error
	if pageIndex >= 0 {
		pageNum, err = doc.FindPageObjNumByIndex(pageIndex)
	} else {
		pageNum, err = doc.FindFirstPageObjNum()
	}
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: resolve target page: %w", err)
	}

	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read Root: %w", err)
	}

	u := NewUpdate(doc)

	acroFormNum, hasAcroForm := dictRef(rootDict, "AcroForm")
	var acroFormDict []byte
	if hasAcroForm {
		acroFormDict, err = doc.Dict(acroFormNum)
		if err != nil {
			return nil, fmt.Errorf("pdfdoc: read AcroForm: %w", err)
		}
	} else {
		acroFormDict = []byte("<< /Type /AcroForm /Fields [] >>")
	}

	fieldNum, widgetNum, found := findSigField(doc, acroFormDict, fieldName)
	if !found {
		fieldNum = u.AllocObjectNum()
		widgetNum = u.AllocObjectNum()

		widgetDict := fmt.Sprintf(
			"<< /Type /Annot /Subtype /Widget /FT /Sig /Rect %s /F %d /Parent %d 0 R /P %d 0 R >>",
			rect.pdfArray(), widgetFlags, fieldNum, pageNum)
		fieldDict := fmt.Sprintf("<< /FT /Sig /T %s /Kids [%d 0 R] >>", pdfString(fieldName), widgetNum)

		u.SetObject(widgetNum, widgetDict)
		u.SetObject(fieldNum, fieldDict)

		acroFormDict = withRefAppended(acroFormDict, "Fields", fieldNum)
	}

	acroFormDict = withSigFlags(acroFormDict, 3)
	if !hasAcroForm {
		acroFormNum = u.AllocObjectNum()
	}
	u.SetObject(acroFormNum, string(acroFormDict))

	pageDict, err := doc.Dict(pageNum)
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read target page: %w", err)
	}
	if newPageDict := withRefAppended(pageDict, "Annots", widgetNum); !bytes.Equal(newPageDict, pageDict) {
		u.SetObject(pageNum, string(newPageDict))
	}

	if !hasAcroForm {
		u.SetObject(doc.RootNum(), string(withRef(rootDict, "AcroForm", acroFormNum)))
	}

	result := &SigFieldResult{FieldObjNum: fieldNum, WidgetObjNum: widgetNum, PageObjNum: pageNum, AppliedRect: rect}
	if len(u.order) == 0 {
		result.PDF = doc.raw
		return result, nil
	}

	newPDF, err := u.Finalize(doc.RootNum())
	if err != nil {
		return nil, err
	}
	result.PDF = newPDF
	return result, nil
}

// findSigField locates an unsigned /FT /Sig field named fieldName among the
// AcroForm's /Fields, returning its single widget's object number (the
// field itself, for a merged field/widget object with no /Kids).
func findSigField(doc *Document, acroFormDict []byte, fieldName string) (fieldNum, widgetNum int, found bool) {
	fields, ok := refArray(acroFormDict, "Fields")
	if !ok {
		return 0, 0, false
	}
	target := []byte("/T " + pdfString(fieldName))
	for _, fnum := range fields {
		fdict, err := doc.Dict(fnum)
		if err != nil {
			continue
		}
		if !bytes.Contains(fdict, []byte("/FT /Sig")) {
			continue
		}
		if !bytes.Contains(fdict, target) {
			continue
		}
		if hasKey(fdict, "V") {
			continue // already signed
		}
		if kids, ok := refArray(fdict, "Kids"); ok && len(kids) > 0 {
			return fnum, kids[0], true
		}
		return fnum, fnum, true
	}
	return 0, 0, false
}
