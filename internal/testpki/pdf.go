package testpki

import (
	"bytes"
	"fmt"
)

// MinimalPDF builds the smallest valid classical-xref PDF this module's
// reader accepts: one empty page under a Catalog/Pages tree, no AcroForm
// (tests exercise EnsureAcroFormAndEmptySigField adding one). It is the
// from-scratch equivalent of the teacher's test fixture files, since a
// reference PDF copied out of _examples/ would carry a cross-reference
// stream or object streams this reader deliberately does not parse.
func MinimalPDF() []byte {
	var buf bytes.Buffer
	offsets := make([]int, 4) // object numbers 1..3 use offsets[1..3]

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << >> >> >>\nendobj\n")

	xrefStart := buf.Len()
	buf.WriteString("xref\n")
	buf.WriteString(fmt.Sprintf("0 %d\n", len(offsets)))
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i < len(offsets); i++ {
		buf.WriteString(fmt.Sprintf("%010d %05d n \n", offsets[i], 0))
	}

	buf.WriteString("trailer\n")
	buf.WriteString(fmt.Sprintf("<< /Size %d /Root 1 0 R >>\n", len(offsets)))
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefStart))
	buf.WriteString("%%EOF\n")

	return buf.Bytes()
}

// MinimalPDFWithPages builds the same document with n empty pages, for
// tests exercising VisibleSignatureOptions.PageIndex against a non-first
// page.
func MinimalPDFWithPages(n int) []byte {
	if n < 1 {
		n = 1
	}
	var buf bytes.Buffer
	pagesStart := 2
	firstPageNum := 3
	total := firstPageNum + n // object numbers 1..total-1 used
	offsets := make([]int, total)

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets[1] = buf.Len()
	buf.WriteString(fmt.Sprintf("1 0 obj\n<< /Type /Catalog /Pages %d 0 R >>\nendobj\n", pagesStart))

	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", firstPageNum+i)
	}
	offsets[pagesStart] = buf.Len()
	buf.WriteString(fmt.Sprintf("%d 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", pagesStart, kids, n))

	for i := 0; i < n; i++ {
		num := firstPageNum + i
		offsets[num] = buf.Len()
		buf.WriteString(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << >> >> >>\nendobj\n", num, pagesStart))
	}

	xrefStart := buf.Len()
	buf.WriteString("xref\n")
	buf.WriteString(fmt.Sprintf("0 %d\n", total))
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i < total; i++ {
		buf.WriteString(fmt.Sprintf("%010d %05d n \n", offsets[i], 0))
	}

	buf.WriteString("trailer\n")
	buf.WriteString(fmt.Sprintf("<< /Size %d /Root 1 0 R >>\n", total))
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefStart))
	buf.WriteString("%%EOF\n")

	return buf.Bytes()
}
