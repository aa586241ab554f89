package pdfdoc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"
)

// ErrCMSTooLarge is returned by Placeholder.InjectCMS when the hex encoding
// of the signed CMS exceeds the reserved placeholder capacity.
var ErrCMSTooLarge = fmt.Errorf("pdfdoc: CMS DER exceeds placeholder capacity")

// ErrFieldMissing is returned by PreparePlaceholder when no empty /Sig
// field matching the request exists — either the named field was never
// created, or it was already signed (has /V).
var ErrFieldMissing = fmt.Errorf("pdfdoc: no empty signature field found")

const byteRangePlaceholder = "[0000000000 0000000000 0000000000 0000000000]"

// PlaceholderOptions configures a signature-dictionary placeholder.
type PlaceholderOptions struct {
	SubFilter         string // "ETSI.CAdES.detached" or "ETSI.RFC3161"
	PlaceholderHexLen int    // H; odd values are rounded up to the next even value
	FieldName         string
	SignerName        string
	Reason            string
	Now               time.Time
}

// Placeholder is a PDF carrying a freshly-reserved signature placeholder,
// plus the byte offsets needed to hash the pre-image and later splice in
// the signed CMS without moving any byte.
type Placeholder struct {
	PDF         []byte
	SigObjNum   int
	FieldObjNum int

	ByteRangeA, ByteRangeB, ByteRangeC, ByteRangeD int

	contentsStart int // offset of '<'
	contentsEnd   int // offset one past '>'
	capacity      int // H, hex digit count
}

// PreparePlaceholder locates the named empty signature field (created
// beforehand by EnsureAcroFormAndEmptySigField), allocates a signature
// dictionary with placeholder /Contents and /ByteRange, wires /V on the
// field, appends the incremental update, then patches /ByteRange in place
// to cover every byte outside the /Contents hex interior.
func PreparePlaceholder(doc *Document, opts PlaceholderOptions) (*Placeholder, error) {
	hexLen := opts.PlaceholderHexLen
	if hexLen%2 != 0 {
		hexLen++
	}
	if hexLen < 2 {
		hexLen = 2
	}
	when := opts.Now
	if when.IsZero() {
		when = time.Now()
	}

	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read Root: %w", err)
	}
	acroFormNum, ok := dictRef(rootDict, "AcroForm")
	if !ok {
		return nil, fmt.Errorf("pdfdoc: no AcroForm; call EnsureAcroFormAndEmptySigField first")
	}
	acroFormDict, err := doc.Dict(acroFormNum)
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read AcroForm: %w", err)
	}

	fieldNum, widgetNum, found := findSigField(doc, acroFormDict, opts.FieldName)
	if !found {
		return nil, fmt.Errorf("%w: named %q", ErrFieldMissing, opts.FieldName)
	}

	widgetDict, err := doc.Dict(widgetNum)
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read widget: %w", err)
	}
	pageRef, hasPage := dictRef(widgetDict, "P")
	if hasPage {
		if pageDict, err := doc.Dict(pageRef); err != nil || !bytes.Contains(pageDict, []byte("/Type /Page")) {
			hasPage = false
		}
	}

	u := NewUpdate(doc)
	sigNum := u.AllocObjectNum()

	parts := []string{
		"/Type /Sig",
		"/Filter /Adobe.PPKLite",
		"/SubFilter /" + opts.SubFilter,
	}
	if hasPage {
		parts = append(parts, fmt.Sprintf("/P %d 0 R", pageRef))
	}
	parts = append(parts, "/ByteRange "+byteRangePlaceholder)
	parts = append(parts, "/Contents <"+strings.Repeat("0", hexLen)+">")
	parts = append(parts, "/M "+pdfDateTime(when))
	if opts.SignerName != "" {
		parts = append(parts, "/Name "+pdfString(opts.SignerName))
	}
	if opts.Reason != "" {
		parts = append(parts, "/Reason "+pdfString(opts.Reason))
	}
	parts = append(parts, "/Prop_Build << /App << /Name /PAdES#20Go#20Signer >> >>")
	u.SetObject(sigNum, "<< "+strings.Join(parts, " ")+" >>")

	fieldDict, err := doc.Dict(fieldNum)
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: read field: %w", err)
	}
	u.SetObject(fieldNum, string(withRef(fieldDict, "V", sigNum)))

	if opts.SubFilter == "ETSI.RFC3161" {
		u.SetObject(doc.RootNum(), string(withPermsDocTimeStamp(rootDict, sigNum)))
	}

	newPDF, offsets, err := u.FinalizeWithOffsets(doc.RootNum())
	if err != nil {
		return nil, err
	}

	sigStart := int(offsets[sigNum])
	_, objEnd, err := findObject(newPDF, sigNum, sigStart)
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: locate new signature object: %w", err)
	}
	span := newPDF[sigStart:objEnd]

	contentsPrefix := []byte("/Contents ")
	prefixRel := bytes.Index(span, contentsPrefix)
	if prefixRel == -1 {
		return nil, fmt.Errorf("pdfdoc: /Contents placeholder not found in new signature object")
	}
	contentsStart := sigStart + prefixRel + len(contentsPrefix)
	if newPDF[contentsStart] != '<' {
		return nil, fmt.Errorf("pdfdoc: /Contents placeholder malformed")
	}
	closeRel := bytes.IndexByte(newPDF[contentsStart:], '>')
	if closeRel == -1 {
		return nil, fmt.Errorf("pdfdoc: unterminated /Contents placeholder")
	}
	contentsEnd := contentsStart + closeRel + 1

	byteRangeRel := bytes.Index(span, []byte(byteRangePlaceholder))
	if byteRangeRel == -1 {
		return nil, fmt.Errorf("pdfdoc: /ByteRange placeholder not found in new signature object")
	}
	byteRangeStart := sigStart + byteRangeRel

	a := 0
	b := contentsStart
	c := contentsEnd
	d := len(newPDF) - c

	patched := fmt.Sprintf("[%s %s %s %s]", leftPad(a, 10), leftPad(b, 10), leftPad(c, 10), leftPad(d, 10))
	if len(patched) != len(byteRangePlaceholder) {
		return nil, fmt.Errorf("pdfdoc: internal error: /ByteRange patch length mismatch")
	}
	copy(newPDF[byteRangeStart:byteRangeStart+len(patched)], patched)

	return &Placeholder{
		PDF:           newPDF,
		SigObjNum:     sigNum,
		FieldObjNum:   fieldNum,
		ByteRangeA:    a,
		ByteRangeB:    b,
		ByteRangeC:    c,
		ByteRangeD:    d,
		contentsStart: contentsStart,
		contentsEnd:   contentsEnd,
		capacity:      hexLen,
	}, nil
}

// PrepareDocumentTimeStampPlaceholder is the document-timestamp-only flow:
// it synthesizes an AcroForm + field + widget in the same update if the
// named field doesn't already exist, then behaves like PreparePlaceholder
// with SubFilter /ETSI.RFC3161.
func PrepareDocumentTimeStampPlaceholder(doc *Document, fieldName string, hexLen int) (*Placeholder, error) {
	needsField := true
	if rootDict, err := doc.Dict(doc.RootNum()); err == nil {
		if acroFormNum, ok := dictRef(rootDict, "AcroForm"); ok {
			if acroFormDict, err := doc.Dict(acroFormNum); err == nil {
				if _, _, found := findSigField(doc, acroFormDict, fieldName); found {
					needsField = false
				}
			}
		}
	}

	working := doc
	if needsField {
		res, err := EnsureAcroFormAndEmptySigField(doc, fieldName, Rect{}, -1)
		if err != nil {
			return nil, fmt.Errorf("pdfdoc: ensure document-timestamp field: %w", err)
		}
		working, err = Open(res.PDF)
		if err != nil {
			return nil, fmt.Errorf("pdfdoc: reopen after ensuring document-timestamp field: %w", err)
		}
	}

	return PreparePlaceholder(working, PlaceholderOptions{
		SubFilter:         "ETSI.RFC3161",
		PlaceholderHexLen: hexLen,
		FieldName:         fieldName,
	})
}

// ComputeByteRangeHash streams pdf[0:b] and pdf[c:c+d] into h and returns
// the digest — the exact pre-image the CMS messageDigest and RFC 3161
// messageImprint must both be computed over.
func (p *Placeholder) ComputeByteRangeHash(h hash.Hash) []byte {
	h.Write(p.PDF[:p.ByteRangeB])
	h.Write(p.PDF[p.ByteRangeC : p.ByteRangeC+p.ByteRangeD])
	return h.Sum(nil)
}

// InjectCMS hex-encodes cmsDER uppercase, right-pads it with '0' to exactly
// the reserved placeholder capacity, and splices it into /Contents without
// moving any other byte. It returns a new buffer; the receiver's PDF field
// is left untouched.
func (p *Placeholder) InjectCMS(cmsDER []byte) ([]byte, error) {
	encoded := strings.ToUpper(hex.EncodeToString(cmsDER))
	if len(encoded) > p.capacity {
		return nil, ErrCMSTooLarge
	}
	padded := encoded + strings.Repeat("0", p.capacity-len(encoded))

	out := append([]byte(nil), p.PDF...)
	copy(out[p.contentsStart+1:p.contentsStart+1+len(padded)], padded)
	return out, nil
}

// withPermsDocTimeStamp sets Root's /Perms /DocTimeStamp entry to sigNum,
// preserving any other entries already present in /Perms.
func withPermsDocTimeStamp(rootDict []byte, sigNum int) []byte {
	if idx := bytes.Index(rootDict, []byte("/Perms")); idx != -1 {
		if start, end, err := findDict(rootDict, idx); err == nil {
			newPerms := withRef(rootDict[start:end], "DocTimeStamp", sigNum)
			out := make([]byte, 0, len(rootDict)+len(newPerms))
			out = append(out, rootDict[:start]...)
			out = append(out, newPerms...)
			out = append(out, rootDict[end:]...)
			return out
		}
	}
	return appendBeforeClose(rootDict, fmt.Sprintf("/Perms << /DocTimeStamp %d 0 R >>", sigNum))
}
