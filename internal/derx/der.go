// Package derx is the ASN.1/DER codec shared by the CMS builder and the
// RFC 3161 client. It wraps golang.org/x/crypto/cryptobyte the same way the
// teacher's signing-certificate attribute builder does (see
// sign/pdfsignature.go's createSigningCertificateAttribute upstream), but
// generalizes it into a full encode/decode surface: INTEGER, OCTET STRING,
// BIT STRING, NULL, OBJECT IDENTIFIER, the string types, GeneralizedTime,
// SEQUENCE, SET, DER-sorted SET OF, and explicit/implicit context tags.
package derx

import (
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cb_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Builder accumulates DER-encoded bytes. It is a thin, panic-free wrapper
// around cryptobyte.Builder: every Add* method reports its own error instead
// of deferring to a final Bytes() failure, matching this codebase's
// explicit-error-return convention.
type Builder struct {
	b   cryptobyte.Builder
	err error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bytes returns the accumulated DER bytes, or the first error encountered.
func (w *Builder) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	out, err := w.b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("derx: %w", err)
	}
	return out, nil
}

func (w *Builder) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Raw appends already-encoded DER bytes verbatim (used to splice in
// asn1.RawValue.FullBytes from the stdlib decoder).
func (w *Builder) Raw(der []byte) {
	w.b.AddBytes(der)
}

// Sequence encodes a SEQUENCE whose content is built by fn.
func (w *Builder) Sequence(fn func(*Builder)) {
	w.b.AddASN1(cb_asn1.SEQUENCE, func(inner *cryptobyte.Builder) {
		nested := &Builder{b: *inner}
		fn(nested)
		*inner = nested.b
		if nested.err != nil {
			w.fail(nested.err)
		}
	})
}

// Set encodes a SET whose content is built by fn, in the order fn writes it
// (used for SignerInfos/DigestAlgorithms, which are not required to be
// sorted by DER element).
func (w *Builder) Set(fn func(*Builder)) {
	w.b.AddASN1(cb_asn1.SET, func(inner *cryptobyte.Builder) {
		nested := &Builder{b: *inner}
		fn(nested)
		*inner = nested.b
		if nested.err != nil {
			w.fail(nested.err)
		}
	})
}

// SetOfSorted encodes a SET OF whose elements (each already-DER-encoded by
// elemFn) are ordered canonically: ascending by their own encoded bytes, as
// DER requires for a SET OF and as the signed-attributes SET OF Attribute
// form mandates.
func (w *Builder) SetOfSorted(elems [][]byte) {
	sorted := append([][]byte(nil), elems...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessDER(sorted[i], sorted[j])
	})
	w.b.AddASN1(cb_asn1.SET, func(inner *cryptobyte.Builder) {
		for _, e := range sorted {
			inner.AddBytes(e)
		}
	})
}

func lessDER(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ExplicitTag encodes content built by fn wrapped in an explicit
// context-specific [tag] (constructed).
func (w *Builder) ExplicitTag(tag int, fn func(*Builder)) {
	w.b.AddASN1(cb_asn1.Tag(tag).Constructed().ContextSpecific(), func(inner *cryptobyte.Builder) {
		nested := &Builder{b: *inner}
		fn(nested)
		*inner = nested.b
		if nested.err != nil {
			w.fail(nested.err)
		}
	})
}

// ImplicitSetOfSorted encodes a DER-sorted SET OF under an implicit
// context-specific [tag] instead of universal SET (used for SignedData's
// `certificates [0] IMPLICIT SET OF Certificate` and SignerInfo's
// `signedAttrs [0] IMPLICIT SET OF Attribute`).
func (w *Builder) ImplicitSetOfSorted(tag int, elems [][]byte) {
	sorted := append([][]byte(nil), elems...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessDER(sorted[i], sorted[j])
	})
	w.b.AddASN1(cb_asn1.Tag(tag).Constructed().ContextSpecific(), func(inner *cryptobyte.Builder) {
		for _, e := range sorted {
			inner.AddBytes(e)
		}
	})
}

// ImplicitRawSetOf encodes elems, in the given order, under an implicit
// context-specific [tag] without re-sorting (used when elems were already
// produced in the caller's desired order, e.g. leaf-then-chain certificates).
func (w *Builder) ImplicitRawSetOf(tag int, elems [][]byte) {
	w.b.AddASN1(cb_asn1.Tag(tag).Constructed().ContextSpecific(), func(inner *cryptobyte.Builder) {
		for _, e := range elems {
			inner.AddBytes(e)
		}
	})
}

// Integer encodes a non-negative big.Int as a minimal DER INTEGER, padding
// with a leading zero byte when the high bit of the first content byte is
// set (so it is not mistaken for a negative number).
func (w *Builder) Integer(v *big.Int) {
	if v.Sign() < 0 {
		w.fail(fmt.Errorf("derx: negative INTEGER not supported"))
		return
	}
	w.b.AddASN1BigInt(v)
}

// SmallInteger encodes a small non-negative int as a DER INTEGER.
func (w *Builder) SmallInteger(v int) {
	w.b.AddASN1Int64(int64(v))
}

// OctetString encodes an OCTET STRING.
func (w *Builder) OctetString(v []byte) {
	w.b.AddASN1OctetString(v)
}

// BitString encodes a BIT STRING with zero unused bits (the only form this
// codec produces: public keys and signature values, both byte-aligned).
func (w *Builder) BitString(v []byte) {
	w.b.AddASN1BitString(v)
}

// Null encodes an ASN.1 NULL.
func (w *Builder) Null() {
	w.b.AddASN1NULL()
}

// OID encodes an OBJECT IDENTIFIER.
func (w *Builder) OID(id asn1.ObjectIdentifier) {
	w.b.AddASN1ObjectIdentifier(id)
}

// UTF8String encodes a UTF8String.
func (w *Builder) UTF8String(s string) {
	w.b.AddASN1(cb_asn1.UTF8String, func(inner *cryptobyte.Builder) {
		inner.AddBytes([]byte(s))
	})
}

// PrintableString encodes a PrintableString.
func (w *Builder) PrintableString(s string) {
	w.b.AddASN1(cb_asn1.PrintableString, func(inner *cryptobyte.Builder) {
		inner.AddBytes([]byte(s))
	})
}

// IA5String encodes an IA5String.
func (w *Builder) IA5String(s string) {
	w.b.AddASN1(cb_asn1.IA5String, func(inner *cryptobyte.Builder) {
		inner.AddBytes([]byte(s))
	})
}

// GeneralizedTime encodes a GeneralizedTime in UTC, "YYYYMMDDHHMMSSZ" form.
func (w *Builder) GeneralizedTime(t time.Time) {
	w.b.AddASN1GeneralizedTime(t.UTC())
}

// Boolean encodes a BOOLEAN.
func (w *Builder) Boolean(v bool) {
	w.b.AddASN1Boolean(v)
}

// Reader decodes DER (and the BER length/encoding variants permitted on the
// wire from a TSA response) via cryptobyte.String, which already tolerates
// the forms we encounter in practice while still exposing canonical typed
// accessors.
type Reader struct {
	s cryptobyte.String
}

// NewReader wraps raw bytes for decoding.
func NewReader(b []byte) *Reader {
	return &Reader{s: cryptobyte.String(b)}
}

// Empty reports whether all input has been consumed.
func (r *Reader) Empty() bool {
	return len(r.s) == 0
}

// Sequence reads a SEQUENCE and hands its content to fn via a child Reader.
func (r *Reader) Sequence(fn func(*Reader) error) error {
	var content cryptobyte.String
	if !r.s.ReadASN1(&content, cb_asn1.SEQUENCE) {
		return fmt.Errorf("derx: expected SEQUENCE")
	}
	return fn(&Reader{s: content})
}

// Set reads a SET and hands its content to fn via a child Reader.
func (r *Reader) Set(fn func(*Reader) error) error {
	var content cryptobyte.String
	if !r.s.ReadASN1(&content, cb_asn1.SET) {
		return fmt.Errorf("derx: expected SET")
	}
	return fn(&Reader{s: content})
}

// PeekTag reports the next element's tag without consuming it.
func (r *Reader) PeekTag() (cb_asn1.Tag, bool) {
	if len(r.s) == 0 {
		return 0, false
	}
	scratch := r.s
	var elem cryptobyte.String
	var tag cb_asn1.Tag
	if !scratch.ReadAnyASN1Element(&elem, &tag) {
		return 0, false
	}
	return tag, true
}

// SkipElement consumes and discards the next top-level element.
func (r *Reader) SkipElement() error {
	if !r.s.SkipASN1(cb_asn1.AnyElement) {
		return fmt.Errorf("derx: failed to skip element")
	}
	return nil
}

// Integer reads a non-negative INTEGER into a *big.Int.
func (r *Reader) Integer() (*big.Int, error) {
	v := new(big.Int)
	if !r.s.ReadASN1Integer(v) {
		return nil, fmt.Errorf("derx: expected INTEGER")
	}
	return v, nil
}

// SmallInteger reads an INTEGER that fits in an int64.
func (r *Reader) SmallInteger() (int, error) {
	var v int64
	if !r.s.ReadASN1Integer(&v) {
		return 0, fmt.Errorf("derx: expected small INTEGER")
	}
	return int(v), nil
}

// OctetString reads an OCTET STRING.
func (r *Reader) OctetString() ([]byte, error) {
	var v []byte
	if !r.s.ReadASN1Bytes(&v, cb_asn1.OCTET_STRING) {
		return nil, fmt.Errorf("derx: expected OCTET STRING")
	}
	return v, nil
}

// OID reads an OBJECT IDENTIFIER.
func (r *Reader) OID() (asn1.ObjectIdentifier, error) {
	var v asn1.ObjectIdentifier
	if !r.s.ReadASN1ObjectIdentifier(&v) {
		return nil, fmt.Errorf("derx: expected OBJECT IDENTIFIER")
	}
	return v, nil
}

// GeneralizedTime reads a GeneralizedTime.
func (r *Reader) GeneralizedTime() (time.Time, error) {
	var t time.Time
	if !r.s.ReadASN1GeneralizedTime(&t) {
		return time.Time{}, fmt.Errorf("derx: expected GeneralizedTime")
	}
	return t, nil
}

// Boolean reads a BOOLEAN, defaulting to false if omitted is handled by the
// caller (ASN.1 DEFAULT semantics are structure-specific).
func (r *Reader) Boolean() (bool, error) {
	var v bool
	if !r.s.ReadASN1Boolean(&v) {
		return false, fmt.Errorf("derx: expected BOOLEAN")
	}
	return v, nil
}

// UTF8String reads a UTF8String.
func (r *Reader) UTF8String() (string, error) {
	var v []byte
	if !r.s.ReadASN1Bytes(&v, cb_asn1.UTF8String) {
		return "", fmt.Errorf("derx: expected UTF8String")
	}
	return string(v), nil
}

// RawElement reads and returns the full DER encoding (tag+length+content) of
// the next top-level element, for fields this codec forwards opaquely
// (e.g. an embedded TimeStampToken or a Certificate blob).
func (r *Reader) RawElement() ([]byte, error) {
	var elem cryptobyte.String
	var tag cb_asn1.Tag
	if !r.s.ReadAnyASN1Element(&elem, &tag) {
		return nil, fmt.Errorf("derx: failed to read element")
	}
	return []byte(elem), nil
}

// ExplicitTag reads an explicit context-specific [tag] and hands its content
// to fn via a child Reader. ok is false if the next element does not carry
// this tag (used for OPTIONAL fields).
func (r *Reader) ExplicitTag(tag int, fn func(*Reader) error) (ok bool, err error) {
	var content cryptobyte.String
	present := r.s.PeekASN1Tag(cb_asn1.Tag(tag).Constructed().ContextSpecific())
	if !present {
		return false, nil
	}
	if !r.s.ReadASN1(&content, cb_asn1.Tag(tag).Constructed().ContextSpecific()) {
		return false, fmt.Errorf("derx: expected [%d] explicit", tag)
	}
	return true, fn(&Reader{s: content})
}

// ImplicitSetOf reads an implicit context-specific [tag] SET OF and hands its
// raw content (concatenated DER elements) to fn via a child Reader. ok is
// false if the tag is absent (OPTIONAL).
func (r *Reader) ImplicitSetOf(tag int, fn func(*Reader) error) (ok bool, err error) {
	var content cryptobyte.String
	present := r.s.PeekASN1Tag(cb_asn1.Tag(tag).Constructed().ContextSpecific())
	if !present {
		return false, nil
	}
	if !r.s.ReadASN1(&content, cb_asn1.Tag(tag).Constructed().ContextSpecific()) {
		return false, fmt.Errorf("derx: expected [%d] implicit SET OF", tag)
	}
	return true, fn(&Reader{s: content})
}
