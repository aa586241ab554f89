package appearance

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// turkishGlyphs assigns the six Turkish letters WinAnsiEncoding (cp1252)
// has no code point for to otherwise-unused byte codes in the 0x80-0x9F
// control range, each paired with the Adobe glyph name a /Differences
// entry needs. Per spec §9's design note, a visible-appearance text
// overlay naming a Turkish signer must still render correctly under a
// bare WinAnsiEncoding base font.
var turkishGlyphs = map[rune]struct {
	code byte
	name string
}{
	'Ğ': {0x80, "Gbreve"},
	'ğ': {0x81, "gbreve"},
	'İ': {0x82, "Idotaccent"},
	'ı': {0x83, "dotlessi"},
	'Ş': {0x84, "Scedilla"},
	'ş': {0x85, "scedilla"},
}

// encodeWinAnsi transliterates s into single-byte WinAnsiEncoding (cp1252)
// text-space bytes via golang.org/x/text/encoding/charmap, substituting the
// turkishGlyphs byte codes for the six letters cp1252 can't represent and
// '?' for anything else unencodable. It returns the encoded bytes and the
// set of codes that need a /Differences entry.
func encodeWinAnsi(s string) (encoded []byte, diffs map[byte]string) {
	enc := charmap.Windows1252.NewEncoder()
	diffs = map[byte]string{}
	for _, r := range s {
		if g, ok := turkishGlyphs[r]; ok {
			encoded = append(encoded, g.code)
			diffs[g.code] = g.name
			continue
		}
		b, err := enc.Bytes([]byte(string(r)))
		if err != nil || len(b) != 1 {
			encoded = append(encoded, '?')
			continue
		}
		encoded = append(encoded, b[0])
	}
	return encoded, diffs
}

// differencesArray renders a /Differences array covering the given codes,
// in ascending code order, collapsing consecutive codes under one run the
// way Adobe's own AFM-derived /Differences arrays do.
func differencesArray(diffs map[byte]string) string {
	if len(diffs) == 0 {
		return ""
	}
	codes := make([]int, 0, len(diffs))
	for c := range diffs {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)

	tokens := make([]string, 0, len(codes)*2)
	prev := -2
	for _, c := range codes {
		if c != prev+1 {
			tokens = append(tokens, fmt.Sprintf("%d", c))
		}
		tokens = append(tokens, "/"+diffs[byte(c)])
		prev = c
	}
	return "/Differences [" + strings.Join(tokens, " ") + "]"
}

// winAnsiTextString escapes raw WinAnsi-encoded bytes as a PDF literal
// string for a Tj operand. Byte-oriented rather than rune-oriented, since
// by this point the text is already a single-byte encoding, not UTF-8.
func winAnsiTextString(b []byte) string {
	var out strings.Builder
	out.WriteByte('(')
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			out.WriteByte('\\')
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	out.WriteByte(')')
	return out.String()
}
