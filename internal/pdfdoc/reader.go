package pdfdoc

import (
	"bytes"
	"fmt"
)

// ErrMalformed is returned when the trailer or xref chain cannot be parsed.
// This package deliberately does not attempt a priority-scan recovery path
// for malformed xref data (see DESIGN.md's open-question decision): a
// from-scratch rewrite without years of malformed-PDF bug reports behind it
// should fail loudly rather than guess.
var ErrMalformed = fmt.Errorf("pdfdoc: malformed PDF structure")

// Document is a read view over a PDF file: the raw bytes plus an object
// offset map built by walking the xref chain.
type Document struct {
	raw       []byte
	offsets   map[int]int64 // object number -> byte offset of "N 0 obj"
	rootNum   int
	trailerID []byte // raw /ID array bytes, if present, reused on rewrite
	startxref int64
	size      int
}

// Open parses a PDF's trailer and xref chain, without touching the object
// bodies themselves (those are read lazily via Object).
func Open(pdf []byte) (*Document, error) {
	startxref, err := lastStartxref(pdf)
	if err != nil {
		return nil, err
	}

	d := &Document{raw: pdf, offsets: map[int]int64{}, startxref: startxref}

	seen := map[int64]bool{}
	pos := startxref
	for {
		if seen[pos] {
			return nil, fmt.Errorf("%w: /Prev cycle at offset %d", ErrMalformed, pos)
		}
		seen[pos] = true

		trailerDict, nextPrev, err := d.readXrefSection(pos)
		if err != nil {
			return nil, err
		}
		if d.rootNum == 0 {
			root, ok := dictRef(trailerDict, "Root")
			if !ok {
				return nil, fmt.Errorf("%w: trailer has no /Root", ErrMalformed)
			}
			d.rootNum = root
		}
		if size, ok := dictInt(trailerDict, "Size"); ok && size > d.size {
			d.size = size
		}
		if d.trailerID == nil {
			if id := extractIDArray(trailerDict); id != nil {
				d.trailerID = id
			}
		}

		if nextPrev < 0 {
			break
		}
		pos = nextPrev
	}

	if d.rootNum == 0 {
		return nil, fmt.Errorf("%w: no /Root found in xref chain", ErrMalformed)
	}
	return d, nil
}

// lastStartxref finds the final `startxref\nN\n%%EOF` sequence, per spec:
// locating it from the end of the file tolerates trailing whitespace or
// garbage some writers append.
func lastStartxref(pdf []byte) (int64, error) {
	idx := bytes.LastIndex(pdf, []byte("startxref"))
	if idx == -1 {
		return 0, fmt.Errorf("%w: no startxref found", ErrMalformed)
	}
	rest := pdf[idx+len("startxref"):]
	n, _, ok := scanInt64(rest, 0)
	if !ok {
		return 0, fmt.Errorf("%w: startxref not followed by an offset", ErrMalformed)
	}
	return n, nil
}

// scanInt64 skips leading whitespace starting at i and reads a decimal
// integer, returning its value and the position just after it.
func scanInt64(buf []byte, i int) (int64, int, bool) {
	for i < len(buf) && isSpace(buf[i]) {
		i++
	}
	start := i
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		i++
	}
	if i == start {
		return 0, i, false
	}
	var v int64
	for _, c := range buf[start:i] {
		v = v*10 + int64(c-'0')
	}
	return v, i, true
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

// readXrefSection parses one classical `xref` table located at pos and
// returns its trailer dictionary bytes and the /Prev offset (-1 if absent).
// If the bytes at pos are not the literal "xref" keyword, it falls back to
// a best-effort scan of "N 0 obj" headers over the whole buffer, per spec.
func (d *Document) readXrefSection(pos int64) (trailerDict []byte, prev int64, err error) {
	buf := d.raw
	if pos < 0 || pos >= int64(len(buf)) {
		return nil, -1, fmt.Errorf("%w: xref offset %d out of range", ErrMalformed, pos)
	}

	if !bytes.HasPrefix(bytes.TrimLeft(buf[pos:], "\r\n\t "), []byte("xref")) {
		d.scanAllObjects()
		trailerStart := bytes.LastIndex(buf, []byte("trailer"))
		if trailerStart == -1 {
			return nil, -1, fmt.Errorf("%w: no trailer keyword found for fallback scan", ErrMalformed)
		}
		start, end, err := findDict(buf, trailerStart)
		if err != nil {
			return nil, -1, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return buf[start:end], -1, nil
	}

	i := int(pos)
	i += len("xref")
	for {
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if bytes.HasPrefix(buf[i:], []byte("trailer")) {
			i += len("trailer")
			start, end, err := findDict(buf, i)
			if err != nil {
				return nil, -1, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			dict := buf[start:end]
			prevOffset := int64(-1)
			if p, ok := dictInt(dict, "Prev"); ok {
				prevOffset = int64(p)
			}
			return dict, prevOffset, nil
		}

		firstObj, j, ok := scanInt64(buf, i)
		if !ok {
			return nil, -1, fmt.Errorf("%w: expected xref subsection header at offset %d", ErrMalformed, i)
		}
		count, j2, ok := scanInt64(buf, j)
		if !ok {
			return nil, -1, fmt.Errorf("%w: expected xref subsection count at offset %d", ErrMalformed, j)
		}
		i = j2
		for k := int64(0); k < count; k++ {
			for i < len(buf) && isSpace(buf[i]) {
				i++
			}
			if i+20 > len(buf) {
				return nil, -1, fmt.Errorf("%w: truncated xref entry", ErrMalformed)
			}
			entry := buf[i : i+20]
			entryType := byte(0)
			for _, c := range entry {
				if c == 'n' || c == 'f' {
					entryType = c
					break
				}
			}
			if entryType == 'n' {
				offsetVal, _, ok := scanInt64(entry, 0)
				if !ok {
					return nil, -1, fmt.Errorf("%w: invalid xref entry offset", ErrMalformed)
				}
				objNum := int(firstObj) + int(k)
				if _, exists := d.offsets[objNum]; !exists {
					d.offsets[objNum] = offsetVal
				}
			}
			i += 20
		}
	}
}

// scanAllObjects populates the offset map via a brute-force scan for
// "N 0 obj" headers, used only when the xref table itself is unparsable as
// literal text (e.g. a cross-reference stream, which this reader does not
// decode).
func (d *Document) scanAllObjects() {
	buf := d.raw
	i := 0
	for {
		rel := bytes.Index(buf[i:], []byte(" obj"))
		if rel == -1 {
			return
		}
		end := i + rel
		start := end
		for start > 0 && (buf[start-1] >= '0' && buf[start-1] <= '9' || buf[start-1] == ' ') {
			start--
		}
		header := buf[start:end]
		fields := bytes.Fields(header)
		if len(fields) == 2 {
			if num, err := parseInt(string(fields[0])); err == nil {
				if _, exists := d.offsets[num]; !exists {
					d.offsets[num] = int64(start)
				}
			}
		}
		i = end + 4
	}
}

func extractIDArray(dict []byte) []byte {
	idx := bytes.Index(dict, []byte("/ID"))
	if idx == -1 {
		return nil
	}
	start := bytes.IndexByte(dict[idx:], '[')
	if start == -1 {
		return nil
	}
	start += idx
	end := bytes.IndexByte(dict[start:], ']')
	if end == -1 {
		return nil
	}
	return append([]byte(nil), dict[start:start+end+1]...)
}

// RootNum returns the object number of the document's /Root catalog.
func (d *Document) RootNum() int { return d.rootNum }

// NextObjectNum returns an object number not yet used in the document.
func (d *Document) NextObjectNum() int {
	max := d.size
	for num := range d.offsets {
		if num >= max {
			max = num + 1
		}
	}
	if max <= d.rootNum {
		max = d.rootNum + 1
	}
	return max
}

// Size returns the /Size reported by the trailer chain (one past the
// highest object number the original file defines).
func (d *Document) Size() int { return d.size }

// Object returns the dictionary span `N 0 obj << ... >> ... endobj` for an
// object number, resolved via the offset map with a scan-and-priority
// fallback per spec.
func (d *Document) Object(num int) (body []byte, start, end int, err error) {
	hint := -1
	if off, ok := d.offsets[num]; ok {
		hint = int(off)
	}
	start, end, err = findObject(d.raw, num, hint)
	if err != nil {
		return nil, 0, 0, err
	}
	return d.raw[start:end], start, end, nil
}

// Dict returns the balanced `<< ... >>` dictionary within an object's span.
func (d *Document) Dict(num int) (dict []byte, err error) {
	body, start, _, err := d.Object(num)
	if err != nil {
		return nil, err
	}
	ds, de, err := findDict(d.raw, start)
	if err != nil {
		return nil, err
	}
	_ = body
	return d.raw[ds:de], nil
}

// FindFirstPageObjNum resolves /Root.Pages and recursively walks /Kids to
// return the first leaf with /Type /Page.
func (d *Document) FindFirstPageObjNum() (int, error) {
	rootDict, err := d.Dict(d.rootNum)
	if err != nil {
		return 0, fmt.Errorf("pdfdoc: read Root: %w", err)
	}
	pagesNum, ok := dictRef(rootDict, "Pages")
	if !ok {
		return 0, fmt.Errorf("pdfdoc: Root has no /Pages")
	}
	return d.findFirstPage(pagesNum, 0)
}

func (d *Document) findFirstPage(num int, depth int) (int, error) {
	if depth > 64 {
		return 0, fmt.Errorf("%w: /Pages tree too deep", ErrMalformed)
	}
	dict, err := d.Dict(num)
	if err != nil {
		return 0, err
	}
	if bytes.Contains(dict, []byte("/Type /Page")) && !bytes.Contains(dict, []byte("/Type /Pages")) {
		return num, nil
	}
	kids, err := kidsOf(dict)
	if err != nil {
		return 0, err
	}
	for _, kid := range kids {
		if leaf, err := d.findFirstPage(kid, depth+1); err == nil {
			return leaf, nil
		}
	}
	return 0, fmt.Errorf("pdfdoc: no /Page leaf found under object %d", num)
}

// FindPageObjNumByIndex walks the page tree honoring /Count at intermediate
// nodes to locate the N-th (zero-based) page leaf.
func (d *Document) FindPageObjNumByIndex(index int) (int, error) {
	rootDict, err := d.Dict(d.rootNum)
	if err != nil {
		return 0, fmt.Errorf("pdfdoc: read Root: %w", err)
	}
	pagesNum, ok := dictRef(rootDict, "Pages")
	if !ok {
		return 0, fmt.Errorf("pdfdoc: Root has no /Pages")
	}
	remaining := index
	return d.findPageByIndex(pagesNum, &remaining, 0)
}

func (d *Document) findPageByIndex(num int, remaining *int, depth int) (int, error) {
	if depth > 64 {
		return 0, fmt.Errorf("%w: /Pages tree too deep", ErrMalformed)
	}
	dict, err := d.Dict(num)
	if err != nil {
		return 0, err
	}
	if bytes.Contains(dict, []byte("/Type /Page")) && !bytes.Contains(dict, []byte("/Type /Pages")) {
		if *remaining == 0 {
			return num, nil
		}
		*remaining--
		return 0, fmt.Errorf("pdfdoc: index out of range under object %d", num)
	}

	if count, ok := dictInt(dict, "Count"); ok && *remaining >= count {
		*remaining -= count
		return 0, fmt.Errorf("pdfdoc: index out of range under object %d", num)
	}

	kids, err := kidsOf(dict)
	if err != nil {
		return 0, err
	}
	for _, kid := range kids {
		if leaf, err := d.findPageByIndex(kid, remaining, depth+1); err == nil {
			return leaf, nil
		}
	}
	return 0, fmt.Errorf("pdfdoc: page index not found under object %d", num)
}

func kidsOf(dict []byte) ([]int, error) {
	refs, ok := refArray(dict, "Kids")
	if !ok {
		return nil, fmt.Errorf("pdfdoc: /Pages node has no /Kids")
	}
	return refs, nil
}

// refArray extracts the object numbers of an array of indirect references,
// `/Key [N G R N G R ...]`. Returns ok=false if the key is absent.
func refArray(dict []byte, key string) (refs []int, ok bool) {
	idx := bytes.Index(dict, []byte("/"+key))
	if idx == -1 {
		return nil, false
	}
	start := bytes.IndexByte(dict[idx:], '[')
	if start == -1 {
		return nil, false
	}
	start += idx
	end := bytes.IndexByte(dict[start:], ']')
	if end == -1 {
		return nil, false
	}
	end += start

	i := start + 1
	for i < end {
		n, j, ok := scanInt64(dict, i)
		if !ok {
			i++
			continue
		}
		// Expect "N G R"; skip the generation number and "R".
		_, j2, ok := scanInt64(dict, j)
		if !ok {
			i = j
			continue
		}
		refs = append(refs, int(n))
		i = j2 + 2
	}
	return refs, true
}
