package pdfdoc

import (
	"fmt"
	"sort"

	"github.com/mattetti/filebuffer"
)

// Update accumulates new/rewritten object bodies for a single incremental
// update appended after an existing Document, then renders them into a
// classical xref table + trailer following the teacher's byte-splicing
// philosophy in sign/pdfxref.go and sign/pdftrailer.go: append-only, never
// reflow bytes that already exist.
type Update struct {
	doc     *Document
	bodies  map[int][]byte // object number -> "N 0 obj\n...\nendobj\n"
	order   []int
	nextNum int
}

// NewUpdate starts an incremental update against doc.
func NewUpdate(doc *Document) *Update {
	return &Update{
		doc:     doc,
		bodies:  map[int][]byte{},
		nextNum: doc.NextObjectNum(),
	}
}

// AllocObjectNum reserves a fresh object number not used by the base
// document or by any object already added to this update.
func (u *Update) AllocObjectNum() int {
	n := u.nextNum
	u.nextNum++
	return n
}

// SetObject registers (or replaces) the dictionary body for an object
// number. dict must already include its enclosing "<< ... >>" delimiters.
func (u *Update) SetObject(num int, dict string) {
	if _, exists := u.bodies[num]; !exists {
		u.order = append(u.order, num)
	}
	u.bodies[num] = []byte(fmt.Sprintf("%d 0 obj\n%s\nendobj\n", num, dict))
}

// Object returns the dictionary text most recently set for num in this
// update, or the base document's dictionary if untouched. Used by callers
// that want to amend a dictionary (append a key) rather than rebuild it.
func (u *Update) Dict(num int) ([]byte, error) {
	if body, ok := u.bodies[num]; ok {
		start, end, err := findDict(body, 0)
		if err != nil {
			return nil, err
		}
		return body[start:end], nil
	}
	return u.doc.Dict(num)
}

// Finalize renders the accumulated objects, a classical xref subsection
// table covering exactly those object numbers, and a fresh trailer with
// /Root rootNum, /Size one-past the highest object number ever used, and
// /Prev pointing at the base document's own startxref. It returns the
// complete new PDF byte sequence.
func (u *Update) Finalize(rootNum int) ([]byte, error) {
	pdf, _, err := u.FinalizeWithOffsets(rootNum)
	return pdf, err
}

// FinalizeWithOffsets is Finalize plus the absolute byte offset of each
// "N 0 obj" header in the returned buffer, for callers (PreparePlaceholder)
// that need to locate a just-written object without re-parsing the xref.
func (u *Update) FinalizeWithOffsets(rootNum int) ([]byte, map[int]int64, error) {
	if len(u.order) == 0 {
		return nil, nil, fmt.Errorf("pdfdoc: Finalize called with no objects added")
	}

	nums := append([]int(nil), u.order...)
	sort.Ints(nums)

	// The growable output buffer mirrors the teacher's SignContext.OutputBuffer:
	// the base document is copied in once, then every new object/xref/trailer
	// byte is appended after it, never reflowing what's already written.
	out := filebuffer.New([]byte{})
	out.Write(u.doc.raw)
	if b := out.Buff.Bytes(); len(b) > 0 && b[len(b)-1] != '\n' {
		out.Write([]byte{'\n'})
	}

	offsets := make(map[int]int64, len(nums))
	for _, num := range nums {
		offsets[num] = int64(out.Buff.Len())
		out.Write(u.bodies[num])
	}

	xrefOffset := int64(out.Buff.Len())
	out.Write([]byte("xref\n"))
	for _, sub := range contiguousRuns(nums) {
		out.Write([]byte(fmt.Sprintf("%d %d\n", sub[0], len(sub))))
		for _, num := range sub {
			out.Write([]byte(fmt.Sprintf("%010d %05d n \n", offsets[num], 0)))
		}
	}

	size := u.doc.Size()
	for _, num := range nums {
		if num+1 > size {
			size = num + 1
		}
	}

	out.Write([]byte("trailer\n"))
	out.Write([]byte(fmt.Sprintf("<< /Size %d /Root %d 0 R /Prev %d", size, rootNum, u.doc.startxref)))
	if u.doc.trailerID != nil {
		out.Write([]byte(" /ID "))
		out.Write(u.doc.trailerID)
	}
	out.Write([]byte(" >>\n"))
	out.Write([]byte("startxref\n"))
	out.Write([]byte(fmt.Sprintf("%d\n", xrefOffset)))
	out.Write([]byte("%%EOF\n"))

	return out.Buff.Bytes(), offsets, nil
}

// contiguousRuns splits a sorted, deduplicated slice of object numbers into
// maximal runs of consecutive integers, matching how a classical xref table
// groups entries into "start count" subsections.
func contiguousRuns(sorted []int) [][]int {
	var runs [][]int
	i := 0
	for i < len(sorted) {
		j := i + 1
		for j < len(sorted) && sorted[j] == sorted[j-1]+1 {
			j++
		}
		runs = append(runs, sorted[i:j])
		i = j
	}
	return runs
}
