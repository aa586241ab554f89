package derx_test

import (
	"bytes"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/AybarsYldrm/PAdES/internal/derx"
)

func TestIntegerRoundTrip(t *testing.T) {
	values := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(127), big.NewInt(128), big.NewInt(255), big.NewInt(1 << 40)}
	for _, v := range values {
		w := derx.NewBuilder()
		w.Integer(v)
		der, err := w.Bytes()
		if err != nil {
			t.Fatalf("Integer(%v): %v", v, err)
		}

		r := derx.NewReader(der)
		got, err := r.Integer()
		if err != nil {
			t.Fatalf("Reader.Integer() for %v: %v", v, err)
		}
		if got.Cmp(v) != 0 {
			t.Errorf("round trip %v got %v", v, got)
		}
	}
}

func TestNegativeIntegerRejected(t *testing.T) {
	w := derx.NewBuilder()
	w.Integer(big.NewInt(-1))
	if _, err := w.Bytes(); err == nil {
		t.Error("Integer(-1) should fail: negative INTEGER not supported")
	}
}

func TestOctetStringRoundTrip(t *testing.T) {
	w := derx.NewBuilder()
	w.OctetString([]byte("hello"))
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("OctetString: %v", err)
	}
	r := derx.NewReader(der)
	got, err := r.OctetString()
	if err != nil {
		t.Fatalf("Reader.OctetString: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestOIDRoundTrip(t *testing.T) {
	id := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	w := derx.NewBuilder()
	w.OID(id)
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("OID: %v", err)
	}
	r := derx.NewReader(der)
	got, err := r.OID()
	if err != nil {
		t.Fatalf("Reader.OID: %v", err)
	}
	if !got.Equal(id) {
		t.Errorf("got %v, want %v", got, id)
	}
}

func TestGeneralizedTimeRoundTrip(t *testing.T) {
	want := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	w := derx.NewBuilder()
	w.GeneralizedTime(want)
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("GeneralizedTime: %v", err)
	}
	r := derx.NewReader(der)
	got, err := r.GeneralizedTime()
	if err != nil {
		t.Fatalf("Reader.GeneralizedTime: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSequenceNesting(t *testing.T) {
	w := derx.NewBuilder()
	w.Sequence(func(b *derx.Builder) {
		b.SmallInteger(1)
		b.OctetString([]byte("inner"))
	})
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}

	r := derx.NewReader(der)
	err = r.Sequence(func(b *derx.Reader) error {
		v, err := b.SmallInteger()
		if err != nil {
			return err
		}
		if v != 1 {
			t.Errorf("got %d, want 1", v)
		}
		s, err := b.OctetString()
		if err != nil {
			return err
		}
		if !bytes.Equal(s, []byte("inner")) {
			t.Errorf("got %q, want %q", s, "inner")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Reader.Sequence: %v", err)
	}
}

// TestSetOfSortedCanonicalOrder verifies the DER canonical ordering a SET OF
// Attribute (signedAttrs) relies on: elements sorted ascending by their own
// encoded bytes, regardless of the order they were added in.
func TestSetOfSortedCanonicalOrder(t *testing.T) {
	elemA := encodeOctetString(t, []byte{0x01})
	elemB := encodeOctetString(t, []byte{0x02})
	elemC := encodeOctetString(t, []byte{0x00})

	w1 := derx.NewBuilder()
	w1.SetOfSorted([][]byte{elemA, elemB, elemC})
	der1, err := w1.Bytes()
	if err != nil {
		t.Fatalf("SetOfSorted (order 1): %v", err)
	}

	w2 := derx.NewBuilder()
	w2.SetOfSorted([][]byte{elemC, elemB, elemA})
	der2, err := w2.Bytes()
	if err != nil {
		t.Fatalf("SetOfSorted (order 2): %v", err)
	}

	if !bytes.Equal(der1, der2) {
		t.Errorf("SetOfSorted is not order-independent: %x != %x", der1, der2)
	}
}

func TestImplicitSetOfSortedUsesContextTag(t *testing.T) {
	elem := encodeOctetString(t, []byte{0x01})
	w := derx.NewBuilder()
	w.ImplicitSetOfSorted(0, [][]byte{elem})
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("ImplicitSetOfSorted: %v", err)
	}
	// [0] IMPLICIT, constructed: tag byte 0xA0.
	if len(der) == 0 || der[0] != 0xA0 {
		t.Errorf("expected leading tag 0xA0, got % x", der)
	}
}

func TestExplicitTagRoundTrip(t *testing.T) {
	w := derx.NewBuilder()
	w.ExplicitTag(0, func(b *derx.Builder) {
		b.SmallInteger(3)
	})
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("ExplicitTag: %v", err)
	}

	r := derx.NewReader(der)
	ok, err := r.ExplicitTag(0, func(b *derx.Reader) error {
		v, err := b.SmallInteger()
		if err != nil {
			return err
		}
		if v != 3 {
			t.Errorf("got %d, want 3", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Reader.ExplicitTag: %v", err)
	}
	if !ok {
		t.Error("ExplicitTag(0) should be present")
	}

	ok2, err := r.ExplicitTag(1, func(b *derx.Reader) error { return nil })
	if err != nil {
		t.Fatalf("ExplicitTag(1) on exhausted reader: %v", err)
	}
	if ok2 {
		t.Error("ExplicitTag(1) should report absent: reader has no more elements")
	}
}

func TestPeekTagAndSkipElement(t *testing.T) {
	w := derx.NewBuilder()
	w.Sequence(func(b *derx.Builder) {
		b.OID(asn1.ObjectIdentifier{1, 2, 3})
		b.SmallInteger(7)
	})
	der, err := w.Bytes()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	err = derxReadSequence(t, der, func(r *derx.Reader) error {
		tag, ok := r.PeekTag()
		if !ok {
			t.Fatal("PeekTag: expected a tag")
		}
		if tag != 0x06 {
			t.Errorf("PeekTag got %v, want OID tag 0x06", tag)
		}
		if err := r.SkipElement(); err != nil {
			return err
		}
		v, err := r.SmallInteger()
		if err != nil {
			return err
		}
		if v != 7 {
			t.Errorf("got %d, want 7", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
}

func derxReadSequence(t *testing.T, der []byte, fn func(*derx.Reader) error) error {
	t.Helper()
	r := derx.NewReader(der)
	return r.Sequence(fn)
}

func encodeOctetString(t *testing.T, v []byte) []byte {
	t.Helper()
	w := derx.NewBuilder()
	w.OctetString(v)
	b, err := w.Bytes()
	if err != nil {
		t.Fatalf("encodeOctetString: %v", err)
	}
	return b
}
