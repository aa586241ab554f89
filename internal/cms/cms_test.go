package cms_test

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"testing"

	"github.com/AybarsYldrm/PAdES/internal/cms"
	"github.com/AybarsYldrm/PAdES/internal/derx"
	"github.com/AybarsYldrm/PAdES/internal/oid"
	"github.com/AybarsYldrm/PAdES/internal/testpki"
)

func signRequest(t *testing.T, profile testpki.KeyProfile, hashName string) (*cms.Result, *x509.Certificate) {
	t.Helper()
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: profile})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("CMS Test Signer")

	digest := sha256.Sum256([]byte("byte-range pre-image"))

	result, err := cms.Build(cms.SignRequest{
		Digest:   digest[:],
		HashName: hashName,
		Leaf: cms.Leaf{
			DER:       leaf.Raw,
			IssuerRaw: leaf.RawIssuer,
			Serial:    leaf.SerialNumber,
		},
		ChainDER: nil,
		Signer:   key,
	})
	if err != nil {
		t.Fatalf("cms.Build: %v", err)
	}
	return result, leaf
}

func TestBuildProducesSignature(t *testing.T) {
	result, _ := signRequest(t, testpki.RSA_2048, "sha256")
	if len(result.Signature()) == 0 {
		t.Fatal("Signature() should be non-empty after Build")
	}
}

func TestEncodeParsesAsSignedDataContentInfo(t *testing.T) {
	result, leaf := signRequest(t, testpki.RSA_2048, "sha256")
	der, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := derx.NewReader(der)
	err = r.Sequence(func(ci *derx.Reader) error {
		ctype, err := ci.OID()
		if err != nil {
			return err
		}
		if !ctype.Equal(oid.SignedData) {
			t.Errorf("contentType = %v, want signedData", ctype)
		}
		ok, err := ci.ExplicitTag(0, func(content *derx.Reader) error {
			return content.Sequence(func(sd *derx.Reader) error {
				version, err := sd.SmallInteger()
				if err != nil {
					return err
				}
				if version != 1 {
					t.Errorf("SignedData.version = %d, want 1", version)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		if !ok {
			t.Error("ContentInfo.content: missing [0] explicit tag")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("parse ContentInfo: %v", err)
	}

	_ = leaf
}

func TestEncodeIncludesCertificates(t *testing.T) {
	result, leaf := signRequest(t, testpki.RSA_2048, "sha256")
	der, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// The leaf's raw DER bytes must appear verbatim inside the
	// certificates [0] IMPLICIT SET OF.
	if !containsSubslice(der, leaf.Raw) {
		t.Error("encoded SignedData does not contain the leaf certificate DER")
	}
}

func TestAddSignatureTimeStampAppendsUnsignedAttr(t *testing.T) {
	result, _ := signRequest(t, testpki.ECDSA_P256, "sha256")
	token := []byte("fake-tsa-token-der")
	if err := result.AddSignatureTimeStamp(token); err != nil {
		t.Fatalf("AddSignatureTimeStamp: %v", err)
	}
	der, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !containsSubslice(der, token) {
		t.Error("encoded SignerInfo does not contain the signature-time-stamp token bytes")
	}
}

func TestBuildECDSAP384UsesExplicitDigestInESSCertIDv2(t *testing.T) {
	result, _ := signRequest(t, testpki.ECDSA_P384, "sha384")
	der, err := result.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// sha384's OID DER encoding must appear (the ESSCertIDv2 hashAlgorithm
	// is emitted explicitly for any digest other than sha256).
	sha384OIDDER := encodeOID(oid.SHA384)
	if !containsSubslice(der, sha384OIDDER) {
		t.Error("sha384 ESSCertIDv2 hashAlgorithm OID not found in encoded SignedData")
	}
}

func encodeOID(id asn1.ObjectIdentifier) []byte {
	w := derx.NewBuilder()
	w.OID(id)
	b, _ := w.Bytes()
	return b
}

func containsSubslice(haystack, needle []byte) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
