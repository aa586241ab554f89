package pades_test

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/AybarsYldrm/PAdES/internal/pdfdoc"
	"github.com/AybarsYldrm/PAdES/internal/testpki"

	pades "github.com/AybarsYldrm/PAdES"
)

func tsaOptions(url string) pades.TSAOptions {
	return pades.DefaultTSAOptions(url)
}

// dictRefHelper pulls a `/Key N 0 R` reference's object number out of a
// dict, for assertions in tests that only have access to this package's
// exported surface (not pdfdoc's unexported dict helpers).
func dictRefHelper(dict []byte, key string) (int, bool) {
	needle := []byte("/" + key + " ")
	idx := bytes.Index(dict, needle)
	if idx == -1 {
		return 0, false
	}
	rest := dict[idx+len(needle):]
	end := bytes.IndexByte(rest, ' ')
	if end == -1 {
		return 0, false
	}
	n := 0
	for _, c := range rest[:end] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Scenario 1: a minimal one-page PDF without AcroForm, an RSA-2048 cert
// with digitalSignature, a TSA that echoes imprint+nonce. Expect a
// pades-t signature with the field, ByteRange and unsigned
// signature-time-stamp attribute all present.
func TestSignPAdEST(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Mode != "pades-t" {
		t.Fatalf("Mode = %q, want pades-t", result.Mode)
	}

	doc, err := pdfdoc.Open(result.PDF)
	if err != nil {
		t.Fatalf("reopen signed PDF: %v", err)
	}
	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		t.Fatalf("Dict(Root): %v", err)
	}
	acroFormNum, ok := dictRefHelper(rootDict, "AcroForm")
	if !ok {
		t.Fatal("signed PDF Root has no /AcroForm")
	}
	acroFormDict, err := doc.Dict(acroFormNum)
	if err != nil {
		t.Fatalf("Dict(AcroForm): %v", err)
	}
	if !bytes.Contains(acroFormDict, []byte("/SigFlags")) {
		t.Error("AcroForm missing /SigFlags")
	}

	fieldNum, ok := dictRefHelper(acroFormDict, "Fields")
	_ = fieldNum
	if !ok {
		// /Fields is an array, not a single ref; just confirm its presence.
		if !bytes.Contains(acroFormDict, []byte("/Fields")) {
			t.Error("AcroForm missing /Fields")
		}
	}

	if tsa.Requests() != 1 {
		t.Errorf("mock TSA served %d requests, want 1", tsa.Requests())
	}
}

// Scenario 2: a certificate whose KeyUsage permits neither digitalSignature
// nor contentCommitment routes silently through the DocTS fallback.
func TestSignFallsBackToDocTSWhenCannotSign(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeafWithUsage("PAdES Test Signer (key agreement only)", x509.KeyUsageKeyAgreement, nil)

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Mode != "docts-fallback" {
		t.Fatalf("Mode = %q, want docts-fallback", result.Mode)
	}

	doc, err := pdfdoc.Open(result.PDF)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		t.Fatalf("Dict(Root): %v", err)
	}
	acroFormNum, ok := dictRefHelper(rootDict, "AcroForm")
	if !ok {
		t.Fatal("fallback document should still carry /AcroForm")
	}
	acroFormDict, err := doc.Dict(acroFormNum)
	if err != nil {
		t.Fatalf("Dict(AcroForm): %v", err)
	}
	vNum, ok := dictRefHelper(acroFormDict, "Fields")
	_ = vNum
	if !ok && !bytes.Contains(acroFormDict, []byte("/Fields")) {
		t.Error("AcroForm missing /Fields after fallback")
	}
}

// EKU-only-TSA gating: a leaf whose EKU list is solely id-kp-timeStamping
// routes through the DocTS fallback even though KeyUsage itself allows
// signing.
func TestSignFallsBackToDocTSWhenEKUIsTimeStampingOnly(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeafWithUsage("PAdES Test Signer (timestamping EKU only)",
		x509.KeyUsageDigitalSignature, []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping})

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Mode != "docts-fallback" {
		t.Fatalf("Mode = %q, want docts-fallback", result.Mode)
	}
}

// Scenario 3: a PAdES-T signature followed by an appended DocTimeStamp
// produces two signature fields chained through successive trailers.
func TestSignWithAppendedDocumentTimeStamp(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
		DocumentTimestamp: &pades.DocumentTimestampOptions{
			Append:    true,
			FieldName: "DocTS",
		},
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Mode != "pades-t+docts" {
		t.Fatalf("Mode = %q, want pades-t+docts", result.Mode)
	}
	if tsa.Requests() != 2 {
		t.Errorf("mock TSA served %d requests, want 2 (signature timestamp + document timestamp)", tsa.Requests())
	}

	doc, err := pdfdoc.Open(result.PDF)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		t.Fatalf("Dict(Root): %v", err)
	}
	if !bytes.Contains(rootDict, []byte("/Perms")) {
		t.Error("final document should carry /Perms /DocTimeStamp from the appended DocTS")
	}
}

// Scenario 4: an ECDSA P-384 cert drives sha384 throughout.
func TestSignECDSAP384UsesSHA384(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P384})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer P384")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Mode != "pades-t" {
		t.Fatalf("Mode = %q, want pades-t", result.Mode)
	}
}

// Scenario 5: a TSA rejection fails the operation and leaves the input
// buffer untouched.
func TestSignTSARejectedLeavesInputUnchanged(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()
	tsa.Status = 2 // rejection

	pdf := testpki.MinimalPDF()
	original := append([]byte(nil), pdf...)

	_, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if !errors.Is(err, pades.ErrTSARejected) {
		t.Fatalf("err = %v, want ErrTSARejected", err)
	}
	if !bytes.Equal(pdf, original) {
		t.Error("input PDF buffer was mutated despite a failed operation")
	}
}

// Scenario 6: a placeholder smaller than the eventual CMS fails with
// ErrPlaceholderTooSmall.
func TestSignPlaceholderTooSmall(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	_, err := pades.Sign(context.Background(), pdf, key, leaf, nil, pades.Options{
		PlaceholderHexLen: 16, // far too small for an RSA-2048 CAdES-BES CMS
		TSA:               tsaOptions(tsa.URL()),
	})
	if !errors.Is(err, pades.ErrPlaceholderTooSmall) {
		t.Fatalf("err = %v, want ErrPlaceholderTooSmall", err)
	}
}

func TestAddDocumentTimeStampStandalone(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	pdf := testpki.MinimalPDF()
	result, err := pades.AddDocumentTimeStamp(context.Background(), pdf, pades.DocumentTimestampOptions{}, tsaOptions(tsa.URL()))
	if err != nil {
		t.Fatalf("AddDocumentTimeStamp: %v", err)
	}
	if result.Mode != "docts" {
		t.Fatalf("Mode = %q, want docts", result.Mode)
	}

	doc, err := pdfdoc.Open(result.PDF)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rootDict, err := doc.Dict(doc.RootNum())
	if err != nil {
		t.Fatalf("Dict(Root): %v", err)
	}
	if !bytes.Contains(rootDict, []byte("/Perms")) {
		t.Error("standalone document timestamp should set /Perms /DocTimeStamp")
	}
}

func TestSignRejectsMalformedPDF(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.RSA_2048})
	defer pki.Close()
	pki.StartCRLServer()
	key, leaf := pki.IssueLeaf("PAdES Test Signer")

	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	_, err := pades.Sign(context.Background(), []byte("not a pdf"), key, leaf, nil, pades.Options{
		TSA: tsaOptions(tsa.URL()),
	})
	if !errors.Is(err, pades.ErrPDFMalformed) {
		t.Fatalf("err = %v, want ErrPDFMalformed", err)
	}
}
