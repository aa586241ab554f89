package tsp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AybarsYldrm/PAdES/internal/oid"
	"github.com/AybarsYldrm/PAdES/internal/testpki"
	"github.com/AybarsYldrm/PAdES/internal/tsp"
)

func baseOptions(url string) tsp.Options {
	return tsp.Options{
		URL:               url,
		HashOID:           oid.SHA256,
		CertReq:           true,
		NonceBytes:        8,
		AllowMissingNonce: true,
		Timeout:           5 * time.Second,
	}
}

func TestRequestGrantedToken(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	imprint := make([]byte, 32)
	for i := range imprint {
		imprint[i] = byte(i)
	}

	token, err := tsp.Request(context.Background(), imprint, baseOptions(tsa.URL()))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !token.HashAlgorithm.Equal(oid.SHA256) {
		t.Errorf("HashAlgorithm = %v, want sha256", token.HashAlgorithm)
	}
	if token.GenTime.IsZero() {
		t.Error("GenTime should be set")
	}
	if !token.HasNonce {
		t.Error("token should carry the echoed nonce")
	}
	if len(token.Raw) == 0 {
		t.Error("Raw token bytes should be non-empty")
	}
	if tsa.Requests() != 1 {
		t.Errorf("mock TSA served %d requests, want 1", tsa.Requests())
	}
}

func TestRequestRejectedStatus(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()
	tsa.Status = 2 // rejection

	imprint := make([]byte, 32)
	_, err := tsp.Request(context.Background(), imprint, baseOptions(tsa.URL()))
	if !errors.Is(err, tsp.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestRequestNonceMismatchWhenOmitted(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()
	tsa.OmitNonce = true

	imprint := make([]byte, 32)
	opts := baseOptions(tsa.URL())
	opts.AllowMissingNonce = false
	_, err := tsp.Request(context.Background(), imprint, opts)
	if !errors.Is(err, tsp.ErrNonceMismatch) {
		t.Fatalf("err = %v, want ErrNonceMismatch", err)
	}
}

func TestRequestAllowsMissingNonceWhenConfigured(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()
	tsa.OmitNonce = true

	imprint := make([]byte, 32)
	opts := baseOptions(tsa.URL())
	opts.AllowMissingNonce = true
	token, err := tsp.Request(context.Background(), imprint, opts)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if token.HasNonce {
		t.Error("token should not carry a nonce when the TSA omitted it")
	}
}

func TestRequestImprintMismatch(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()
	tsa.CorruptImprint = true

	imprint := make([]byte, 32)
	_, err := tsp.Request(context.Background(), imprint, baseOptions(tsa.URL()))
	if !errors.Is(err, tsp.ErrImprintMismatch) {
		t.Fatalf("err = %v, want ErrImprintMismatch", err)
	}
}

func TestBuildRequestRequiresHashOID(t *testing.T) {
	_, _, err := tsp.BuildRequest([]byte("x"), tsp.Options{})
	if err == nil {
		t.Error("BuildRequest with no HashOID should fail")
	}
}

func TestRequestReqPolicyEchoed(t *testing.T) {
	tsa := testpki.NewMockTSA(t)
	defer tsa.Close()

	imprint := make([]byte, 32)
	opts := baseOptions(tsa.URL())
	opts.ReqPolicyOID = []int{1, 2, 3, 4, 5}

	token, err := tsp.Request(context.Background(), imprint, opts)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !token.Policy.Equal(opts.ReqPolicyOID) {
		t.Errorf("Policy = %v, want %v", token.Policy, opts.ReqPolicyOID)
	}
}
