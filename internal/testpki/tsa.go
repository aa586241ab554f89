package testpki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AybarsYldrm/PAdES/internal/derx"
	"github.com/AybarsYldrm/PAdES/internal/oid"
)

// tsaPolicyOID is a throwaway timestamp policy OID, the way a real TSA
// advertises one per RFC 3161; this client never validates it, only echoes
// reqPolicy back when the request carried one.
var tsaPolicyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}

// MockTSA is an in-process RFC 3161 Time-Stamp Authority test double: it
// parses an incoming TimeStampReq, builds a TSTInfo that echoes imprint and
// nonce, signs it, and wraps it in a TimeStampResp — exactly the surface
// internal/tsp.Request expects from a real TSA, without any network
// dependency.
type MockTSA struct {
	Server *httptest.Server

	signer crypto.Signer
	cert   *x509.Certificate
	serial int64

	// Status forces the PKIStatusInfo.status this TSA returns; 0 (granted)
	// by default. Set to 2 (rejection) to exercise the TSARejected path.
	Status int
	// OmitNonce makes the response drop the nonce even when the request
	// carried one, to exercise MISSING_NONCE_ACCEPTED / the strict gate.
	OmitNonce bool
	// CorruptImprint flips a byte of the echoed hashedMessage, to exercise
	// TSAMismatch.
	CorruptImprint bool

	requests int64
}

// NewMockTSA starts a mock TSA backed by a freshly generated ECDSA P-256
// signer and a self-signed id-kp-timeStamping leaf certificate.
func NewMockTSA(t *testing.T) *MockTSA {
	key := GenerateKey(t, ECDSA_P256)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "PAdES Test TSA",
			Organization: []string{"PAdES Test Org"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		Fail(t, "mock TSA: create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		Fail(t, "mock TSA: parse certificate: %v", err)
	}

	m := &MockTSA{signer: key, cert: cert, serial: 1}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock TSA's endpoint.
func (m *MockTSA) URL() string { return m.Server.URL }

// Requests reports how many timestamp requests this TSA has served.
func (m *MockTSA) Requests() int64 { return atomic.LoadInt64(&m.requests) }

// Close stops the mock server.
func (m *MockTSA) Close() { m.Server.Close() }

func (m *MockTSA) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&m.requests, 1)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req, err := parseTimeStampReq(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("parse request: %v", err), http.StatusBadRequest)
		return
	}

	status := m.Status
	respDER, err := m.buildResponse(status, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("build response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/timestamp-reply")
	w.Write(respDER)
}

type tsaRequest struct {
	hashOID       asn1.ObjectIdentifier
	hashedMessage []byte
	reqPolicy     asn1.ObjectIdentifier
	nonce         *big.Int
	hasNonce      bool
}

func parseTimeStampReq(der []byte) (*tsaRequest, error) {
	req := &tsaRequest{}
	r := derx.NewReader(der)
	err := r.Sequence(func(b *derx.Reader) error {
		if _, err := b.SmallInteger(); err != nil { // version
			return err
		}
		if err := b.Sequence(func(mi *derx.Reader) error {
			if err := mi.Sequence(func(alg *derx.Reader) error {
				hashOID, err := alg.OID()
				if err != nil {
					return err
				}
				req.hashOID = hashOID
				if !alg.Empty() {
					return alg.SkipElement()
				}
				return nil
			}); err != nil {
				return err
			}
			hashed, err := mi.OctetString()
			if err != nil {
				return err
			}
			req.hashedMessage = hashed
			return nil
		}); err != nil {
			return fmt.Errorf("messageImprint: %w", err)
		}
		for !b.Empty() {
			tag, ok := b.PeekTag()
			if !ok {
				return fmt.Errorf("truncated TimeStampReq tail")
			}
			switch tag {
			case 0x06: // OBJECT IDENTIFIER reqPolicy
				oidVal, err := b.OID()
				if err != nil {
					return err
				}
				req.reqPolicy = oidVal
			case 0x02: // INTEGER nonce
				n, err := b.Integer()
				if err != nil {
					return err
				}
				req.nonce = n
				req.hasNonce = true
			default: // certReq BOOLEAN, extensions [0]
				if err := b.SkipElement(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// buildResponse assembles a TimeStampResp carrying a TSTInfo that echoes
// the request's imprint and nonce, wrapped in a minimal signed CMS
// SignedData whose eContent is the TSTInfo DER (encapsulated, unlike the
// detached form internal/cms builds for the PDF signature itself).
func (m *MockTSA) buildResponse(status int, req *tsaRequest) ([]byte, error) {
	imprint := append([]byte(nil), req.hashedMessage...)
	if m.CorruptImprint && len(imprint) > 0 {
		imprint[0] ^= 0xFF
	}

	policy := req.reqPolicy
	if len(policy) == 0 {
		policy = tsaPolicyOID
	}

	serial := big.NewInt(atomic.AddInt64(&m.serial, 1))

	tstInfo := derx.NewBuilder()
	tstInfo.Sequence(func(b *derx.Builder) {
		b.SmallInteger(1)
		b.OID(policy)
		b.Sequence(func(mi *derx.Builder) {
			mi.Sequence(func(alg *derx.Builder) {
				alg.OID(req.hashOID)
				alg.Null()
			})
			mi.OctetString(imprint)
		})
		b.Integer(serial)
		b.GeneralizedTime(time.Now().UTC())
		if req.hasNonce && !m.OmitNonce {
			b.Integer(req.nonce)
		}
	})
	tstInfoDER, err := tstInfo.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode TSTInfo: %w", err)
	}

	signedData, err := m.signEncapsulated(tstInfoDER)
	if err != nil {
		return nil, fmt.Errorf("sign TSTInfo: %w", err)
	}

	resp := derx.NewBuilder()
	resp.Sequence(func(b *derx.Builder) {
		b.Sequence(func(pki *derx.Builder) { // PKIStatusInfo
			pki.SmallInteger(status)
		})
		if status == 0 || status == 1 {
			b.Raw(signedData)
		}
	})
	return resp.Bytes()
}

// signEncapsulated builds ContentInfo(SignedData) with eContent = the
// given content DER (an encapsulated, not detached, CMS — distinct from
// internal/cms's detached PAdES signature, because RFC 3161's
// timeStampToken always carries TSTInfo inline).
func (m *MockTSA) signEncapsulated(content []byte) ([]byte, error) {
	h := sha256.Sum256(content)

	contentTypeAttr, err := buildAttr(oid.ContentType, func(b *derx.Builder) { b.OID(oid.TSTInfo) })
	if err != nil {
		return nil, err
	}
	messageDigestAttr, err := buildAttr(oid.MessageDigest, func(b *derx.Builder) { b.OctetString(h[:]) })
	if err != nil {
		return nil, err
	}
	signedAttrElems := [][]byte{contentTypeAttr, messageDigestAttr}

	signingForm := derx.NewBuilder()
	signingForm.SetOfSorted(signedAttrElems)
	signedAttrsDER, err := signingForm.Bytes()
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(signedAttrsDER)
	sig, err := m.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, err
	}

	sigAlgOID := oid.ECDSAWithSHA256
	if _, ok := m.signer.Public().(*rsa.PublicKey); ok {
		sigAlgOID = oid.RSAWithSHA256
	}

	signerInfo := derx.NewBuilder()
	signerInfo.Sequence(func(si *derx.Builder) {
		si.SmallInteger(1)
		si.Sequence(func(sid *derx.Builder) {
			sid.Raw(m.cert.RawIssuer)
			sid.Integer(m.cert.SerialNumber)
		})
		si.Sequence(func(alg *derx.Builder) {
			alg.OID(oid.SHA256)
			alg.Null()
		})
		si.ImplicitSetOfSorted(0, signedAttrElems)
		si.Sequence(func(alg *derx.Builder) {
			alg.OID(sigAlgOID)
			if sigAlgOID.Equal(oid.RSAWithSHA256) {
				alg.Null()
			}
		})
		si.OctetString(sig)
	})
	signerInfoDER, err := signerInfo.Bytes()
	if err != nil {
		return nil, err
	}

	ci := derx.NewBuilder()
	ci.Sequence(func(b *derx.Builder) { // ContentInfo
		b.OID(oid.SignedData)
		b.ExplicitTag(0, func(sdOuter *derx.Builder) {
			sdOuter.Sequence(func(sd *derx.Builder) { // SignedData
				sd.SmallInteger(3) // version 3: encapsulated eContent present
				sd.Set(func(digAlgs *derx.Builder) {
					digAlgs.Sequence(func(alg *derx.Builder) {
						alg.OID(oid.SHA256)
						alg.Null()
					})
				})
				sd.Sequence(func(eci *derx.Builder) { // encapContentInfo
					eci.OID(oid.TSTInfo)
					eci.ExplicitTag(0, func(oct *derx.Builder) {
						oct.OctetString(content)
					})
				})
				sd.ImplicitRawSetOf(0, [][]byte{m.cert.Raw})
				sd.Set(func(signerInfos *derx.Builder) {
					signerInfos.Raw(signerInfoDER)
				})
			})
		})
	})
	return ci.Bytes()
}

func buildAttr(attrType asn1.ObjectIdentifier, valueFn func(*derx.Builder)) ([]byte, error) {
	w := derx.NewBuilder()
	w.Sequence(func(b *derx.Builder) {
		b.OID(attrType)
		b.Set(func(s *derx.Builder) { valueFn(s) })
	})
	return w.Bytes()
}
