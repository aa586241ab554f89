// Package certinfo extracts the handful of X.509 fields the signing
// pipeline needs — issuer DN, serial number, subject public key algorithm
// and curve, a best-effort common name, and key usage / extended key usage —
// and decides whether a leaf certificate is fit to sign with.
//
// The extraction itself is a thin pass over crypto/x509.Certificate; the
// canSign decision is adapted from the teacher's key-usage gate in
// verify/keyusage.go, narrowed to the single rule this system needs instead
// of that package's full RequiredEKUs/AllowedEKUs verification matrix (cert
// chain and revocation verification are out of scope here).
package certinfo

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/AybarsYldrm/PAdES/internal/oid"
)

// keyUsageExtOID is the X.509 KeyUsage extension's own OID (RFC 5280
// §4.2.1.3), used to tell "extension present with every bit cleared" apart
// from "extension absent" — crypto/x509.Certificate.KeyUsage collapses both
// to the zero value.
var keyUsageExtOID = asn1.ObjectIdentifier{2, 5, 29, 15}

// hasKeyUsageExtension reports whether cert carries a KeyUsage extension at
// all, regardless of which bits (if any) it sets.
func hasKeyUsageExtension(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(keyUsageExtOID) {
			return true
		}
	}
	return false
}

// PublicKeyAlgorithm identifies the leaf's key type.
type PublicKeyAlgorithm int

const (
	UnknownAlgorithm PublicKeyAlgorithm = iota
	RSA
	ECDSA
)

// Info is the set of fields pulled from a leaf certificate.
type Info struct {
	Issuer       pkix.Name
	SerialNumber *big.Int
	SubjectCN    string

	Algorithm PublicKeyAlgorithm
	Curve     elliptic.Curve // set only when Algorithm == ECDSA

	KeyUsage    x509.KeyUsage
	ExtKeyUsage []x509.ExtKeyUsage

	CanSign bool
}

// Extract parses a DER-encoded leaf certificate and pulls the fields the
// signing pipeline needs.
func Extract(leafDER []byte) (*Info, error) {
	cert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("certinfo: parse leaf certificate: %w", err)
	}
	return FromCertificate(cert)
}

// FromCertificate builds an Info from an already-parsed certificate.
func FromCertificate(cert *x509.Certificate) (*Info, error) {
	info := &Info{
		Issuer:       cert.Issuer,
		SerialNumber: cert.SerialNumber,
		SubjectCN:    cert.Subject.CommonName,
		KeyUsage:     cert.KeyUsage,
		ExtKeyUsage:  cert.ExtKeyUsage,
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.Algorithm = RSA
	case *ecdsa.PublicKey:
		info.Algorithm = ECDSA
		info.Curve = pub.Curve
		if _, err := oid.CurveOID(pub.Curve); err != nil {
			return nil, fmt.Errorf("certinfo: %w", err)
		}
	default:
		return nil, fmt.Errorf("certinfo: unsupported public key algorithm %T", cert.PublicKey)
	}

	info.CanSign = canSign(info.KeyUsage, info.ExtKeyUsage, hasKeyUsageExtension(cert))
	return info, nil
}

// RecommendedDigest returns the default digest name for the leaf's key:
// the curve-driven default for ECDSA, or "sha256" for RSA (the teacher's
// and the pack's common RSA default, since RSA carries no curve to derive
// one from).
func (i *Info) RecommendedDigest() (string, error) {
	switch i.Algorithm {
	case ECDSA:
		return oid.RecommendedDigestForCurve(i.Curve)
	case RSA:
		return "sha256", nil
	default:
		return "", fmt.Errorf("certinfo: unknown public key algorithm")
	}
}

// canSign implements the gate described in the signing pipeline: a
// certificate can sign unless KeyUsage is present and has neither
// digitalSignature nor contentCommitment set, or ExtKeyUsage is present and
// consists solely of id-kp-timeStamping.
func canSign(ku x509.KeyUsage, eku []x509.ExtKeyUsage, keyUsagePresent bool) bool {
	if keyUsagePresent {
		if ku&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
			return false
		}
	}
	if len(eku) > 0 {
		onlyTimestamping := true
		for _, u := range eku {
			if u != x509.ExtKeyUsageTimeStamping {
				onlyTimestamping = false
				break
			}
		}
		if onlyTimestamping {
			return false
		}
	}
	return true
}

// HasTimeStamping reports whether the certificate carries the
// id-kp-timeStamping EKU, used by the TSA-side leaf check when a caller
// supplies one (TSA responder certificates are required to carry it and
// nothing else per RFC 3161).
func (i *Info) HasTimeStamping() bool {
	for _, u := range i.ExtKeyUsage {
		if u == x509.ExtKeyUsageTimeStamping {
			return true
		}
	}
	return false
}
