// Package oid holds the canonical object identifiers and algorithm lookup
// tables used throughout the CMS, TSP and X.509 codepaths. Everything here
// is a static table: no parsing, no I/O.
package oid

import (
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"
)

// CMS / PKCS#7 content and attribute types.
var (
	Data               = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	SignedData         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	TSTInfo            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	ContentType        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	MessageDigest      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	SigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	SignatureTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// Digest algorithm OIDs.
var (
	SHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	SHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	SHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// RSA signature (digest-with-RSA) OIDs.
var (
	RSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	RSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	RSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
)

// ECDSA signature OIDs.
var (
	ECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	ECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	ECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// Public key algorithm and named curve OIDs.
var (
	RSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	ECPublicKey   = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

	CurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	CurveP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	CurveP521 = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
)

// ExtKeyUsageTimeStamping is the id-kp-timeStamping EKU OID.
var ExtKeyUsageTimeStamping = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}

// DigestByName returns the digest algorithm OID for "sha256"|"sha384"|"sha512".
func DigestByName(name string) (asn1.ObjectIdentifier, error) {
	switch name {
	case "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	}
	return nil, fmt.Errorf("oid: unknown digest name %q", name)
}

// RSASignatureByDigest returns the rsaWithSha* OID matching a digest name.
func RSASignatureByDigest(digestName string) (asn1.ObjectIdentifier, error) {
	switch digestName {
	case "sha256":
		return RSAWithSHA256, nil
	case "sha384":
		return RSAWithSHA384, nil
	case "sha512":
		return RSAWithSHA512, nil
	}
	return nil, fmt.Errorf("oid: no RSA signature OID for digest %q", digestName)
}

// ECDSASignatureByDigest returns the ecdsa-with-SHA* OID matching a digest name.
func ECDSASignatureByDigest(digestName string) (asn1.ObjectIdentifier, error) {
	switch digestName {
	case "sha256":
		return ECDSAWithSHA256, nil
	case "sha384":
		return ECDSAWithSHA384, nil
	case "sha512":
		return ECDSAWithSHA512, nil
	}
	return nil, fmt.Errorf("oid: no ECDSA signature OID for digest %q", digestName)
}

// RecommendedDigestForCurve implements the curve->hash defaulting rule:
// P-256 -> sha256, P-384 -> sha384, P-521 -> sha512.
func RecommendedDigestForCurve(curve elliptic.Curve) (string, error) {
	switch curve {
	case elliptic.P256():
		return "sha256", nil
	case elliptic.P384():
		return "sha384", nil
	case elliptic.P521():
		return "sha512", nil
	}
	return "", fmt.Errorf("oid: unsupported curve %s", curve.Params().Name)
}

// CurveOID returns the named-curve OID for a curve, used in SubjectPublicKeyInfo
// inspection and reported to callers for diagnostics.
func CurveOID(curve elliptic.Curve) (asn1.ObjectIdentifier, error) {
	switch curve {
	case elliptic.P256():
		return CurveP256, nil
	case elliptic.P384():
		return CurveP384, nil
	case elliptic.P521():
		return CurveP521, nil
	}
	return nil, fmt.Errorf("oid: unsupported curve %s", curve.Params().Name)
}
