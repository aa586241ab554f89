// Package cms builds a CAdES-BES (ETSI EN 319 122) detached CMS SignedData
// structure: the signed-attribute set (contentType, messageDigest,
// signingCertificateV2), the SignerInfo wrapping them, and the enclosing
// SignedData/ContentInfo. It also knows how to append the unsigned
// signature-time-stamp attribute once an RFC 3161 token is available.
//
// The structural model is the vendored digitorus/pkcs7 SignedData/
// SignerInfo/attribute/issuerAndSerial definitions, and the
// createSigningCertificateAttribute helper in the teacher's
// sign/pdfsignature.go for the ESSCertIDv2 shape — but built on
// internal/derx instead of encoding/asn1 struct tags or the pkcs7 package,
// since constructing this structure from scratch is this module's own job.
package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"math/big"

	"github.com/AybarsYldrm/PAdES/internal/derx"
	"github.com/AybarsYldrm/PAdES/internal/oid"
)

// Leaf describes the signer certificate fields needed to build
// signingCertificateV2 and the SignerInfo's sid.
type Leaf struct {
	DER       []byte
	IssuerRaw []byte // cert.RawIssuer
	Serial    *big.Int
}

// SignRequest carries everything needed to build a CAdES-BES SignedData.
type SignRequest struct {
	Digest   []byte // pre-image digest, becomes messageDigest
	HashName string // "sha256" | "sha384" | "sha512"

	Leaf     Leaf
	ChainDER [][]byte // issuer-first, does not include the leaf

	Signer crypto.Signer
}

// Result is a built CMS SignedData, kept in a form that still allows an
// unsigned signature-time-stamp attribute to be appended before final
// encoding.
type Result struct {
	digestAlgorithm    asn1.ObjectIdentifier
	signatureAlgorithm asn1.ObjectIdentifier
	sidIssuerRaw       []byte
	sidSerial          *big.Int
	signedAttrElems    [][]byte
	signature          []byte
	unsignedAttrElems  [][]byte
	certificates       [][]byte
}

func hashFuncForName(name string) (crypto.Hash, hash.Hash, error) {
	switch name {
	case "sha256":
		return crypto.SHA256, sha256.New(), nil
	case "sha384":
		return crypto.SHA384, sha512.New384(), nil
	case "sha512":
		return crypto.SHA512, sha512.New(), nil
	}
	return 0, nil, fmt.Errorf("cms: unsupported digest name %q", name)
}

func buildAttribute(attrType asn1.ObjectIdentifier, valueDER []byte) ([]byte, error) {
	w := derx.NewBuilder()
	w.Sequence(func(b *derx.Builder) {
		b.OID(attrType)
		b.Set(func(s *derx.Builder) { s.Raw(valueDER) })
	})
	return w.Bytes()
}

// buildSigningCertificateV2 encodes the SigningCertificateV2 attribute
// value: a single ESSCertIDv2 whose hashAlgorithm is omitted when the
// caller's digest is sha256 (the DEFAULT per RFC 5035) and emitted
// explicitly otherwise, certHash = H(leaf DER), issuerSerial =
// GeneralNames(directoryName(leaf issuer)) + leaf serial.
func buildSigningCertificateV2(hashName string, digestOID asn1.ObjectIdentifier, leaf Leaf) ([]byte, error) {
	_, h, err := hashFuncForName(hashName)
	if err != nil {
		return nil, err
	}
	h.Write(leaf.DER)
	certHash := h.Sum(nil)

	w := derx.NewBuilder()
	w.Sequence(func(outer *derx.Builder) { // SigningCertificateV2
		outer.Sequence(func(certs *derx.Builder) { // certs SEQUENCE OF ESSCertIDv2
			certs.Sequence(func(essCertID *derx.Builder) { // ESSCertIDv2
				if hashName != "sha256" {
					essCertID.Sequence(func(alg *derx.Builder) {
						alg.OID(digestOID)
						alg.Null()
					})
				}
				essCertID.OctetString(certHash)
				essCertID.Sequence(func(issuerSerial *derx.Builder) { // IssuerSerial
					issuerSerial.Sequence(func(generalNames *derx.Builder) { // GeneralNames
						generalNames.ExplicitTag(4, func(dirName *derx.Builder) { // directoryName [4]
							dirName.Raw(leaf.IssuerRaw)
						})
					})
					issuerSerial.Integer(leaf.Serial)
				})
			})
		})
	})
	return w.Bytes()
}

// Build constructs a CAdES-BES SignedData (without certificates, which are
// attached by AttachCertificates, and without any unsigned attributes).
func Build(req SignRequest) (*Result, error) {
	digestOID, err := oid.DigestByName(req.HashName)
	if err != nil {
		return nil, fmt.Errorf("cms: %w", err)
	}

	contentTypeAttr, err := buildAttribute(oid.ContentType, mustEncodeOID(oid.Data))
	if err != nil {
		return nil, fmt.Errorf("cms: contentType attribute: %w", err)
	}
	messageDigestAttr, err := buildAttribute(oid.MessageDigest, mustEncodeOctetString(req.Digest))
	if err != nil {
		return nil, fmt.Errorf("cms: messageDigest attribute: %w", err)
	}
	signingCertV2Value, err := buildSigningCertificateV2(req.HashName, digestOID, req.Leaf)
	if err != nil {
		return nil, fmt.Errorf("cms: signingCertificateV2 value: %w", err)
	}
	signingCertV2Attr, err := buildAttribute(oid.SigningCertificateV2, signingCertV2Value)
	if err != nil {
		return nil, fmt.Errorf("cms: signingCertificateV2 attribute: %w", err)
	}

	elems := [][]byte{contentTypeAttr, messageDigestAttr, signingCertV2Attr}

	signingForm := derx.NewBuilder()
	signingForm.SetOfSorted(elems)
	signedAttrsForSigning, err := signingForm.Bytes()
	if err != nil {
		return nil, fmt.Errorf("cms: encode signedAttrs signing form: %w", err)
	}

	sigAlgOID, signature, err := signAttributes(req.Signer, req.HashName, signedAttrsForSigning)
	if err != nil {
		return nil, fmt.Errorf("cms: sign signedAttrs: %w", err)
	}

	leafCert, err := parseIssuerSerial(req.Leaf)
	if err != nil {
		return nil, err
	}

	return &Result{
		digestAlgorithm:    digestOID,
		signatureAlgorithm: sigAlgOID,
		sidIssuerRaw:       leafCert.IssuerRaw,
		sidSerial:          leafCert.Serial,
		signedAttrElems:    elems,
		signature:          signature,
		certificates:       append([][]byte{req.Leaf.DER}, req.ChainDER...),
	}, nil
}

func parseIssuerSerial(leaf Leaf) (Leaf, error) {
	if len(leaf.IssuerRaw) == 0 {
		return Leaf{}, fmt.Errorf("cms: leaf IssuerRaw is empty")
	}
	if leaf.Serial == nil {
		return Leaf{}, fmt.Errorf("cms: leaf Serial is nil")
	}
	return leaf, nil
}

// signAttributes hashes signedAttrsDER with the caller's digest and signs
// the digest with the crypto.Signer, returning the OID of the matching
// RSA/ECDSA signature algorithm alongside the raw signature bytes (PKCS#1
// v1.5 for RSA, DER (r,s) for ECDSA — exactly what crypto.Signer.Sign
// already returns for those key types).
func signAttributes(signer crypto.Signer, hashName string, signedAttrsDER []byte) (asn1.ObjectIdentifier, []byte, error) {
	cryptoHash, h, err := hashFuncForName(hashName)
	if err != nil {
		return nil, nil, err
	}
	h.Write(signedAttrsDER)
	digest := h.Sum(nil)

	sig, err := signer.Sign(rand.Reader, digest, cryptoHash)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: %w", err)
	}

	switch signer.Public().(type) {
	case *rsa.PublicKey:
		sigOID, err := oid.RSASignatureByDigest(hashName)
		return sigOID, sig, err
	case *ecdsa.PublicKey:
		sigOID, err := oid.ECDSASignatureByDigest(hashName)
		return sigOID, sig, err
	default:
		return nil, nil, fmt.Errorf("unsupported signer public key type %T", signer.Public())
	}
}

// Signature returns the raw signatureValue bytes (PKCS#1 v1.5 for RSA, DER
// (r,s) for ECDSA) computed over the signedAttrs — the value a
// signature-time-stamp attribute must be timestamped over.
func (r *Result) Signature() []byte {
	return r.signature
}

// AddSignatureTimeStamp appends the unsigned signature-time-stamp attribute
// (id-aa-signatureTimeStampToken, value SET{ TimeStampToken }) carrying the
// given RFC 3161 token DER.
func (r *Result) AddSignatureTimeStamp(tsaTokenDER []byte) error {
	attr, err := buildAttribute(oid.SignatureTimeStampToken, tsaTokenDER)
	if err != nil {
		return fmt.Errorf("cms: signature-time-stamp attribute: %w", err)
	}
	r.unsignedAttrElems = append(r.unsignedAttrElems, attr)
	return nil
}

// Encode produces the final ContentInfo(SignedData) DER.
func (r *Result) Encode() ([]byte, error) {
	signerInfoDER, err := r.encodeSignerInfo()
	if err != nil {
		return nil, fmt.Errorf("cms: encode SignerInfo: %w", err)
	}

	w := derx.NewBuilder()
	w.Sequence(func(ci *derx.Builder) { // ContentInfo
		ci.OID(oid.SignedData)
		ci.ExplicitTag(0, func(content *derx.Builder) {
			content.Sequence(func(sd *derx.Builder) { // SignedData
				sd.SmallInteger(1) // version
				sd.Set(func(digAlgs *derx.Builder) {
					digAlgs.Sequence(func(alg *derx.Builder) {
						alg.OID(r.digestAlgorithm)
						alg.Null()
					})
				})
				sd.Sequence(func(eci *derx.Builder) { // encapContentInfo, eContent omitted
					eci.OID(oid.Data)
				})
				sd.ImplicitRawSetOf(0, r.certificates) // certificates [0] IMPLICIT
				sd.Set(func(signerInfos *derx.Builder) {
					signerInfos.Raw(signerInfoDER)
				})
			})
		})
	})
	der, err := w.Bytes()
	if err != nil {
		return nil, fmt.Errorf("cms: encode SignedData: %w", err)
	}
	return der, nil
}

func (r *Result) encodeSignerInfo() ([]byte, error) {
	w := derx.NewBuilder()
	w.Sequence(func(si *derx.Builder) {
		si.SmallInteger(1) // version
		si.Sequence(func(sid *derx.Builder) { // IssuerAndSerialNumber
			sid.Raw(r.sidIssuerRaw)
			sid.Integer(r.sidSerial)
		})
		si.Sequence(func(alg *derx.Builder) { // digestAlgorithm
			alg.OID(r.digestAlgorithm)
			alg.Null()
		})
		si.ImplicitSetOfSorted(0, r.signedAttrElems) // signedAttrs [0] IMPLICIT
		si.Sequence(func(alg *derx.Builder) {        // signatureAlgorithm
			alg.OID(r.signatureAlgorithm)
			if isRSAOID(r.signatureAlgorithm) {
				alg.Null()
			}
		})
		si.OctetString(r.signature)
		if len(r.unsignedAttrElems) > 0 {
			si.ImplicitSetOfSorted(1, r.unsignedAttrElems) // unsignedAttrs [1] IMPLICIT
		}
	})
	return w.Bytes()
}

func isRSAOID(id asn1.ObjectIdentifier) bool {
	return id.Equal(oid.RSAWithSHA256) || id.Equal(oid.RSAWithSHA384) || id.Equal(oid.RSAWithSHA512)
}

func mustEncodeOID(id asn1.ObjectIdentifier) []byte {
	w := derx.NewBuilder()
	w.OID(id)
	b, _ := w.Bytes()
	return b
}

func mustEncodeOctetString(v []byte) []byte {
	w := derx.NewBuilder()
	w.OctetString(v)
	b, _ := w.Bytes()
	return b
}
