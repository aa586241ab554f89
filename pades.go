// Package pades drives the PAdES-T / DocTimeStamp signing pipeline: it
// connects the PDF incremental writer (internal/pdfdoc), the CAdES-BES CMS
// builder (internal/cms), and the RFC 3161 client (internal/tsp) the way
// the teacher's sign.go/document.go connect sign/pdfsignature.go,
// sign/pdfbyterange.go and its TSA client into one SignPDF/AddTimestamp
// entry point.
package pades

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"hash"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AybarsYldrm/PAdES/internal/appearance"
	"github.com/AybarsYldrm/PAdES/internal/certinfo"
	"github.com/AybarsYldrm/PAdES/internal/cms"
	"github.com/AybarsYldrm/PAdES/internal/oid"
	"github.com/AybarsYldrm/PAdES/internal/pdfdoc"
	"github.com/AybarsYldrm/PAdES/internal/tsp"
)

// Default placeholder capacities per spec §6: PAdES-T needs room for a
// certificate chain plus an embedded TSA token, a document timestamp only
// needs room for the bare token.
const (
	DefaultPAdESPlaceholderHexLen = 120000
	DefaultDocTSPlaceholderHexLen = 64000

	defaultDocTSFieldName = "DocTS"
	defaultSigFieldName   = "Sig1"
)

// Options configures a single Sign call.
type Options struct {
	FieldName         string
	PlaceholderHexLen int // 0 uses DefaultPAdESPlaceholderHexLen

	DocumentTimestamp *DocumentTimestampOptions
	VisibleSignature  *VisibleSignatureOptions

	TSA TSAOptions

	// Logger receives retry/fallback notices (placeholder-too-small is a
	// hard failure per spec §7, so this never retries — only the DocTS
	// fallback decision is logged). Defaults to log.Default().
	Logger *log.Logger
}

// DocumentTimestampOptions configures a (possibly standalone) DocTimeStamp.
type DocumentTimestampOptions struct {
	Append            bool // when set from Options.DocumentTimestamp, append after signing
	FieldName         string
	PlaceholderHexLen int // 0 uses DefaultDocTSPlaceholderHexLen
}

// VisibleSignatureOptions configures a visible widget appearance. StampImage
// is an opaque caller-supplied PNG buffer (the rasterizer is explicitly an
// external collaborator, per spec §1); this module only decodes it to wrap
// it into a Form XObject.
type VisibleSignatureOptions struct {
	Rect       [4]float64
	PageIndex  int
	StampImage []byte
	Reason     string
	PersonName string
}

// TSAOptions configures the RFC 3161 round trip. The zero value is not a
// fully-defaulted configuration for every field (HashName/NonceBytes/
// Timeout are auto-filled when left at their zero value, but CertReq and
// AllowMissingNonce are taken literally) — call DefaultTSAOptions() to start
// from the documented defaults and override only what you need.
type TSAOptions struct {
	URL     string
	Headers map[string]string

	HashName     string // "sha256"|"sha384"|"sha512"; "" derives from the signing key
	CertReq      bool
	ReqPolicyOID string // dotted OID string, "" omits reqPolicy
	NonceBytes   int    // 0 defaults to 8
	Timeout      time.Duration // 0 defaults to 30s

	AllowMissingNonce bool

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DefaultTSAOptions returns the spec-documented defaults (certReq=true,
// nonceBytes=8, allowMissingNonce=true, a 30s timeout) for a given TSA URL.
func DefaultTSAOptions(url string) TSAOptions {
	return TSAOptions{
		URL:               url,
		CertReq:           true,
		NonceBytes:        8,
		AllowMissingNonce: true,
		Timeout:           30 * time.Second,
	}
}

// Result is the outcome of a Sign or AddDocumentTimeStamp call.
type Result struct {
	PDF  []byte
	Mode string // "pades-t" | "pades-t+docts" | "docts-fallback" | "docts"
}

// Sign drives the PAdES-T flow: ensure the signature field, gate on the
// leaf's signing authority (falling back to a bare DocTimeStamp silently
// per spec §7 if it cannot sign), place the byte-range placeholder, build
// the CAdES-BES SignedData over its hash, fetch and embed an RFC 3161
// signature-time-stamp, splice the result into /Contents, and optionally
// append a further DocTimeStamp.
func Sign(ctx context.Context, pdf []byte, key crypto.Signer, leaf *x509.Certificate, chain []*x509.Certificate, opts Options) (*Result, error) {
	logger := opts.logger()
	fieldName := normalizeFieldName(opts.FieldName)
	hexLen := opts.PlaceholderHexLen
	if hexLen == 0 {
		hexLen = DefaultPAdESPlaceholderHexLen
	}

	doc, err := pdfdoc.Open(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFMalformed, err)
	}

	rect, pageIndex := widgetPlacement(opts.VisibleSignature)
	ensured, err := pdfdoc.EnsureAcroFormAndEmptySigField(doc, fieldName, rect, pageIndex)
	if err != nil {
		return nil, fmt.Errorf("pades: ensure signature field: %w", err)
	}
	working := ensured.PDF

	info, err := certinfo.FromCertificate(leaf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertInvalid, err)
	}

	if !info.CanSign {
		logger.Printf("pades: leaf certificate %q lacks signing authority (keyUsage/EKU); falling back to document timestamp on field %q", leaf.Subject.CommonName, fieldName)
		return addDocumentTimeStamp(ctx, working, DocumentTimestampOptions{FieldName: fieldName, PlaceholderHexLen: hexLen}, opts.TSA, logger, "docts-fallback")
	}

	if opts.VisibleSignature != nil {
		reopened, err := pdfdoc.Open(working)
		if err != nil {
			return nil, fmt.Errorf("%w: reopen after ensuring signature field: %v", ErrPDFMalformed, err)
		}
		working, err = appearance.Embed(reopened, ensured.WidgetObjNum, ensured.AppliedRect, appearance.Options{
			PNG:  opts.VisibleSignature.StampImage,
			Text: opts.VisibleSignature.PersonName,
		})
		if err != nil {
			return nil, fmt.Errorf("pades: embed visible appearance: %w", err)
		}
	}

	workingDoc, err := pdfdoc.Open(working)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen before placeholder: %v", ErrPDFMalformed, err)
	}

	recommendedDigest, err := info.RecommendedDigest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}

	ph, err := pdfdoc.PreparePlaceholder(workingDoc, pdfdoc.PlaceholderOptions{
		SubFilter:         "ETSI.CAdES.detached",
		PlaceholderHexLen: hexLen,
		FieldName:         fieldName,
		SignerName:        opts.VisibleSignature.personName(),
		Reason:            opts.VisibleSignature.reason(),
		Now:               time.Now(),
	})
	if err != nil {
		return nil, classifyFieldErr("prepare placeholder", err)
	}

	h, err := newHash(recommendedDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	tbsHash := ph.ComputeByteRangeHash(h)

	chainDER := make([][]byte, len(chain))
	for i, c := range chain {
		chainDER[i] = c.Raw
	}

	cmsResult, err := cms.Build(cms.SignRequest{
		Digest:   tbsHash,
		HashName: recommendedDigest,
		Leaf: cms.Leaf{
			DER:       leaf.Raw,
			IssuerRaw: leaf.RawIssuer,
			Serial:    leaf.SerialNumber,
		},
		ChainDER: chainDER,
		Signer:   key,
	})
	if err != nil {
		return nil, fmt.Errorf("pades: build CMS signed attributes: %w", err)
	}

	tsaOpts, err := normalizeTSAOptions(opts.TSA, recommendedDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}

	sigDigest, err := newHash(tsaOpts.hashName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	sigDigest.Write(cmsResult.Signature())
	token, err := tsp.Request(ctx, sigDigest.Sum(nil), tsaOpts.options)
	if err != nil {
		return nil, wrapTSAErr(err)
	}

	if err := cmsResult.AddSignatureTimeStamp(token.Raw); err != nil {
		return nil, fmt.Errorf("pades: attach signature-time-stamp: %w", err)
	}

	cmsDER, err := cmsResult.Encode()
	if err != nil {
		return nil, fmt.Errorf("pades: encode CMS SignedData: %w", err)
	}

	finalPDF, err := ph.InjectCMS(cmsDER)
	if err != nil {
		return nil, classifyInjectErr(err)
	}

	if opts.DocumentTimestamp != nil && opts.DocumentTimestamp.Append {
		return addDocumentTimeStamp(ctx, finalPDF, *opts.DocumentTimestamp, opts.TSA, logger, "pades-t+docts")
	}

	return &Result{PDF: finalPDF, Mode: "pades-t"}, nil
}

// AddDocumentTimeStamp appends a standalone DocTimeStamp (/SubFilter
// /ETSI.RFC3161, a bare TSA token as /Contents) covering the entire
// document's byte range.
func AddDocumentTimeStamp(ctx context.Context, pdf []byte, opts DocumentTimestampOptions, tsaOpts TSAOptions) (*Result, error) {
	return addDocumentTimeStamp(ctx, pdf, opts, tsaOpts, log.Default(), "docts")
}

func addDocumentTimeStamp(ctx context.Context, pdf []byte, opts DocumentTimestampOptions, tsaOpts TSAOptions, logger *log.Logger, mode string) (*Result, error) {
	fieldName := defaultDocTSFieldName
	if opts.FieldName != "" {
		fieldName = normalizeFieldName(opts.FieldName)
	}
	hexLen := opts.PlaceholderHexLen
	if hexLen == 0 {
		hexLen = DefaultDocTSPlaceholderHexLen
	}

	doc, err := pdfdoc.Open(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFMalformed, err)
	}

	ph, err := pdfdoc.PrepareDocumentTimeStampPlaceholder(doc, fieldName, hexLen)
	if err != nil {
		return nil, classifyFieldErr("prepare document-timestamp placeholder", err)
	}

	norm, err := normalizeTSAOptions(tsaOpts, "sha256")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}

	h, err := newHash(norm.hashName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	imprint := ph.ComputeByteRangeHash(h)

	token, err := tsp.Request(ctx, imprint, norm.options)
	if err != nil {
		return nil, wrapTSAErr(err)
	}

	finalPDF, err := ph.InjectCMS(token.Raw)
	if err != nil {
		return nil, classifyInjectErr(err)
	}

	if mode == "docts-fallback" {
		logger.Printf("pades: document-timestamp fallback completed on field %q", fieldName)
	}
	return &Result{PDF: finalPDF, Mode: mode}, nil
}

func classifyInjectErr(err error) error {
	if err == pdfdoc.ErrCMSTooLarge {
		return fmt.Errorf("%w: %v", ErrPlaceholderTooSmall, err)
	}
	return fmt.Errorf("pades: inject CMS: %w", err)
}

// normalizeFieldName strips a leading '/' and defaults to "Sig1", per the
// canonical behavior spec.md's design notes call out across the teacher's
// three divergent pades_manager.js variants.
func normalizeFieldName(name string) string {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return defaultSigFieldName
	}
	return name
}

func widgetPlacement(vis *VisibleSignatureOptions) (pdfdoc.Rect, int) {
	if vis == nil {
		return pdfdoc.Rect{}, -1
	}
	return pdfdoc.Rect{X0: vis.Rect[0], Y0: vis.Rect[1], X1: vis.Rect[2], Y1: vis.Rect[3]}, vis.PageIndex
}

func (vis *VisibleSignatureOptions) personName() string {
	if vis == nil {
		return ""
	}
	return vis.PersonName
}

func (vis *VisibleSignatureOptions) reason() string {
	if vis == nil {
		return ""
	}
	return vis.Reason
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// normalizedTSAOptions carries the resolved digest name alongside the
// internal/tsp options built from it.
type normalizedTSAOptions struct {
	hashName string
	options  tsp.Options
}

func normalizeTSAOptions(opts TSAOptions, defaultHashName string) (normalizedTSAOptions, error) {
	hashName := opts.HashName
	if hashName == "" {
		hashName = defaultHashName
	}
	hashOID, err := oid.DigestByName(hashName)
	if err != nil {
		return normalizedTSAOptions{}, err
	}

	nonceBytes := opts.NonceBytes
	if nonceBytes == 0 {
		nonceBytes = 8
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var reqPolicy asn1.ObjectIdentifier
	if opts.ReqPolicyOID != "" {
		reqPolicy, err = parseDottedOID(opts.ReqPolicyOID)
		if err != nil {
			return normalizedTSAOptions{}, err
		}
	}

	return normalizedTSAOptions{
		hashName: hashName,
		options: tsp.Options{
			URL:               opts.URL,
			Headers:           opts.Headers,
			HashOID:           hashOID,
			CertReq:           opts.CertReq,
			ReqPolicyOID:      reqPolicy,
			NonceBytes:        nonceBytes,
			AllowMissingNonce: opts.AllowMissingNonce,
			Timeout:           timeout,
			HTTPClient:        opts.HTTPClient,
		},
	}, nil
}

func parseDottedOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	out := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("pades: invalid OID component %q in %q", p, s)
		}
		out[i] = n
	}
	return out, nil
}

func newHash(name string) (hash.Hash, error) {
	switch name {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("pades: unsupported digest name %q", name)
}
