// Package tsp implements the client side of the RFC 3161 Time-Stamp
// Protocol: building a TimeStampReq, POSTing it to a TSA, and validating the
// TimeStampResp down to the embedded TSTInfo.
//
// The wire structures mirror the vendored digitorus/timestamp package (see
// its request/response/tstInfo ASN.1 definitions), but instead of depending
// on that package or on encoding/asn1 struct tags this codec is built
// directly on internal/derx, the same way the rest of this module's ASN.1
// surface is.
package tsp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/AybarsYldrm/PAdES/internal/derx"
)

// Sentinel errors, wrapped with context via fmt.Errorf("%w: ...").
var (
	ErrTransport        = errors.New("tsp: transport error")
	ErrRejected          = errors.New("tsp: TSA rejected the request")
	ErrResponseMalformed = errors.New("tsp: malformed TimeStampResp")
	ErrImprintMismatch   = errors.New("tsp: messageImprint mismatch")
	ErrNonceMismatch     = errors.New("tsp: nonce mismatch")
)

const (
	contentTypeRequest = "application/timestamp-query"
	contentTypeReply   = "application/timestamp-reply"
	maxRedirects       = 5
)

// Options configures a single timestamp request.
type Options struct {
	URL     string
	Headers map[string]string

	HashOID      asn1.ObjectIdentifier
	CertReq      bool
	ReqPolicyOID asn1.ObjectIdentifier // nil omits reqPolicy
	NonceBytes   int                   // 0 disables the nonce

	AllowMissingNonce bool
	Timeout           time.Duration

	HTTPClient *http.Client // optional override, mainly for tests
}

// Token is a parsed TimeStampToken: the raw ContentInfo(SignedData) bytes
// for embedding, plus the TSTInfo fields needed for validation.
type Token struct {
	Raw []byte

	Version       int
	Policy        asn1.ObjectIdentifier
	HashAlgorithm asn1.ObjectIdentifier
	HashedMessage []byte
	SerialNumber  *big.Int
	GenTime       time.Time
	HasNonce      bool
	Nonce         *big.Int
}

// Request builds and sends a TimeStampReq for the given message imprint,
// validates the TimeStampResp, and returns the embedded token.
func Request(ctx context.Context, imprint []byte, opts Options) (*Token, error) {
	reqDER, nonce, err := BuildRequest(imprint, opts)
	if err != nil {
		return nil, err
	}

	respDER, err := post(ctx, opts, reqDER)
	if err != nil {
		return nil, err
	}

	token, err := parseResponse(respDER)
	if err != nil {
		return nil, err
	}

	if !token.HashAlgorithm.Equal(opts.HashOID) {
		return nil, fmt.Errorf("%w: response hash algorithm %v, expected %v", ErrImprintMismatch, token.HashAlgorithm, opts.HashOID)
	}
	if !bytes.Equal(token.HashedMessage, imprint) {
		return nil, fmt.Errorf("%w: response hashedMessage does not match request imprint", ErrImprintMismatch)
	}

	if nonce != nil {
		if !token.HasNonce {
			return nil, fmt.Errorf("%w: request carried a nonce, response omitted it", ErrNonceMismatch)
		}
		if token.Nonce.Cmp(nonce) != 0 {
			return nil, fmt.Errorf("%w: response nonce does not match request nonce", ErrNonceMismatch)
		}
	} else if !token.HasNonce && !opts.AllowMissingNonce {
		return nil, fmt.Errorf("%w: response omitted nonce and AllowMissingNonce is false", ErrNonceMismatch)
	}

	return token, nil
}

// BuildRequest encodes a TimeStampReq for the given imprint and returns the
// DER bytes plus the nonce actually used (nil if NonceBytes is 0).
func BuildRequest(imprint []byte, opts Options) ([]byte, *big.Int, error) {
	if len(opts.HashOID) == 0 {
		return nil, nil, fmt.Errorf("tsp: HashOID is required")
	}

	var nonce *big.Int
	if opts.NonceBytes > 0 {
		buf := make([]byte, opts.NonceBytes)
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return nil, nil, fmt.Errorf("tsp: generate nonce: %w", err)
		}
		nonce = new(big.Int).SetBytes(buf)
	}

	w := derx.NewBuilder()
	w.Sequence(func(b *derx.Builder) {
		b.SmallInteger(1) // version

		b.Sequence(func(mi *derx.Builder) { // messageImprint
			mi.Sequence(func(alg *derx.Builder) { // AlgorithmIdentifier
				alg.OID(opts.HashOID)
				alg.Null()
			})
			mi.OctetString(imprint)
		})

		if len(opts.ReqPolicyOID) > 0 {
			b.OID(opts.ReqPolicyOID)
		}
		if nonce != nil {
			b.Integer(nonce)
		}
		b.Boolean(opts.CertReq)
		// extensions [0] IMPLICIT omitted: this client never sets them.
	})

	der, err := w.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("tsp: encode TimeStampReq: %w", err)
	}
	return der, nonce, nil
}

func post(ctx context.Context, opts Options, body []byte) ([]byte, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("tsp: stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}

	url := opts.URL
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		req.Header.Set("Content-Type", contentTypeRequest)
		req.Header.Set("Accept", contentTypeReply)
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read response body: %v", ErrTransport, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: TSA returned HTTP %d", ErrTransport, resp.StatusCode)
		}
		return respBody, nil
	}
}

// parseResponse decodes a TimeStampResp and extracts its TSTInfo.
func parseResponse(der []byte) (*Token, error) {
	r := derx.NewReader(der)
	var status int
	var statusStrings []string
	var tokenRaw []byte

	err := r.Sequence(func(resp *derx.Reader) error {
		if err := resp.Sequence(func(pki *derx.Reader) error {
			var err error
			status, err = pki.SmallInteger()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			for !pki.Empty() {
				tag, ok := pki.PeekTag()
				if !ok {
					return fmt.Errorf("truncated PKIStatusInfo")
				}
				switch {
				case tag == 0x30: // SEQUENCE (PKIFreeText = SEQUENCE OF UTF8String)
					if err := pki.Sequence(func(freeText *derx.Reader) error {
						for !freeText.Empty() {
							s, err := freeText.UTF8String()
							if err != nil {
								return err
							}
							statusStrings = append(statusStrings, s)
						}
						return nil
					}); err != nil {
						return err
					}
				default: // BIT STRING failInfo, or anything else: skip opaquely
					if err := pki.SkipElement(); err != nil {
						return err
					}
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("PKIStatusInfo: %w", err)
		}

		if resp.Empty() {
			return nil
		}
		raw, err := resp.RawElement()
		if err != nil {
			return fmt.Errorf("timeStampToken: %w", err)
		}
		tokenRaw = raw
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseMalformed, err)
	}

	if status != 0 && status != 1 {
		return nil, fmt.Errorf("%w: status=%d statusString=%q", ErrRejected, status, statusStrings)
	}
	if tokenRaw == nil {
		return nil, fmt.Errorf("%w: granted response carried no timeStampToken", ErrResponseMalformed)
	}

	eContent, err := extractEContent(tokenRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseMalformed, err)
	}

	token, err := parseTSTInfo(eContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseMalformed, err)
	}
	token.Raw = tokenRaw
	return token, nil
}

// extractEContent walks ContentInfo(SignedData) down to
// encapContentInfo.eContent, without interpreting certificates or
// signerInfos (that belongs to internal/cms's verification surface, which
// this client does not need: it trusts the TSA/transport, per the
// Non-goals).
func extractEContent(contentInfoDER []byte) ([]byte, error) {
	r := derx.NewReader(contentInfoDER)
	var eContent []byte

	err := r.Sequence(func(ci *derx.Reader) error {
		if _, err := ci.OID(); err != nil { // contentType
			return fmt.Errorf("ContentInfo.contentType: %w", err)
		}
		ok, err := ci.ExplicitTag(0, func(content *derx.Reader) error {
			return content.Sequence(func(sd *derx.Reader) error {
				if _, err := sd.SmallInteger(); err != nil { // version
					return fmt.Errorf("SignedData.version: %w", err)
				}
				if err := sd.Set(func(digAlgs *derx.Reader) error {
					for !digAlgs.Empty() {
						if err := digAlgs.SkipElement(); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
					return fmt.Errorf("SignedData.digestAlgorithms: %w", err)
				}
				return sd.Sequence(func(eci *derx.Reader) error {
					if _, err := eci.OID(); err != nil { // eContentType
						return fmt.Errorf("encapContentInfo.eContentType: %w", err)
					}
					_, err := eci.ExplicitTag(0, func(oct *derx.Reader) error {
						v, err := oct.OctetString()
						if err != nil {
							return err
						}
						eContent = v
						return nil
					})
					return err
				})
			})
		})
		if err != nil {
			return fmt.Errorf("ContentInfo.content: %w", err)
		}
		if !ok {
			return fmt.Errorf("ContentInfo.content: missing [0] explicit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if eContent == nil {
		return nil, fmt.Errorf("encapContentInfo carried no eContent")
	}
	return eContent, nil
}

func parseTSTInfo(der []byte) (*Token, error) {
	t := &Token{}
	r := derx.NewReader(der)

	err := r.Sequence(func(info *derx.Reader) error {
		var err error
		t.Version, err = info.SmallInteger()
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		t.Policy, err = info.OID()
		if err != nil {
			return fmt.Errorf("policy: %w", err)
		}
		if err := info.Sequence(func(mi *derx.Reader) error {
			if err := mi.Sequence(func(alg *derx.Reader) error {
				oid, err := alg.OID()
				if err != nil {
					return err
				}
				t.HashAlgorithm = oid
				if !alg.Empty() {
					return alg.SkipElement() // parameters (NULL)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("hashAlgorithm: %w", err)
			}
			hashed, err := mi.OctetString()
			if err != nil {
				return fmt.Errorf("hashedMessage: %w", err)
			}
			t.HashedMessage = hashed
			return nil
		}); err != nil {
			return fmt.Errorf("messageImprint: %w", err)
		}

		t.SerialNumber, err = info.Integer()
		if err != nil {
			return fmt.Errorf("serialNumber: %w", err)
		}
		t.GenTime, err = info.GeneralizedTime()
		if err != nil {
			return fmt.Errorf("genTime: %w", err)
		}

		// Remaining fields, all OPTIONAL or DEFAULT and order-fixed by the
		// TSTInfo grammar: accuracy (SEQUENCE), ordering (BOOLEAN, default
		// false), nonce (INTEGER), tsa ([0] GeneralName), extensions
		// ([1] IMPLICIT Extensions). Only nonce matters to this client; the
		// rest are consumed and discarded by tag.
		for !info.Empty() {
			tag, ok := info.PeekTag()
			if !ok {
				return fmt.Errorf("truncated TSTInfo tail")
			}
			switch tag {
			case 0x02: // INTEGER nonce
				nonce, err := info.Integer()
				if err != nil {
					return fmt.Errorf("nonce: %w", err)
				}
				t.Nonce = nonce
				t.HasNonce = true
			default: // accuracy SEQUENCE, ordering BOOLEAN, tsa [0], extensions [1]
				if err := info.SkipElement(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
