package pades

import (
	"errors"
	"fmt"

	"github.com/AybarsYldrm/PAdES/internal/pdfdoc"
	"github.com/AybarsYldrm/PAdES/internal/tsp"
)

// Sentinel error kinds, named after spec's error-kind taxonomy. Each is
// wrapped with call-site context via fmt.Errorf("%w: ...", ...); callers
// discriminate them with errors.Is.
var (
	ErrPDFMalformed        = errors.New("pades: PDF structure is malformed")
	ErrFieldMissing        = errors.New("pades: signature field not found")
	ErrPlaceholderTooSmall = errors.New("pades: CMS exceeds reserved placeholder capacity")
	ErrUnsupportedAlgorithm = errors.New("pades: unsupported digest or key algorithm")
	ErrTSANetwork          = errors.New("pades: TSA network error")
	ErrTSAProtocol         = errors.New("pades: TSA response is not a valid TimeStampResp")
	ErrTSARejected         = errors.New("pades: TSA rejected the timestamp request")
	ErrTSAMismatch         = errors.New("pades: TSA response does not match the request")
	ErrCertInvalid         = errors.New("pades: cannot extract signer certificate fields")
)

// wrapTSAErr reclassifies an internal/tsp sentinel into the package's own
// taxonomy. A certificate without signing authority never produces this
// path directly (that case is the silent DocTS fallback per spec §7); this
// only fires once a TSA round trip has actually been attempted.
func wrapTSAErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tsp.ErrTransport):
		return fmt.Errorf("%w: %v", ErrTSANetwork, err)
	case errors.Is(err, tsp.ErrRejected):
		return fmt.Errorf("%w: %v", ErrTSARejected, err)
	case errors.Is(err, tsp.ErrResponseMalformed):
		return fmt.Errorf("%w: %v", ErrTSAProtocol, err)
	case errors.Is(err, tsp.ErrImprintMismatch), errors.Is(err, tsp.ErrNonceMismatch):
		return fmt.Errorf("%w: %v", ErrTSAMismatch, err)
	default:
		return err
	}
}

// classifyFieldErr reclassifies an internal/pdfdoc.ErrFieldMissing into the
// package's own taxonomy, the same way wrapTSAErr/classifyInjectErr do for
// their own internal packages. Errors unrelated to a missing field pass
// through with ctx as their context, just without the ErrFieldMissing
// sentinel attached.
func classifyFieldErr(ctx string, err error) error {
	if errors.Is(err, pdfdoc.ErrFieldMissing) {
		return fmt.Errorf("%w: %v", ErrFieldMissing, err)
	}
	return fmt.Errorf("pades: %s: %w", ctx, err)
}
