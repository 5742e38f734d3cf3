package attestation

import (
	"bytes"
	"crypto/sha512"
	"crypto/x509"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	tdxabi "github.com/google/go-tdx-guest/abi"
	tdxpb "github.com/google/go-tdx-guest/proto/tdx"
	tdxverify "github.com/google/go-tdx-guest/verify"

	"github.com/ruteri/tee-function-client/interfaces"
)

// dcapEnvelope wraps a raw TDX quote with the session data the quote binds.
// The quote's 64-byte report data must equal SHA-512 over
// nonce || public_key || user_data, tying the ephemeral channel key and the
// asserted application data to this handshake.
type dcapEnvelope struct {
	Quote     []byte `cbor:"quote"`
	PublicKey []byte `cbor:"public_key"`
	UserData  []byte `cbor:"user_data"`
}

// DCAPVerifier validates Intel TDX DCAP quotes as the attestation evidence
// for enclaves hosted on TDX platforms. It implements the same Verifier
// contract as NitroVerifier behind a different envelope codec.
type DCAPVerifier struct {
	roots *x509.CertPool
}

// NewDCAPVerifier creates a DCAP verifier. A nil root pool falls back to the
// Intel SGX/TDX root embedded in the quote verification library.
func NewDCAPVerifier(roots *x509.CertPool) *DCAPVerifier {
	return &DCAPVerifier{roots: roots}
}

// Verify decodes a DCAP envelope, verifies the embedded quote, and checks
// that the report data binds the handshake nonce and the enclave's ephemeral
// public key.
func (v *DCAPVerifier) Verify(documentBytes []byte, expected Expectation) (*Document, error) {
	var env dcapEnvelope
	if err := cbor.Unmarshal(documentBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid DCAP envelope: %w", interfaces.ErrMalformedDocument, err)
	}
	if len(env.Quote) == 0 || len(env.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: DCAP envelope missing quote or public key", interfaces.ErrMalformedDocument)
	}

	protoQuote, err := tdxabi.QuoteToProto(env.Quote)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse quote: %w", interfaces.ErrMalformedDocument, err)
	}
	quote, ok := protoQuote.(*tdxpb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported quote type %T", interfaces.ErrMalformedDocument, protoQuote)
	}

	options := tdxverify.DefaultOptions()
	options.Now = expected.verificationTime()
	if v.roots != nil {
		options.TrustedRoots = v.roots
	}
	if err := tdxverify.TdxQuote(protoQuote, options); err != nil {
		return nil, fmt.Errorf("%w: quote verification failed: %w", interfaces.ErrUntrustedChain, err)
	}

	reportData := dcapReportData(expected.Nonce, env.PublicKey, env.UserData)
	if !bytes.Equal(quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("%w: report data does not bind handshake nonce", interfaces.ErrNonceMismatch)
	}

	doc := &Document{
		Digest:       "SHA384",
		Measurements: dcapMeasurements(quote),
		PublicKey:    env.PublicKey,
		UserData:     env.UserData,
		Nonce:        expected.Nonce,
	}
	if err := checkIntegrityHash(doc, expected.IntegrityHash); err != nil {
		return nil, err
	}
	if err := checkMeasurements(doc, expected.Measurements); err != nil {
		return nil, err
	}
	return doc, nil
}

// dcapReportData computes the expected 64-byte report data for a handshake.
func dcapReportData(nonce, publicKey, userData []byte) [64]byte {
	h := sha512.New()
	h.Write(nonce)
	h.Write(publicKey)
	h.Write(userData)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// dcapMeasurements maps the quote body registers to measurement indexes,
// mirroring the register layout used for TDX instances.
func dcapMeasurements(quote *tdxpb.QuoteV4) map[int][]byte {
	body := quote.TdQuoteBody
	m := map[int][]byte{
		0: body.MrTd,
		5: body.MrConfigId,
		6: body.MrOwner,
		7: body.MrOwnerConfig,
	}
	for i, rtmr := range body.Rtmrs {
		m[1+i] = rtmr
	}
	return m
}
