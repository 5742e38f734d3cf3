package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ruteri/tee-function-client/interfaces"
)

// documentPayload is the CBOR layout of the signed attestation payload.
type documentPayload struct {
	ModuleID    string         `cbor:"module_id"`
	Timestamp   uint64         `cbor:"timestamp"`
	Digest      string         `cbor:"digest"`
	PCRs        map[int][]byte `cbor:"pcrs"`
	Certificate []byte         `cbor:"certificate"`
	CABundle    [][]byte       `cbor:"cabundle"`
	PublicKey   []byte         `cbor:"public_key"`
	UserData    []byte         `cbor:"user_data"`
	Nonce       []byte         `cbor:"nonce"`
}

// NitroVerifier validates COSE_Sign1/CBOR attestation documents against a
// pinned trust root. It is stateless apart from the read-only root pool and
// safe for concurrent use.
type NitroVerifier struct {
	roots *x509.CertPool
}

// NewNitroVerifier creates a verifier anchored at the given root pool. The
// pool is the sole trust anchor for chain validation; it must contain only
// the pinned enclave platform root.
func NewNitroVerifier(roots *x509.CertPool) *NitroVerifier {
	return &NitroVerifier{roots: roots}
}

// Verify decodes and validates an attestation document.
//
// The checks run in a fixed order and all must pass: envelope decoding,
// payload decoding, certificate chain validation up to the pinned root,
// envelope signature verification under the leaf key, nonce binding, and
// the caller's integrity hash and measurement expectations. Any failure
// aborts the handshake with the matching sentinel error.
func (v *NitroVerifier) Verify(documentBytes []byte, expected Expectation) (*Document, error) {
	msg, err := decodeCoseSign1(documentBytes)
	if err != nil {
		return nil, err
	}
	if err := msg.checkAlgorithm(); err != nil {
		return nil, err
	}

	doc, err := decodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	leaf, err := v.verifyChain(doc, expected.verificationTime())
	if err != nil {
		return nil, err
	}

	leafKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf certificate key is not ECDSA", interfaces.ErrInvalidSignature)
	}
	if err := msg.verifySignature(leafKey); err != nil {
		return nil, err
	}

	if !bytes.Equal(doc.Nonce, expected.Nonce) {
		return nil, fmt.Errorf("%w: got %x, want %x", interfaces.ErrNonceMismatch, doc.Nonce, expected.Nonce)
	}

	if err := checkIntegrityHash(doc, expected.IntegrityHash); err != nil {
		return nil, err
	}
	if err := checkMeasurements(doc, expected.Measurements); err != nil {
		return nil, err
	}

	return doc, nil
}

// decodePayload decodes the inner attestation payload and checks required
// fields.
func decodePayload(payload []byte) (*Document, error) {
	var p documentPayload
	if err := cbor.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %w", interfaces.ErrMalformedDocument, err)
	}

	switch {
	case len(p.Certificate) == 0:
		return nil, fmt.Errorf("%w: missing certificate", interfaces.ErrMalformedDocument)
	case len(p.CABundle) == 0:
		return nil, fmt.Errorf("%w: missing cabundle", interfaces.ErrMalformedDocument)
	case len(p.PublicKey) == 0:
		return nil, fmt.Errorf("%w: missing public key", interfaces.ErrMalformedDocument)
	case len(p.PCRs) == 0:
		return nil, fmt.Errorf("%w: missing measurements", interfaces.ErrMalformedDocument)
	}

	return &Document{
		ModuleID:     p.ModuleID,
		Timestamp:    time.UnixMilli(int64(p.Timestamp)),
		Digest:       p.Digest,
		Measurements: p.PCRs,
		Certificate:  p.Certificate,
		CABundle:     p.CABundle,
		PublicKey:    p.PublicKey,
		UserData:     p.UserData,
		Nonce:        p.Nonce,
	}, nil
}

// verifyChain validates leaf -> cabundle -> pinned root, including validity
// windows at the given time, and returns the parsed leaf certificate.
func (v *NitroVerifier) verifyChain(doc *Document, at time.Time) (*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid leaf certificate: %w", interfaces.ErrMalformedDocument, err)
	}

	intermediates := x509.NewCertPool()
	for i, der := range doc.CABundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cabundle certificate %d: %w", interfaces.ErrMalformedDocument, i, err)
		}
		intermediates.AddCert(cert)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrUntrustedChain, err)
	}
	return leaf, nil
}
