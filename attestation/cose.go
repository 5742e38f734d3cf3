package attestation

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/ruteri/tee-function-client/interfaces"
)

// COSE algorithm identifier for ECDSA w/ SHA-384 (RFC 9053).
const algES384 = -35

// COSE header label for the algorithm parameter.
const headerAlg = 1

// coseSign1 is the 4-element COSE_Sign1 array: protected header bytes, the
// unprotected header map, the payload, and the signature over Sig_structure.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// sigStructure is the COSE Sig_structure for a Signature1 context. The
// signature covers its canonical CBOR encoding, built from the exact
// protected-header and payload bytes of the envelope, never a re-encoding.
type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// decodeCoseSign1 parses a COSE_Sign1 envelope, accepting both the bare
// 4-element array and the tag-18 wrapped form.
func decodeCoseSign1(data []byte) (*coseSign1, error) {
	var msg coseSign1
	if err := cbor.Unmarshal(data, &msg); err == nil {
		return &msg, nil
	}

	var tagged cbor.RawTag
	if err := cbor.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("%w: not a COSE_Sign1 structure", interfaces.ErrMalformedDocument)
	}
	if tagged.Number != 18 {
		return nil, fmt.Errorf("%w: unexpected CBOR tag %d", interfaces.ErrMalformedDocument, tagged.Number)
	}
	if err := cbor.Unmarshal(tagged.Content, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid COSE_Sign1 content: %w", interfaces.ErrMalformedDocument, err)
	}
	return &msg, nil
}

// checkAlgorithm rejects envelopes whose protected header names an algorithm
// other than ES384. A header without an algorithm parameter is accepted; the
// leaf key's curve is checked during signature verification regardless.
func (m *coseSign1) checkAlgorithm() error {
	if len(m.Protected) == 0 {
		return nil
	}
	var hdr map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(m.Protected, &hdr); err != nil {
		return fmt.Errorf("%w: invalid protected header: %w", interfaces.ErrMalformedDocument, err)
	}
	raw, ok := hdr[headerAlg]
	if !ok {
		return nil
	}
	var alg int64
	if err := cbor.Unmarshal(raw, &alg); err != nil {
		return fmt.Errorf("%w: invalid algorithm parameter: %w", interfaces.ErrMalformedDocument, err)
	}
	if alg != algES384 {
		return fmt.Errorf("%w: unsupported signing algorithm %d", interfaces.ErrMalformedDocument, alg)
	}
	return nil
}

// verifySignature checks the envelope signature under the given ECDSA P-384
// public key. COSE ECDSA signatures are the raw r||s concatenation.
func (m *coseSign1) verifySignature(pub *ecdsa.PublicKey) error {
	digest, err := m.signedDigest()
	if err != nil {
		return err
	}

	coordSize := (pub.Curve.Params().BitSize + 7) / 8
	if len(m.Signature) != 2*coordSize {
		return fmt.Errorf("%w: signature length %d does not match curve", interfaces.ErrInvalidSignature, len(m.Signature))
	}
	r := new(big.Int).SetBytes(m.Signature[:coordSize])
	s := new(big.Int).SetBytes(m.Signature[coordSize:])

	if !ecdsa.Verify(pub, digest, r, s) {
		return interfaces.ErrInvalidSignature
	}
	return nil
}

// signedDigest computes the SHA-384 digest of the Sig_structure covered by
// the envelope signature.
func (m *coseSign1) signedDigest() ([]byte, error) {
	sig := sigStructure{
		Context:     "Signature1",
		Protected:   m.Protected,
		ExternalAAD: []byte{},
		Payload:     m.Payload,
	}
	encoded, err := cbor.Marshal(&sig)
	if err != nil {
		return nil, fmt.Errorf("%w: could not encode Sig_structure: %w", interfaces.ErrMalformedDocument, err)
	}
	digest := sha512.Sum384(encoded)
	return digest[:], nil
}
