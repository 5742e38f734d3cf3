package attestation

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruteri/tee-function-client/interfaces"
)

// Document is a fully verified attestation document. It is produced once per
// handshake by a Verifier and never mutated; the session discards it on
// close.
type Document struct {
	// ModuleID identifies the enclave module that produced the document.
	ModuleID string

	// Timestamp is the document creation time asserted by the enclave.
	Timestamp time.Time

	// Digest names the digest algorithm used for the measurements.
	Digest string

	// Measurements maps register index to the register's digest value.
	Measurements map[int][]byte

	// Certificate is the DER-encoded leaf certificate whose key signed the
	// envelope.
	Certificate []byte

	// CABundle is the DER-encoded issuing chain, ordered root to leaf issuer.
	CABundle [][]byte

	// PublicKey is the enclave's ephemeral encryption public key, carried in
	// the document's public-key field. The secure channel is derived from it.
	PublicKey []byte

	// UserData carries enclave-asserted application data, such as the
	// deployed function's checksum.
	UserData []byte

	// Nonce echoes the client-generated handshake nonce.
	Nonce []byte
}

// userData is the JSON layout of the document's user-data field.
type userData struct {
	FuncChecksum string `json:"func_checksum"`
	Key          string `json:"key"`
}

// FunctionChecksum returns the hex digest of the deployed function's code as
// asserted by the enclave, or "" if the document carries none.
func (d *Document) FunctionChecksum() (string, error) {
	if len(d.UserData) == 0 {
		return "", nil
	}
	var ud userData
	if err := json.Unmarshal(d.UserData, &ud); err != nil {
		return "", fmt.Errorf("%w: invalid user data: %w", interfaces.ErrMalformedDocument, err)
	}
	if ud.FuncChecksum == "" {
		return "", nil
	}
	checksum, err := base64.StdEncoding.DecodeString(ud.FuncChecksum)
	if err != nil {
		return "", fmt.Errorf("%w: invalid function checksum encoding: %w", interfaces.ErrMalformedDocument, err)
	}
	return hex.EncodeToString(checksum), nil
}

// AccountKey returns the account public key carried in the document's user
// data. Key-endpoint attestation documents carry it in place of a function
// checksum.
func (d *Document) AccountKey() ([]byte, error) {
	if len(d.UserData) == 0 {
		return nil, fmt.Errorf("%w: no user data", interfaces.ErrMalformedDocument)
	}
	var ud userData
	if err := json.Unmarshal(d.UserData, &ud); err != nil {
		return nil, fmt.Errorf("%w: invalid user data: %w", interfaces.ErrMalformedDocument, err)
	}
	if ud.Key == "" {
		return nil, fmt.Errorf("%w: no account key in user data", interfaces.ErrMalformedDocument)
	}
	key, err := base64.StdEncoding.DecodeString(ud.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid account key encoding: %w", interfaces.ErrMalformedDocument, err)
	}
	return key, nil
}

// Expectation carries the caller-side values a document must match.
type Expectation struct {
	// Nonce is the client-generated nonce sent in the handshake request. The
	// document must echo it exactly.
	Nonce []byte

	// IntegrityHash, if non-empty, is the hex digest the deployed function's
	// code must match.
	IntegrityHash string

	// Measurements, if non-empty, maps register index to the set of accepted
	// hex digest values for that register.
	Measurements map[int][]string

	// Time is the instant used for certificate validity checks. Zero means
	// time.Now.
	Time time.Time
}

func (e Expectation) verificationTime() time.Time {
	if e.Time.IsZero() {
		return time.Now()
	}
	return e.Time
}

// Verifier validates attestation document bytes against a trust root and the
// caller's expectations. Implementations are pure and safe for concurrent
// use.
type Verifier interface {
	Verify(documentBytes []byte, expected Expectation) (*Document, error)
}

// checkMeasurements compares the document's measurement registers against the
// accepted values, register by register.
func checkMeasurements(doc *Document, expected map[int][]string) error {
	for register, accepted := range expected {
		value, ok := doc.Measurements[register]
		if !ok {
			return fmt.Errorf("%w: register %d missing from document", interfaces.ErrMeasurementMismatch, register)
		}
		valueHex := hex.EncodeToString(value)
		found := false
		for _, candidate := range accepted {
			if candidate == valueHex {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: register %d value %s not in accepted set", interfaces.ErrMeasurementMismatch, register, valueHex)
		}
	}
	return nil
}

// checkIntegrityHash compares the caller's pinned integrity hash against the
// function checksum asserted in the document's user data.
func checkIntegrityHash(doc *Document, integrityHash string) error {
	if integrityHash == "" {
		return nil
	}
	asserted, err := doc.FunctionChecksum()
	if err != nil {
		return err
	}
	if asserted == "" {
		return fmt.Errorf("%w: document asserts no function checksum, expected %s", interfaces.ErrFunctionIntegrityMismatch, integrityHash)
	}
	if asserted != integrityHash {
		return fmt.Errorf("%w: got %s, want %s", interfaces.ErrFunctionIntegrityMismatch, asserted, integrityHash)
	}
	return nil
}
