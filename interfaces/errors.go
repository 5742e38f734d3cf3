package interfaces

import "errors"

// Attestation failures. All of these are fatal to the handshake: the client
// fails closed and no payload is ever sent to the enclave.
var (
	// ErrMalformedDocument means the attestation envelope or its payload
	// could not be decoded, or a required field is missing.
	ErrMalformedDocument = errors.New("malformed attestation document")

	// ErrUntrustedChain means the document's certificate chain does not
	// verify up to the pinned trust root, or a certificate is outside its
	// validity window.
	ErrUntrustedChain = errors.New("attestation certificate chain not trusted")

	// ErrInvalidSignature means the envelope signature does not verify under
	// the leaf certificate's public key.
	ErrInvalidSignature = errors.New("invalid attestation signature")

	// ErrNonceMismatch means the document does not echo the nonce sent in
	// the handshake request, indicating a possible replay.
	ErrNonceMismatch = errors.New("attestation nonce mismatch")

	// ErrFunctionIntegrityMismatch means the enclave's asserted function
	// checksum does not match the integrity hash the caller pinned in its
	// FunctionRef.
	ErrFunctionIntegrityMismatch = errors.New("function integrity hash mismatch")

	// ErrMeasurementMismatch means a measurement register does not match any
	// of the caller's expected values.
	ErrMeasurementMismatch = errors.New("attestation measurement mismatch")
)

// Channel and transport failures.
var (
	// ErrDecryption means a sealed frame failed to open: the ciphertext was
	// tampered with or the channel state is mismatched. Fatal to the session.
	ErrDecryption = errors.New("sealed frame failed to decrypt")

	// ErrTransport wraps connection-level failures (refused, reset, timed
	// out). The session is closed; the caller may retry with a fresh connect.
	ErrTransport = errors.New("transport failure")
)

// Caller usage errors.
var (
	// ErrNotConnected is returned when Invoke is called on a session that is
	// not in the channel-ready state.
	ErrNotConnected = errors.New("not connected")

	// ErrCredentialNotFound is returned by credential providers when no
	// default credential is configured.
	ErrCredentialNotFound = errors.New("credential not found")
)
