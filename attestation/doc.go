// Package attestation parses and cryptographically validates remote
// attestation documents produced by confidential-computing enclaves.
//
// The primary envelope format is a COSE_Sign1 structure wrapping a
// CBOR-encoded attestation payload, signed with the leaf certificate's
// ECDSA P-384 key (the standard Nitro enclave attestation layout). The
// concrete codec sits behind the Verifier interface so that other enclave
// platforms can be supported; a DCAP/TDX verifier is provided as a second
// implementation.
//
// Verification is fail-closed: a document is returned only if envelope
// decoding, certificate chain validation against the pinned trust root,
// envelope signature verification, nonce binding, and any caller-supplied
// function integrity and measurement expectations all succeed. There is no
// partial trust.
package attestation
