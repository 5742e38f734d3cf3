// Package channel implements the end-to-end encrypted channel between the
// client and an attested enclave.
//
// The channel uses RFC 9180 hybrid public-key encryption with DHKEM(X25519,
// HKDF-SHA256), HKDF-SHA256 and ChaCha20-Poly1305. Establish encapsulates
// against the enclave's verified ephemeral public key and derives a sender
// context; the encapsulated key is transmitted once, alongside the first
// sealed frame. Responses are sealed by the enclave under an AEAD key both
// sides derive from the HPKE exporter secret, with a strictly increasing
// message counter as nonce, so no nonce is ever reused in either direction.
//
// Key material lives only in memory and is zeroed when the owning session
// closes. Opening a tampered frame fails; corrupted plaintext is never
// returned.
package channel
