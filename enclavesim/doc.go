// Package enclavesim runs a local, in-process stand-in for an enclave
// gateway.
//
// The simulator serves the same websocket endpoints as a real gateway
// (/v1/run/{function_id} and /v1/key), produces COSE_Sign1 attestation
// documents signed by a generated P-384 certificate chain, and terminates
// the client's encrypted channel. Functions are plain Go handlers registered
// in a Registry.
//
// Its documents verify against its own generated root only, so clients must
// be pointed at Identity.RootPEM as their trust root. The simulator is meant
// for development and for end-to-end tests; it asserts nothing about real
// enclave hardware.
package enclavesim
