// Package interfaces defines core interfaces and types shared by the enclave
// function client, separating interface definitions from implementations.
//
// The package provides:
//
// # Function Identity
//
// FunctionRef: Immutable reference to a deployed enclave function, carrying
// the function ID, an optional integrity hash of the deployed code, and an
// optional bearer credential scoped to the function.
//
// Auth: Tagged two-variant authentication value. A connection authenticates
// either with the caller's account credential or with a function-scoped
// credential; the variant fixes the websocket subprotocol used during the
// handshake.
//
// # Credential Interfaces
//
// CredentialProvider: Resolves the process default credential when a
// FunctionRef does not carry one. Implemented by the credstore package for
// local files and HashiCorp Vault.
//
// # Error Taxonomy
//
// Sentinel errors distinguish the three user-visible failure classes:
// attestation failures (trust assumptions wrong, fail closed, never retried),
// transport failures (service unavailable, caller may retry a fresh connect),
// and state errors (API misuse, a programming bug).
package interfaces
