// Package userencrypt implements envelope encryption of function inputs
// under the account's long-lived public key.
//
// Inputs encrypted this way can be embedded in otherwise plaintext payloads
// (or handed to third parties) and are only recoverable inside the enclave,
// which holds the matching private key. The envelope is a fresh AES-256-GCM
// data key wrapped with RSA-OAEP-SHA256, serialized as
// "enclave:" + base64(wrappedKey || nonce || ciphertext).
package userencrypt
