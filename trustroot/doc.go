// Package trustroot loads and pins the root certificate used as the sole
// anchor for attestation certificate chain validation.
//
// The root is loaded once per process from a location URI and is read-only
// thereafter; refreshing requires an explicit, serialized Reload. Supported
// schemes:
//
//   - file://  - local filesystem
//   - https:// - well-known location, optionally a zip archive containing
//     root.pem (the format the enclave platform publishes its root in)
//   - s3://    - Amazon S3 or compatible object storage
//   - ipfs://  - IPFS node or gateway
//
// Every fetch can be pinned with a SHA-256 digest of the expected bytes, so
// a compromised distribution channel cannot substitute a different root.
package trustroot
