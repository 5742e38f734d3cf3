// Package credstore provides credential providers backing the client's
// authentication.
//
// Three providers are available: Static wraps a credential passed in
// directly (flag or environment), File reads the persisted credential from
// the user's config directory, and Vault fetches it from a HashiCorp Vault
// KV v2 secret. All of them implement interfaces.CredentialProvider and
// report a missing credential as interfaces.ErrCredentialNotFound so callers
// can fall back between providers.
package credstore
