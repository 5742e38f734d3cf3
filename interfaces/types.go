package interfaces

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

// Credential is an opaque bearer credential presented during the websocket
// handshake. It is either a function-scoped token embedded in a FunctionRef
// or the caller's account credential resolved by a CredentialProvider.
type Credential string

// CredentialProvider resolves the process default credential used when a
// FunctionRef does not carry its own. Implementations must return
// ErrCredentialNotFound when no credential is configured.
type CredentialProvider interface {
	DefaultCredential(ctx context.Context) (Credential, error)
}

// AuthKind selects the authentication variant for a connection.
type AuthKind int

const (
	// AuthAccountCredential authenticates with the caller's account
	// credential, valid for any function the account may invoke.
	AuthAccountCredential AuthKind = iota + 1

	// AuthFunctionCredential authenticates with a credential scoped to a
	// single deployed function.
	AuthFunctionCredential
)

// Auth pairs an AuthKind with the credential it requires. Values are built
// only through AccountAuth and FunctionAuth, so an invalid combination cannot
// be represented.
type Auth struct {
	kind       AuthKind
	credential Credential
}

// AccountAuth builds an account-credential Auth.
func AccountAuth(credential Credential) Auth {
	return Auth{kind: AuthAccountCredential, credential: credential}
}

// FunctionAuth builds a function-credential Auth.
func FunctionAuth(credential Credential) Auth {
	return Auth{kind: AuthFunctionCredential, credential: credential}
}

// Kind returns the authentication variant.
func (a Auth) Kind() AuthKind { return a.kind }

// Credential returns the bearer credential.
func (a Auth) Credential() Credential { return a.credential }

// Protocol returns the websocket subprotocol announcing the auth variant to
// the gateway.
func (a Auth) Protocol() string {
	if a.kind == AuthFunctionCredential {
		return "enclave.function"
	}
	return "enclave.runtime"
}

// FunctionRef is an immutable reference to a deployed enclave function.
// Two references are equal iff their ID and integrity hash match.
type FunctionRef struct {
	id            string
	integrityHash string
	credential    Credential
}

// NewFunctionRef creates a FunctionRef.
//
// The id is required. integrityHash, if non-empty, must be a hex digest of
// the deployed function's code; the client will refuse to invoke a function
// whose attested checksum differs. credential, if non-empty, is a bearer
// credential scoped to this function; otherwise the process default
// credential is used.
func NewFunctionRef(id, integrityHash string, credential Credential) (FunctionRef, error) {
	if id == "" {
		return FunctionRef{}, errors.New("function id must not be empty")
	}
	if integrityHash != "" {
		if _, err := hex.DecodeString(integrityHash); err != nil {
			return FunctionRef{}, fmt.Errorf("integrity hash is not a hex digest: %w", err)
		}
	}
	return FunctionRef{id: id, integrityHash: integrityHash, credential: credential}, nil
}

// ID returns the opaque function identifier.
func (f FunctionRef) ID() string { return f.id }

// IntegrityHash returns the expected hex digest of the deployed function's
// code, or "" if the caller did not pin one.
func (f FunctionRef) IntegrityHash() string { return f.integrityHash }

// Credential returns the function-scoped credential, or "" if the process
// default credential should be used.
func (f FunctionRef) Credential() Credential { return f.credential }

// AuthKind is derived from whether a function-scoped credential is present.
func (f FunctionRef) AuthKind() AuthKind {
	if f.credential != "" {
		return AuthFunctionCredential
	}
	return AuthAccountCredential
}

// Equal reports whether two references denote the same deployed function.
func (f FunctionRef) Equal(other FunctionRef) bool {
	return f.id == other.id && f.integrityHash == other.integrityHash
}

// String implements fmt.Stringer. The credential is never printed.
func (f FunctionRef) String() string {
	if f.integrityHash == "" {
		return f.id
	}
	return f.id + "@" + f.integrityHash
}
