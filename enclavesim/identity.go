package enclavesim

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Identity is the simulator's signing identity: a generated P-384
// certificate chain for attestation documents and an RSA account key served
// by the key endpoint.
type Identity struct {
	// RootPEM is the PEM-encoded root certificate. Clients pin it as their
	// trust root.
	RootPEM []byte

	leafKey     *ecdsa.PrivateKey
	leafDER     []byte
	caBundleDER [][]byte

	accountKey    *rsa.PrivateKey
	accountKeyPEM []byte
}

// NewIdentity generates a fresh root -> intermediate -> leaf P-384 chain and
// an RSA-2048 account key.
func NewIdentity() (*Identity, error) {
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "enclavesim root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("could not create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	interKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	interTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "enclavesim intermediate"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	interDER, err := x509.CreateCertificate(rand.Reader, interTmpl, rootCert, &interKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("could not create intermediate certificate: %w", err)
	}
	interCert, err := x509.ParseCertificate(interDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "enclavesim module"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, interCert, &leafKey.PublicKey, interKey)
	if err != nil {
		return nil, fmt.Errorf("could not create leaf certificate: %w", err)
	}

	accountKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	accountDER, err := x509.MarshalPKIXPublicKey(&accountKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Identity{
		RootPEM:       pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		leafKey:       leafKey,
		leafDER:       leafDER,
		caBundleDER:   [][]byte{rootDER, interDER},
		accountKey:    accountKey,
		accountKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: accountDER}),
	}, nil
}

// AccountKey returns the simulator's RSA account private key, for decrypting
// envelope-encrypted inputs in tests.
func (id *Identity) AccountKey() *rsa.PrivateKey { return id.accountKey }

// AccountKeyPEM returns the PEM-encoded account public key the key endpoint
// serves.
func (id *Identity) AccountKeyPEM() []byte { return id.accountKeyPEM }

// DocumentParams are the per-handshake fields of an attestation document.
type DocumentParams struct {
	// Nonce echoes the client's handshake nonce.
	Nonce []byte

	// PublicKey is the enclave's ephemeral channel public key.
	PublicKey []byte

	// UserData is the JSON user-data blob (function checksum or account key).
	UserData []byte
}

// documentPayload mirrors the signed attestation payload layout.
type documentPayload struct {
	ModuleID    string         `cbor:"module_id"`
	Timestamp   uint64         `cbor:"timestamp"`
	Digest      string         `cbor:"digest"`
	PCRs        map[int][]byte `cbor:"pcrs"`
	Certificate []byte         `cbor:"certificate"`
	CABundle    [][]byte       `cbor:"cabundle"`
	PublicKey   []byte         `cbor:"public_key"`
	UserData    []byte         `cbor:"user_data"`
	Nonce       []byte         `cbor:"nonce"`
}

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// Attest builds and signs an attestation document for one handshake. The
// measurement registers carry fixed placeholder values; the simulator has no
// hardware to measure.
func (id *Identity) Attest(params DocumentParams) ([]byte, error) {
	payload, err := cbor.Marshal(&documentPayload{
		ModuleID:    "i-simulated-enclave",
		Timestamp:   uint64(time.Now().UnixMilli()),
		Digest:      "SHA384",
		PCRs:        simulatedMeasurements(),
		Certificate: id.leafDER,
		CABundle:    id.caBundleDER,
		PublicKey:   params.PublicKey,
		UserData:    params.UserData,
		Nonce:       params.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode attestation payload: %w", err)
	}
	return id.signCose(payload)
}

// signCose wraps the payload in a tag-18 COSE_Sign1 envelope with an ES384
// raw r||s signature.
func (id *Identity) signCose(payload []byte) ([]byte, error) {
	protected, err := cbor.Marshal(map[int64]int64{1: -35})
	if err != nil {
		return nil, err
	}

	sigInput, err := cbor.Marshal(&sigStructure{
		Context:     "Signature1",
		Protected:   protected,
		ExternalAAD: []byte{},
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum384(sigInput)

	r, s, err := ecdsa.Sign(rand.Reader, id.leafKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("could not sign attestation document: %w", err)
	}
	coordSize := (id.leafKey.Curve.Params().BitSize + 7) / 8
	signature := make([]byte, 2*coordSize)
	r.FillBytes(signature[:coordSize])
	s.FillBytes(signature[coordSize:])

	content, err := cbor.Marshal(&coseSign1{
		Protected:   protected,
		Unprotected: cbor.RawMessage{0xa0},
		Payload:     payload,
		Signature:   signature,
	})
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(cbor.RawTag{Number: 18, Content: content})
}

// FunctionUserData builds the user-data blob asserting a function checksum.
func FunctionUserData(checksum []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"func_checksum": checksum,
	})
}

// KeyUserData builds the user-data blob carrying the account public key.
func KeyUserData(keyPEM []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"key": keyPEM,
	})
}

func simulatedMeasurements() map[int][]byte {
	pcrs := make(map[int][]byte, 3)
	for i := 0; i < 3; i++ {
		pcrs[i] = make([]byte, 48)
	}
	return pcrs
}
