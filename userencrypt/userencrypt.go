package userencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/ruteri/tee-function-client/interfaces"
)

// Prefix marks envelope-encrypted values so enclave functions can recognize
// and unwrap them.
const Prefix = "enclave:"

const dataKeySize = 32

// ParsePublicKey decodes a PEM or DER encoded RSA public key, as returned by
// the platform's key endpoint.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("could not parse account public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("account key is %T, expected RSA", pub)
	}
	return rsaPub, nil
}

// Encrypt seals plaintext under the account public key. Each call draws a
// fresh data key and nonce.
func Encrypt(plaintext []byte, accountKey *rsa.PublicKey) (string, error) {
	dataKey := make([]byte, dataKeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return "", fmt.Errorf("could not generate data key: %w", err)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("could not generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, accountKey, dataKey, nil)
	if err != nil {
		return "", fmt.Errorf("could not wrap data key: %w", err)
	}

	envelope := append(wrappedKey, sealed...)
	return Prefix + base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt unwraps an envelope with the account private key. It is the
// enclave-side counterpart of Encrypt, used by the local simulator and by
// tests.
func Decrypt(value string, accountKey *rsa.PrivateKey) ([]byte, error) {
	encoded, ok := strings.CutPrefix(value, Prefix)
	if !ok {
		return nil, fmt.Errorf("value is not envelope-encrypted")
	}
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	keyLen := accountKey.Size()
	if len(envelope) < keyLen {
		return nil, fmt.Errorf("envelope shorter than wrapped key")
	}
	dataKey, err := rsa.DecryptOAEP(sha256.New(), nil, accountKey, envelope[:keyLen], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not unwrap data key", interfaces.ErrDecryption)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := envelope[keyLen:]
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("envelope shorter than nonce")
	}
	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrDecryption, err)
	}
	return plaintext, nil
}
