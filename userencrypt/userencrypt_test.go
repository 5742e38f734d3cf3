package userencrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := newAccountKey(t)

	plaintext := []byte("sensitive input")
	encrypted, err := Encrypt(plaintext, &key.PublicKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encrypted, Prefix))

	decrypted, err := Decrypt(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptIsRandomized(t *testing.T) {
	key := newAccountKey(t)

	first, err := Encrypt([]byte("same input"), &key.PublicKey)
	require.NoError(t, err)
	second, err := Encrypt([]byte("same input"), &key.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	key := newAccountKey(t)

	encrypted, err := Encrypt([]byte("payload"), &key.PublicKey)
	require.NoError(t, err)

	// Flip a character inside the base64 body.
	tampered := []byte(encrypted)
	idx := len(tampered) - 5
	if tampered[idx] == 'A' {
		tampered[idx] = 'B'
	} else {
		tampered[idx] = 'A'
	}

	_, err = Decrypt(string(tampered), key)
	require.Error(t, err)
}

func TestDecryptRejectsMissingPrefix(t *testing.T) {
	key := newAccountKey(t)
	_, err := Decrypt("bm90IGFuIGVudmVsb3Bl", key)
	require.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	key := newAccountKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	fromDER, err := ParsePublicKey(der)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(fromDER))

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	fromPEM, err := ParsePublicKey(pemBytes)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(fromPEM))

	_, err = ParsePublicKey([]byte("junk"))
	require.Error(t, err)
}
