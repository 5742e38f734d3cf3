package trustroot

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRootPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), der
}

func TestNewStoreParsesPEMAndDER(t *testing.T) {
	pemBytes, der := testRootPEM(t)

	fromPEM, err := NewStore(pemBytes)
	require.NoError(t, err)
	assert.Len(t, fromPEM.Certificates(), 1)
	assert.NotNil(t, fromPEM.Pool())

	fromDER, err := NewStore(der)
	require.NoError(t, err)
	assert.Len(t, fromDER.Certificates(), 1)
}

func TestNewStoreRejectsGarbage(t *testing.T) {
	_, err := NewStore([]byte("not a certificate"))
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	pemBytes, _ := testRootPEM(t)
	path := filepath.Join(t.TempDir(), "root.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o644))

	store, err := Load(context.Background(), "file://"+path, LoadOptions{}, slog.Default())
	require.NoError(t, err)
	assert.Len(t, store.Certificates(), 1)
}

func TestLoadHonorsPin(t *testing.T) {
	pemBytes, _ := testRootPEM(t)
	path := filepath.Join(t.TempDir(), "root.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o644))

	digest := sha256.Sum256(pemBytes)
	_, err := Load(context.Background(), "file://"+path, LoadOptions{
		SHA256Pin: hex.EncodeToString(digest[:]),
	}, slog.Default())
	require.NoError(t, err)

	_, err = Load(context.Background(), "file://"+path, LoadOptions{
		SHA256Pin: hex.EncodeToString(make([]byte, 32)),
	}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity check failed")
}

func TestLoadRejectsUnknownScheme(t *testing.T) {
	_, err := Load(context.Background(), "gopher://root.pem", LoadOptions{}, slog.Default())
	require.Error(t, err)
}

func TestReload(t *testing.T) {
	firstPEM, _ := testRootPEM(t)
	secondPEM, _ := testRootPEM(t)
	path := filepath.Join(t.TempDir(), "root.pem")
	require.NoError(t, os.WriteFile(path, firstPEM, 0o644))

	store, err := Load(context.Background(), "file://"+path, LoadOptions{}, slog.Default())
	require.NoError(t, err)
	before := store.Certificates()[0]

	require.NoError(t, os.WriteFile(path, secondPEM, 0o644))
	require.NoError(t, store.Reload(context.Background()))
	after := store.Certificates()[0]
	assert.NotEqual(t, before.Raw, after.Raw)
}

func TestReloadWithoutLoader(t *testing.T) {
	pemBytes, _ := testRootPEM(t)
	store, err := NewStore(pemBytes)
	require.NoError(t, err)
	require.Error(t, store.Reload(context.Background()))
}
