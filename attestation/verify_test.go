package attestation_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-function-client/attestation"
	"github.com/ruteri/tee-function-client/channel"
	"github.com/ruteri/tee-function-client/enclavesim"
	"github.com/ruteri/tee-function-client/interfaces"
	"github.com/ruteri/tee-function-client/trustroot"
)

type fixture struct {
	identity *enclavesim.Identity
	verifier attestation.Verifier
	pubKey   []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	identity, err := enclavesim.NewIdentity()
	require.NoError(t, err)

	store, err := trustroot.NewStore(identity.RootPEM)
	require.NoError(t, err)

	pubKey, _, err := channel.GenerateKeyPair()
	require.NoError(t, err)

	return &fixture{
		identity: identity,
		verifier: attestation.NewNitroVerifier(store.Pool()),
		pubKey:   pubKey,
	}
}

func (f *fixture) signedDocument(t *testing.T, nonce []byte, userData []byte) []byte {
	t.Helper()
	doc, err := f.identity.Attest(enclavesim.DocumentParams{
		Nonce:     nonce,
		PublicKey: f.pubKey,
		UserData:  userData,
	})
	require.NoError(t, err)
	return doc
}

func TestVerifyValidDocument(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-1")

	docBytes := f.signedDocument(t, nonce, nil)
	doc, err := f.verifier.Verify(docBytes, attestation.Expectation{Nonce: nonce})
	require.NoError(t, err)

	assert.Equal(t, "i-simulated-enclave", doc.ModuleID)
	assert.Equal(t, "SHA384", doc.Digest)
	assert.Equal(t, f.pubKey, doc.PublicKey)
	assert.Equal(t, nonce, doc.Nonce)
	assert.NotEmpty(t, doc.Measurements)
	assert.WithinDuration(t, time.Now(), doc.Timestamp, time.Minute)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.verifier.Verify([]byte("definitely not cbor"), attestation.Expectation{})
	require.ErrorIs(t, err, interfaces.ErrMalformedDocument)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-2")

	docBytes := f.signedDocument(t, nonce, nil)
	// The signature occupies the tail of the envelope.
	docBytes[len(docBytes)-10] ^= 0xff

	_, err := f.verifier.Verify(docBytes, attestation.Expectation{Nonce: nonce})
	require.ErrorIs(t, err, interfaces.ErrInvalidSignature)
}

func TestVerifyRejectsNonceMismatch(t *testing.T) {
	f := newFixture(t)

	docBytes := f.signedDocument(t, []byte("nonce-sent"), nil)
	_, err := f.verifier.Verify(docBytes, attestation.Expectation{Nonce: []byte("nonce-other")})
	require.ErrorIs(t, err, interfaces.ErrNonceMismatch)
}

func TestVerifyRejectsUntrustedRoot(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-3")

	otherIdentity, err := enclavesim.NewIdentity()
	require.NoError(t, err)
	otherStore, err := trustroot.NewStore(otherIdentity.RootPEM)
	require.NoError(t, err)
	otherVerifier := attestation.NewNitroVerifier(otherStore.Pool())

	docBytes := f.signedDocument(t, nonce, nil)
	_, err = otherVerifier.Verify(docBytes, attestation.Expectation{Nonce: nonce})
	require.ErrorIs(t, err, interfaces.ErrUntrustedChain)
}

func TestVerifyRejectsExpiredChain(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-4")

	docBytes := f.signedDocument(t, nonce, nil)
	_, err := f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce: nonce,
		// Far outside the fixture chain's validity window.
		Time: time.Now().Add(365 * 24 * time.Hour),
	})
	require.ErrorIs(t, err, interfaces.ErrUntrustedChain)
}

func TestVerifyFunctionIntegrity(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-5")

	checksum := sha256.Sum256([]byte("function code"))
	userData, err := enclavesim.FunctionUserData(checksum[:])
	require.NoError(t, err)
	docBytes := f.signedDocument(t, nonce, userData)

	doc, err := f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:         nonce,
		IntegrityHash: hex.EncodeToString(checksum[:]),
	})
	require.NoError(t, err)

	asserted, err := doc.FunctionChecksum()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(checksum[:]), asserted)

	_, err = f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:         nonce,
		IntegrityHash: hex.EncodeToString(make([]byte, 32)),
	})
	require.ErrorIs(t, err, interfaces.ErrFunctionIntegrityMismatch)
}

func TestVerifyIntegrityExpectedButAbsent(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-6")

	docBytes := f.signedDocument(t, nonce, nil)
	_, err := f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:         nonce,
		IntegrityHash: hex.EncodeToString(make([]byte, 32)),
	})
	require.ErrorIs(t, err, interfaces.ErrFunctionIntegrityMismatch)
}

func TestVerifyMeasurements(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-7")
	docBytes := f.signedDocument(t, nonce, nil)

	// The fixture's registers carry 48 zero bytes.
	zeros := hex.EncodeToString(make([]byte, 48))

	_, err := f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:        nonce,
		Measurements: map[int][]string{0: {zeros}, 1: {zeros}},
	})
	require.NoError(t, err)

	_, err = f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:        nonce,
		Measurements: map[int][]string{0: {hex.EncodeToString(make([]byte, 47)) + "ff"}},
	})
	require.ErrorIs(t, err, interfaces.ErrMeasurementMismatch)

	_, err = f.verifier.Verify(docBytes, attestation.Expectation{
		Nonce:        nonce,
		Measurements: map[int][]string{42: {zeros}},
	})
	require.ErrorIs(t, err, interfaces.ErrMeasurementMismatch)
}

func TestAccountKeyExtraction(t *testing.T) {
	f := newFixture(t)
	nonce := []byte("handshake-nonce-8")

	userData, err := enclavesim.KeyUserData(f.identity.AccountKeyPEM())
	require.NoError(t, err)
	docBytes := f.signedDocument(t, nonce, userData)

	doc, err := f.verifier.Verify(docBytes, attestation.Expectation{Nonce: nonce})
	require.NoError(t, err)

	key, err := doc.AccountKey()
	require.NoError(t, err)
	assert.Equal(t, f.identity.AccountKeyPEM(), key)
}
