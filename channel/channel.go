package channel

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/hpke"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ruteri/tee-function-client/interfaces"
)

const (
	kemID  = hpke.KEM_X25519_HKDF_SHA256
	kdfID  = hpke.KDF_HKDF_SHA256
	aeadID = hpke.AEAD_ChaCha20Poly1305
)

// responseKeyLabel is the HPKE exporter context for the response direction.
// Both sides must use the same label to derive the same key.
const responseKeyLabel = "enclave response v1"

// EncapsulatedKeySize is the wire size of the X25519 encapsulated key that
// prefixes a session's first sealed frame.
const EncapsulatedKeySize = 32

func suite() hpke.Suite {
	return hpke.NewSuite(kemID, kdfID, aeadID)
}

// GenerateKeyPair creates a fresh X25519 key pair in wire encoding. The
// enclave (and its local simulator) generates one per handshake.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := kemID.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate channel key pair: %w", err)
	}
	publicKey, err = pub.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	privateKey, err = priv.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return publicKey, privateKey, nil
}

// Context is the client-side sealing/opening state of one session's channel.
// It is exclusively owned by its session, never serialized, and unusable
// after Close.
type Context struct {
	mu sync.Mutex

	encapsulatedKey []byte
	sealer          hpke.Sealer

	responseKey  []byte
	responseAEAD cipher.AEAD
	responseSeq  uint64

	closed bool
}

// Establish derives a channel context from the enclave's verified ephemeral
// public key. It must only ever be called with a key extracted from a fully
// verified attestation document.
func Establish(enclavePublicKey []byte) (*Context, error) {
	pub, err := kemID.Scheme().UnmarshalBinaryPublicKey(enclavePublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid enclave public key: %w", err)
	}

	sender, err := suite().NewSender(pub, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create HPKE sender: %w", err)
	}
	encap, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("HPKE setup failed: %w", err)
	}

	responseKey := sealer.Export([]byte(responseKeyLabel), chacha20poly1305.KeySize)
	responseAEAD, err := chacha20poly1305.New(responseKey)
	if err != nil {
		return nil, err
	}

	return &Context{
		encapsulatedKey: encap,
		sealer:          sealer,
		responseKey:     responseKey,
		responseAEAD:    responseAEAD,
	}, nil
}

// EncapsulatedKey returns the encapsulation the enclave needs to derive the
// matching context. It is sent once, with the first sealed frame.
func (c *Context) EncapsulatedKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encapsulatedKey
}

// Seal encrypts one request payload. Each call advances the sealing state;
// two frames never share a nonce.
func (c *Context) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: channel closed", interfaces.ErrNotConnected)
	}
	ciphertext, err := c.sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("could not seal payload: %w", err)
	}
	return ciphertext, nil
}

// Open decrypts one sealed response frame. Any bit flip in the frame makes
// Open fail with ErrDecryption; corrupted plaintext is never returned.
func (c *Context) Open(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: channel closed", interfaces.ErrNotConnected)
	}

	nonce := counterNonce(c.responseSeq)
	plaintext, err := c.responseAEAD.Open(nil, nonce, frame, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrDecryption, err)
	}
	c.responseSeq++
	return plaintext, nil
}

// Close zeroes the channel's key material. The context is unusable
// afterwards; Close is idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	zero(c.responseKey)
	zero(c.encapsulatedKey)
	c.sealer = nil
	c.responseAEAD = nil
}

// ReceiverContext is the enclave-side counterpart, used by the local
// simulator and by tests to exercise both directions of the channel.
type ReceiverContext struct {
	opener hpke.Opener

	responseKey  []byte
	responseAEAD cipher.AEAD
	responseSeq  uint64
}

// NewReceiver derives the enclave-side context from the enclave's private
// key and the client's encapsulated key.
func NewReceiver(privateKey, encapsulatedKey []byte) (*ReceiverContext, error) {
	priv, err := kemID.Scheme().UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid channel private key: %w", err)
	}
	receiver, err := suite().NewReceiver(priv, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create HPKE receiver: %w", err)
	}
	opener, err := receiver.Setup(encapsulatedKey)
	if err != nil {
		return nil, fmt.Errorf("HPKE receiver setup failed: %w", err)
	}

	responseKey := opener.Export([]byte(responseKeyLabel), chacha20poly1305.KeySize)
	responseAEAD, err := chacha20poly1305.New(responseKey)
	if err != nil {
		return nil, err
	}

	return &ReceiverContext{
		opener:       opener,
		responseKey:  responseKey,
		responseAEAD: responseAEAD,
	}, nil
}

// Open decrypts one sealed request frame.
func (r *ReceiverContext) Open(frame []byte) ([]byte, error) {
	plaintext, err := r.opener.Open(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrDecryption, err)
	}
	return plaintext, nil
}

// SealResponse encrypts one response payload under the derived response key.
func (r *ReceiverContext) SealResponse(plaintext []byte) []byte {
	nonce := counterNonce(r.responseSeq)
	r.responseSeq++
	return r.responseAEAD.Seal(nil, nonce, plaintext, nil)
}

// counterNonce builds a 12-byte nonce from a message counter. The counter
// never repeats within a context, so neither does the nonce.
func counterNonce(seq uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
