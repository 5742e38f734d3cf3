package enclave

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-function-client/attestation"
	"github.com/ruteri/tee-function-client/channel"
	"github.com/ruteri/tee-function-client/credstore"
	"github.com/ruteri/tee-function-client/interfaces"
)

// fakeVerifier accepts any document bytes and returns a canned document,
// letting transport-level behavior be tested without real attestation.
type fakeVerifier struct {
	doc *attestation.Document
	err error
}

func (v *fakeVerifier) Verify(documentBytes []byte, expected attestation.Expectation) (*attestation.Document, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.doc, nil
}

// fakeTransport scripts one enclave-side endpoint in memory: it answers the
// nonce handshake with a placeholder document and terminates the channel
// like an enclave would.
type fakeTransport struct {
	channelPrivateKey []byte
	// breakResponse corrupts the sealed response to exercise fail-closed
	// behavior.
	breakResponse bool
	// errorFrame, if set, is sent instead of a function result.
	errorFrame string

	lastConn *fakeConn
}

type fakeConn struct {
	t       *fakeTransport
	pending [][]byte
	recv    *channel.ReceiverContext
	closed  bool
}

func (t *fakeTransport) Connect(ctx context.Context, endpoint string, auth interfaces.Auth) (Conn, error) {
	conn := &fakeConn{t: t}
	t.lastConn = conn
	return conn, nil
}

func (c *fakeConn) WriteMessage(ctx context.Context, data []byte) error {
	if c.closed {
		return fmt.Errorf("%w: connection closed", interfaces.ErrTransport)
	}

	// Handshake frame: answer with a placeholder attestation document.
	var f frame
	if err := json.Unmarshal(data, &f); err == nil && len(f.Message) > 0 {
		reply, _ := json.Marshal(map[string]string{
			"message": base64.StdEncoding.EncodeToString([]byte("document")),
		})
		c.pending = append(c.pending, reply)
		return nil
	}

	if c.t.errorFrame != "" {
		reply, _ := json.Marshal(map[string]string{"error": c.t.errorFrame})
		c.pending = append(c.pending, reply)
		return nil
	}

	// Sealed frame: derive the receiver from the first frame's encap, open,
	// echo back sealed.
	if c.recv == nil {
		var err error
		c.recv, err = channel.NewReceiver(c.t.channelPrivateKey, data[:channel.EncapsulatedKeySize])
		if err != nil {
			return err
		}
		data = data[channel.EncapsulatedKeySize:]
	}
	payload, err := c.recv.Open(data)
	if err != nil {
		return err
	}
	sealed := c.recv.SealResponse(payload)
	if c.t.breakResponse {
		sealed[0] ^= 0xff
	}
	reply, _ := json.Marshal(map[string]string{
		"message": base64.StdEncoding.EncodeToString(sealed),
	})
	c.pending = append(c.pending, reply)
	return nil
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if len(c.pending) == 0 {
		return nil, fmt.Errorf("%w: no pending frames", interfaces.ErrTransport)
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	return next, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newFakeClient(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()

	publicKey, privateKey, err := channel.GenerateKeyPair()
	require.NoError(t, err)

	transport := &fakeTransport{channelPrivateKey: privateKey}
	client, err := NewClient(Config{
		GatewayURL:  "wss://gateway.test",
		Verifier:    &fakeVerifier{doc: &attestation.Document{PublicKey: publicKey}},
		Credentials: credstore.NewStaticProvider("token"),
		Transport:   transport,
	})
	require.NoError(t, err)
	return client, transport
}

func testFunction(t *testing.T) interfaces.FunctionRef {
	t.Helper()
	fn, err := interfaces.NewFunctionRef("fn-1", "", "")
	require.NoError(t, err)
	return fn
}

func TestConnectInvokeClose(t *testing.T) {
	client, _ := newFakeClient(t)

	sess, err := client.Connect(context.Background(), testFunction(t))
	require.NoError(t, err)
	assert.Equal(t, StateChannelReady, sess.State())
	assert.NotNil(t, sess.Document())

	payload := []byte("request payload")
	result, err := sess.Invoke(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, result)
	assert.Equal(t, StateChannelReady, sess.State())

	require.NoError(t, sess.Close())
	assert.Equal(t, StateClosed, sess.State())
	assert.Nil(t, sess.Document())
}

func TestSequentialInvokes(t *testing.T) {
	client, _ := newFakeClient(t)

	sess, err := client.Connect(context.Background(), testFunction(t))
	require.NoError(t, err)
	defer sess.Close()

	for i := 0; i < 3; i++ {
		payload := []byte{byte(i)}
		result, err := sess.Invoke(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, payload, result)
	}
}

func TestInvokeAfterCloseFails(t *testing.T) {
	client, _ := newFakeClient(t)

	sess, err := client.Connect(context.Background(), testFunction(t))
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err = sess.Invoke(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, interfaces.ErrNotConnected)
}

func TestConnectFailsClosedOnRejectedAttestation(t *testing.T) {
	_, privateKey, err := channel.GenerateKeyPair()
	require.NoError(t, err)

	transport := &fakeTransport{channelPrivateKey: privateKey}
	client, err := NewClient(Config{
		GatewayURL:  "wss://gateway.test",
		Verifier:    &fakeVerifier{err: interfaces.ErrInvalidSignature},
		Credentials: credstore.NewStaticProvider("token"),
		Transport:   transport,
	})
	require.NoError(t, err)

	_, err = client.Connect(context.Background(), testFunction(t))
	require.ErrorIs(t, err, interfaces.ErrInvalidSignature)
	assert.True(t, transport.lastConn.closed)
}

func TestInvokeFailsClosedOnTamperedResponse(t *testing.T) {
	client, transport := newFakeClient(t)
	transport.breakResponse = true

	sess, err := client.Connect(context.Background(), testFunction(t))
	require.NoError(t, err)

	_, err = sess.Invoke(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, interfaces.ErrDecryption)
	assert.Equal(t, StateClosed, sess.State())

	_, err = sess.Invoke(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, interfaces.ErrNotConnected)
}

func TestInvokeFailsClosedOnGatewayError(t *testing.T) {
	client, transport := newFakeClient(t)

	sess, err := client.Connect(context.Background(), testFunction(t))
	require.NoError(t, err)
	transport.errorFrame = "function crashed"

	_, err = sess.Invoke(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, interfaces.ErrTransport)
	assert.Equal(t, StateClosed, sess.State())
}

func TestConnectWithoutCredentialFails(t *testing.T) {
	_, privateKey, err := channel.GenerateKeyPair()
	require.NoError(t, err)

	client, err := NewClient(Config{
		GatewayURL: "wss://gateway.test",
		Verifier:   &fakeVerifier{},
		Transport:  &fakeTransport{channelPrivateKey: privateKey},
	})
	require.NoError(t, err)

	_, err = client.Connect(context.Background(), testFunction(t))
	require.ErrorIs(t, err, interfaces.ErrCredentialNotFound)
}
