package enclave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/tee-function-client/attestation"
	"github.com/ruteri/tee-function-client/channel"
	"github.com/ruteri/tee-function-client/interfaces"
	"github.com/ruteri/tee-function-client/trustroot"
)

const (
	functionPathPrefix = "/v1/run/"
	keyPath            = "/v1/key"

	defaultConnectTimeout = 30 * time.Second
)

// Config assembles a Client. GatewayURL and TrustRoot are required; the
// zero value of everything else picks a sensible default.
type Config struct {
	// GatewayURL is the enclave gateway base URL (wss:// or https://).
	GatewayURL string

	// TrustRoot anchors attestation verification.
	TrustRoot *trustroot.Store

	// Verifier overrides the document verifier. Defaults to a Nitro-style
	// COSE/CBOR verifier over TrustRoot.
	Verifier attestation.Verifier

	// Credentials resolves the default credential for functions that do not
	// carry their own.
	Credentials interfaces.CredentialProvider

	// Measurements, if non-empty, maps register index to accepted hex digest
	// values; documents whose registers fall outside the set are rejected.
	Measurements map[int][]string

	// ConnectTimeout bounds the dial plus attestation handshake. Zero means
	// 30 seconds.
	ConnectTimeout time.Duration

	// Transport overrides the websocket transport, for tests.
	Transport Transport

	Log *slog.Logger
}

// Client connects to deployed enclave functions. It is immutable after
// construction and safe for concurrent use; each Connect yields an
// independent session.
type Client struct {
	gatewayURL     string
	verifier       attestation.Verifier
	credentials    interfaces.CredentialProvider
	measurements   map[int][]string
	connectTimeout time.Duration
	transport      Transport
	log            *slog.Logger
}

// NewClient validates the config and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("gateway URL is required")
	}
	verifier := cfg.Verifier
	if verifier == nil {
		if cfg.TrustRoot == nil {
			return nil, errors.New("a trust root (or explicit verifier) is required")
		}
		verifier = attestation.NewNitroVerifier(cfg.TrustRoot.Pool())
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewWebsocketTransport(connectTimeout)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		gatewayURL:     cfg.GatewayURL,
		verifier:       verifier,
		credentials:    cfg.Credentials,
		measurements:   cfg.Measurements,
		connectTimeout: connectTimeout,
		transport:      transport,
		log:            log,
	}, nil
}

// Connect establishes a verified, encrypted session to the given function.
//
// The connection proceeds through authentication, attestation and channel
// derivation; if any step fails, the connection is torn down and no session
// is returned. The caller owns the returned session and must Close it.
func (c *Client) Connect(ctx context.Context, fn interfaces.FunctionRef) (*Session, error) {
	auth, err := c.authFor(ctx, fn)
	if err != nil {
		return nil, err
	}
	endpoint, err := websocketEndpoint(c.gatewayURL, functionPathPrefix+fn.ID())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	sess := &Session{state: StateDisconnected, fn: fn, log: c.log}

	conn, err := c.transport.Connect(ctx, endpoint, auth)
	if err != nil {
		return nil, err
	}
	sess.conn = conn
	sess.state = StateAuthenticating

	doc, err := c.attest(ctx, conn, attestation.Expectation{
		IntegrityHash: fn.IntegrityHash(),
		Measurements:  c.measurements,
	}, &sess.state)
	if err != nil {
		sess.failLocked("attest", err)
		return nil, err
	}

	secure, err := channel.Establish(doc.PublicKey)
	if err != nil {
		sess.failLocked("channel", err)
		return nil, err
	}

	sess.doc = doc
	sess.channel = secure
	sess.state = StateChannelReady
	c.log.Debug("Session established",
		slog.String("function", fn.String()),
		slog.String("module", doc.ModuleID),
	)
	return sess, nil
}

// Run is the one-shot composition: connect, invoke once, close. It is
// equivalent to Connect + Invoke + Close with the same failure semantics.
func (c *Client) Run(ctx context.Context, fn interfaces.FunctionRef, payload []byte) ([]byte, error) {
	sess, err := c.Connect(ctx, fn)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.Invoke(ctx, payload)
}

// attest runs the nonce handshake on a fresh connection and verifies the
// returned document. The nonce expectation is filled in here; everything
// else comes from the caller.
func (c *Client) attest(ctx context.Context, conn Conn, expected attestation.Expectation, state *State) (*attestation.Document, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	req, err := encodeNonceFrame(nonce)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(ctx, req); err != nil {
		return nil, err
	}
	*state = StateAttesting

	raw, err := conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	docBytes, err := decodeDataFrame(raw)
	if err != nil {
		return nil, err
	}

	expected.Nonce = []byte(nonce)
	doc, err := c.verifier.Verify(docBytes, expected)
	if err != nil {
		return nil, fmt.Errorf("attestation rejected: %w", err)
	}
	return doc, nil
}

// authFor picks the credential for a function: the function-scoped one if
// the reference carries it, the provider's default otherwise.
func (c *Client) authFor(ctx context.Context, fn interfaces.FunctionRef) (interfaces.Auth, error) {
	if cred := fn.Credential(); cred != "" {
		return interfaces.FunctionAuth(cred), nil
	}
	if c.credentials == nil {
		return interfaces.Auth{}, fmt.Errorf("%w: no credential provider configured", interfaces.ErrCredentialNotFound)
	}
	cred, err := c.credentials.DefaultCredential(ctx)
	if err != nil {
		return interfaces.Auth{}, err
	}
	return interfaces.AccountAuth(cred), nil
}
