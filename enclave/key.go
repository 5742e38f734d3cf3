package enclave

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ruteri/tee-function-client/attestation"
	"github.com/ruteri/tee-function-client/interfaces"
)

// KeyOptions tune account key retrieval.
type KeyOptions struct {
	// CacheDir, if non-empty, is a directory where the fetched key is cached
	// per gateway host. Cached keys are returned without contacting the
	// gateway.
	CacheDir string
}

// Key fetches the account's long-lived public key from the gateway's key
// endpoint. The key travels inside an attestation document and is only
// returned after the document verifies against the trust root, so the key is
// as trustworthy as the attestation itself.
func (c *Client) Key(ctx context.Context, opts KeyOptions) ([]byte, error) {
	cachePath, err := c.keyCachePath(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if cached, err := os.ReadFile(cachePath); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	auth, err := c.accountAuth(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := websocketEndpoint(c.gatewayURL, keyPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.transport.Connect(ctx, endpoint, auth)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// The key endpoint runs the same nonce handshake; no channel is derived
	// because nothing is invoked.
	state := StateAuthenticating
	doc, err := c.attest(ctx, conn, attestation.Expectation{}, &state)
	if err != nil {
		return nil, err
	}
	key, err := doc.AccountKey()
	if err != nil {
		return nil, err
	}

	if cachePath != "" {
		if err := writeKeyCache(cachePath, key); err != nil {
			c.log.Warn("Could not cache account key", slog.Any("err", err))
		}
	}
	return key, nil
}

func (c *Client) accountAuth(ctx context.Context) (interfaces.Auth, error) {
	if c.credentials == nil {
		return interfaces.Auth{}, fmt.Errorf("%w: no credential provider configured", interfaces.ErrCredentialNotFound)
	}
	cred, err := c.credentials.DefaultCredential(ctx)
	if err != nil {
		return interfaces.Auth{}, err
	}
	return interfaces.AccountAuth(cred), nil
}

func (c *Client) keyCachePath(cacheDir string) (string, error) {
	if cacheDir == "" {
		return "", nil
	}
	u, err := url.Parse(c.gatewayURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid gateway URL for key cache: %s", c.gatewayURL)
	}
	return filepath.Join(cacheDir, u.Hostname()+".pub.pem"), nil
}

func writeKeyCache(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, key, 0o600)
}
