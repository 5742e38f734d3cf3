package credstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/ruteri/tee-function-client/interfaces"
)

// tokenField is the KV field holding the credential.
const tokenField = "token"

// VaultProvider fetches the credential from a Vault KV v2 secret.
type VaultProvider struct {
	client *vault.Client
	mount  string
	path   string
}

// NewVaultProvider creates a provider from a location URI.
//
// URI format: vault://vault.example.com:8200/secret/enclave-client
// where the first path segment is the KV v2 mount and the rest is the secret
// path. The VAULT_TOKEN environment variable supplies the Vault token, per
// the Vault client's defaults.
func NewVaultProvider(locationURI string) (*VaultProvider, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid vault credential URI: %w", err)
	}

	mount, secretPath, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || mount == "" || secretPath == "" {
		return nil, fmt.Errorf("vault credential URI needs /<mount>/<path>: %s", locationURI)
	}

	config := vault.DefaultConfig()
	config.Address = "https://" + u.Host
	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	return &VaultProvider{client: client, mount: mount, path: secretPath}, nil
}

func (p *VaultProvider) DefaultCredential(ctx context.Context) (interfaces.Credential, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		return "", fmt.Errorf("could not read credential from vault: %w", err)
	}
	raw, ok := secret.Data[tokenField]
	if !ok {
		return "", fmt.Errorf("%w: vault secret %s/%s has no %q field", interfaces.ErrCredentialNotFound, p.mount, p.path, tokenField)
	}
	token, ok := raw.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("%w: vault secret %s/%s has empty %q field", interfaces.ErrCredentialNotFound, p.mount, p.path, tokenField)
	}
	return interfaces.Credential(token), nil
}
