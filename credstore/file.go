package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/tee-function-client/interfaces"
)

// DefaultAuthFileName is the credential file looked up inside the config
// directory.
const DefaultAuthFileName = "auth.json"

// configDirName is the subdirectory of the user config dir holding client
// state.
const configDirName = "enclave-client"

// authFile is the on-disk credential format.
type authFile struct {
	Token string `json:"token"`
}

// StaticProvider returns a fixed credential. It backs explicit --credential
// flags and environment overrides.
type StaticProvider struct {
	credential interfaces.Credential
}

// NewStaticProvider wraps an already-obtained credential.
func NewStaticProvider(credential interfaces.Credential) *StaticProvider {
	return &StaticProvider{credential: credential}
}

func (p *StaticProvider) DefaultCredential(ctx context.Context) (interfaces.Credential, error) {
	if p.credential == "" {
		return "", interfaces.ErrCredentialNotFound
	}
	return p.credential, nil
}

// FileProvider reads the persisted credential from a JSON auth file.
type FileProvider struct {
	path string
}

// NewFileProvider reads credentials from the given file. An empty path
// resolves to <user config dir>/enclave-client/auth.json.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		confDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine config directory: %w", err)
		}
		path = filepath.Join(confDir, configDirName, DefaultAuthFileName)
	}
	return &FileProvider{path: path}, nil
}

func (p *FileProvider) DefaultCredential(ctx context.Context) (interfaces.Credential, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no auth file at %s", interfaces.ErrCredentialNotFound, p.path)
		}
		return "", fmt.Errorf("could not read auth file: %w", err)
	}

	var auth authFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return "", fmt.Errorf("malformed auth file %s: %w", p.path, err)
	}
	token := strings.TrimSpace(auth.Token)
	if token == "" {
		return "", fmt.Errorf("%w: auth file %s has no token", interfaces.ErrCredentialNotFound, p.path)
	}
	return interfaces.Credential(token), nil
}

// Store persists a credential to the provider's auth file, creating the
// directory if needed. The file is written with owner-only permissions.
func (p *FileProvider) Store(credential interfaces.Credential) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	data, err := json.Marshal(authFile{Token: string(credential)})
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("could not write auth file: %w", err)
	}
	return nil
}
