package trustroot

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
)

// Store holds the pinned trust root. It is created once per process, shared
// read-only between sessions, and refreshed only through Reload.
type Store struct {
	mu     sync.RWMutex
	certs  []*x509.Certificate
	raw    []byte
	loader Loader
}

// NewStore pins the given root certificate bytes (PEM or DER). The returned
// store has no loader attached, so Reload is not available.
func NewStore(rootBytes []byte) (*Store, error) {
	certs, err := parseCertificates(rootBytes)
	if err != nil {
		return nil, err
	}
	return &Store{certs: certs, raw: rootBytes}, nil
}

// newStoreWithLoader fetches the root through the loader and keeps the
// loader for later Reload calls.
func newStoreWithLoader(ctx context.Context, loader Loader) (*Store, error) {
	raw, err := loader.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	certs, err := parseCertificates(raw)
	if err != nil {
		return nil, err
	}
	return &Store{certs: certs, raw: raw, loader: loader}, nil
}

// Pool returns a certificate pool containing only the pinned root(s).
func (s *Store) Pool() *x509.CertPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool := x509.NewCertPool()
	for _, cert := range s.certs {
		pool.AddCert(cert)
	}
	return pool
}

// Certificates returns the pinned root certificates.
func (s *Store) Certificates() []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*x509.Certificate, len(s.certs))
	copy(out, s.certs)
	return out
}

// Reload re-fetches the root from its original location. Reload calls are
// serialized; readers keep seeing the previous root until the new one has
// been fetched and parsed successfully.
func (s *Store) Reload(ctx context.Context) error {
	if s.loader == nil {
		return errors.New("trust root was pinned directly, no loader to reload from")
	}

	raw, err := s.loader.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("could not re-fetch trust root: %w", err)
	}
	certs, err := parseCertificates(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.certs = certs
	s.raw = raw
	s.mu.Unlock()
	return nil
}

// parseCertificates accepts one or more PEM CERTIFICATE blocks, or a single
// DER certificate.
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("could not parse trust root certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) > 0 {
		return certs, nil
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("trust root is neither PEM nor DER certificate data: %w", err)
	}
	return []*x509.Certificate{cert}, nil
}
