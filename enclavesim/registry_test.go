package enclavesim

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	code := []byte("function code")
	fn := registry.Register("fn-1", code, Echo)
	sum := sha256.Sum256(code)
	assert.Equal(t, sum[:], fn.Checksum)

	got, err := registry.Get("fn-1")
	require.NoError(t, err)
	assert.Equal(t, fn, got)

	_, err = registry.Get("missing")
	require.Error(t, err)
}

func TestEcho(t *testing.T) {
	out, err := Echo(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
}
