package enclavesim

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// Handler runs one function invocation on decrypted request plaintext and
// returns the response plaintext.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Function is one registered simulated function.
type Function struct {
	ID       string
	Checksum []byte
	Handler  Handler
}

// Registry holds the simulator's deployed functions.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Function
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Function)}
}

// Register deploys a function under the given id. The checksum is computed
// over the code bytes, the way a real deployment hashes the uploaded
// function package.
func (r *Registry) Register(id string, code []byte, handler Handler) *Function {
	checksum := sha256.Sum256(code)
	fn := &Function{ID: id, Checksum: checksum[:], Handler: handler}

	r.mu.Lock()
	r.byID[id] = fn
	r.mu.Unlock()
	return fn
}

// Get looks a function up by id.
func (r *Registry) Get(id string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", id)
	}
	return fn, nil
}

// Echo returns the request payload unchanged. It is the default function for
// smoke tests.
func Echo(ctx context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}
