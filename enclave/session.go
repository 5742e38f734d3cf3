package enclave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-function-client/attestation"
	"github.com/ruteri/tee-function-client/channel"
	"github.com/ruteri/tee-function-client/interfaces"
)

// Session is one verified, encrypted connection to a deployed function.
// Sessions are created by Client.Connect and must be closed by the caller.
// All methods are safe for concurrent use; invokes are serialized.
type Session struct {
	mu sync.Mutex

	state     State
	conn      Conn
	channel   *channel.Context
	doc       *attestation.Document
	fn        interfaces.FunctionRef
	sentEncap bool

	log *slog.Logger
}

// Function returns the reference this session was connected for.
func (s *Session) Function() interfaces.FunctionRef { return s.fn }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Document returns the verified attestation document the session was
// established against, or nil once the session is closed.
func (s *Session) Document() *attestation.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Invoke seals the payload, sends it to the function, and returns the opened
// response plaintext. Concurrent calls are serialized; the channel state
// admits exactly one request in flight.
//
// Invoke on a session that is not channel-ready fails with ErrNotConnected.
// Transport and decryption failures are fatal: the session fails closed and
// subsequent calls return ErrNotConnected.
func (s *Session) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateChannelReady {
		return nil, fmt.Errorf("%w: session is %s", interfaces.ErrNotConnected, s.state)
	}
	s.state = StateInvoking

	sealed, err := s.channel.Seal(payload)
	if err != nil {
		s.failLocked("seal", err)
		return nil, err
	}

	// The encapsulated key rides along with the first sealed frame only; the
	// enclave derives its channel context from it.
	frame := sealed
	if !s.sentEncap {
		frame = append(append([]byte{}, s.channel.EncapsulatedKey()...), sealed...)
	}

	if err := s.conn.WriteMessage(ctx, frame); err != nil {
		s.failLocked("write", err)
		return nil, err
	}
	s.sentEncap = true

	raw, err := s.conn.ReadMessage(ctx)
	if err != nil {
		s.failLocked("read", err)
		return nil, err
	}
	sealedResp, err := decodeDataFrame(raw)
	if err != nil {
		s.failLocked("frame", err)
		return nil, err
	}
	plaintext, err := s.channel.Open(sealedResp)
	if err != nil {
		s.failLocked("open", err)
		return nil, err
	}

	s.state = StateChannelReady
	return plaintext, nil
}

// Close tears the session down: the connection is closed and the channel's
// key material is zeroed. Close is idempotent and always safe to call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.closeLocked()
	s.log.Debug("Session closed", slog.String("function", s.fn.String()))
	return nil
}

// failLocked handles a fatal mid-session error: log, tear down, land in the
// closed state. Callers must hold s.mu.
func (s *Session) failLocked(stage string, err error) {
	s.log.Error("Session failed, closing",
		slog.String("function", s.fn.String()),
		slog.String("stage", stage),
		slog.Any("err", err),
	)
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.doc = nil
	s.state = StateClosed
}
