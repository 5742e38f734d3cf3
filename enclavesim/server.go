package enclavesim

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/ruteri/tee-function-client/channel"
)

const (
	protocolFunction = "enclave.function"
	protocolAccount  = "enclave.runtime"
)

// Config holds the simulator server settings.
type Config struct {
	ListenAddr string
	Log        *slog.Logger

	// Credentials, if non-empty, is the set of accepted bearer credentials.
	// An empty set accepts any non-empty credential.
	Credentials map[string]bool

	// IdleTimeout bounds how long a session may sit between frames. Zero
	// means 60 seconds.
	IdleTimeout time.Duration

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server is the simulated enclave gateway.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	isReady  atomic.Bool
	identity *Identity
	registry *Registry

	srv      *http.Server
	upgrader websocket.Upgrader
}

func New(cfg *Config, identity *Identity, registry *Registry) (*Server, error) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	srv := &Server{
		cfg:      cfg,
		log:      cfg.Log,
		identity: identity,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.With(s.httpLogger).Get("/v1/run/{function_id}", s.handleRun)
	mux.With(s.httpLogger).Get("/v1/key", s.handleKey)

	mux.With(s.httpLogger).Get("/livez", s.handleLivenessCheck)
	mux.With(s.httpLogger).Get("/readyz", s.handleReadinessCheck)
	mux.With(s.httpLogger).Get("/drain", s.handleDrain)
	mux.With(s.httpLogger).Get("/undrain", s.handleUndrain)
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Handler returns the simulator's HTTP handler, for mounting on an
// httptest server.
func (s *Server) Handler() http.Handler {
	return s.getRouter()
}

// checkAuth validates the subprotocol pair [auth variant, credential] the
// client offered. It returns the variant to echo back in the upgrade.
func (s *Server) checkAuth(r *http.Request) (string, error) {
	protocols := websocket.Subprotocols(r)
	if len(protocols) != 2 {
		return "", errors.New("missing authentication subprotocols")
	}
	variant, credential := protocols[0], protocols[1]
	if variant != protocolFunction && variant != protocolAccount {
		return "", fmt.Errorf("unknown auth variant: %s", variant)
	}
	if credential == "" {
		return "", errors.New("empty credential")
	}
	if len(s.cfg.Credentials) > 0 && !s.cfg.Credentials[credential] {
		return "", errors.New("credential rejected")
	}
	return variant, nil
}

type simFrame struct {
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type simNonce struct {
	Nonce string `json:"nonce"`
}

func writeErrorFrame(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(simFrame{Error: msg})
}

func writeDataFrame(conn *websocket.Conn, data []byte, msgType string) error {
	inner, err := json.Marshal(map[string]string{
		"message": base64.StdEncoding.EncodeToString(data),
		"type":    msgType,
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(simFrame{Message: inner})
}

// readNonce waits for the client's handshake frame and extracts the nonce.
func (s *Server) readNonce(conn *websocket.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f simFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed handshake frame: %w", err)
	}
	var n simNonce
	if err := json.Unmarshal(f.Message, &n); err != nil || n.Nonce == "" {
		return nil, errors.New("handshake frame carries no nonce")
	}
	return []byte(n.Nonce), nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	variant, err := s.checkAuth(r)
	if err != nil {
		s.log.Warn("Rejected connection", slog.Any("err", err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	functionID := chi.URLParam(r, "function_id")
	conn, err := s.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": {variant},
	})
	if err != nil {
		return
	}
	defer conn.Close()

	nonce, err := s.readNonce(conn)
	if err != nil {
		s.log.Warn("Handshake failed", slog.Any("err", err))
		return
	}

	fn, err := s.registry.Get(functionID)
	if err != nil {
		writeErrorFrame(conn, err.Error())
		return
	}

	publicKey, privateKey, err := channel.GenerateKeyPair()
	if err != nil {
		writeErrorFrame(conn, "internal error")
		return
	}
	userData, err := FunctionUserData(fn.Checksum)
	if err != nil {
		writeErrorFrame(conn, "internal error")
		return
	}
	doc, err := s.identity.Attest(DocumentParams{
		Nonce:     nonce,
		PublicKey: publicKey,
		UserData:  userData,
	})
	if err != nil {
		s.log.Error("Could not sign attestation document", slog.Any("err", err))
		writeErrorFrame(conn, "internal error")
		return
	}
	if err := writeDataFrame(conn, doc, "attestation_doc"); err != nil {
		return
	}

	s.serveInvokes(r.Context(), conn, fn, privateKey)
}

// serveInvokes terminates the encrypted channel: the first frame carries the
// encapsulated key, every frame is opened, handled, and answered with a
// sealed result.
func (s *Server) serveInvokes(ctx context.Context, conn *websocket.Conn, fn *Function, channelPrivateKey []byte) {
	var receiver *channel.ReceiverContext

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if receiver == nil {
			if len(frame) < channel.EncapsulatedKeySize {
				writeErrorFrame(conn, "first frame shorter than encapsulated key")
				return
			}
			receiver, err = channel.NewReceiver(channelPrivateKey, frame[:channel.EncapsulatedKeySize])
			if err != nil {
				writeErrorFrame(conn, "channel setup failed")
				return
			}
			frame = frame[channel.EncapsulatedKeySize:]
		}

		payload, err := receiver.Open(frame)
		if err != nil {
			writeErrorFrame(conn, "decryption failed")
			return
		}

		result, err := fn.Handler(ctx, payload)
		if err != nil {
			writeErrorFrame(conn, err.Error())
			return
		}
		if err := writeDataFrame(conn, receiver.SealResponse(result), "function_result"); err != nil {
			return
		}
	}
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	variant, err := s.checkAuth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": {variant},
	})
	if err != nil {
		return
	}
	defer conn.Close()

	nonce, err := s.readNonce(conn)
	if err != nil {
		return
	}

	// The key endpoint derives no channel; the ephemeral key slot still
	// carries a fresh key so documents are uniform.
	publicKey, _, err := channel.GenerateKeyPair()
	if err != nil {
		writeErrorFrame(conn, "internal error")
		return
	}
	userData, err := KeyUserData(s.identity.AccountKeyPEM())
	if err != nil {
		writeErrorFrame(conn, "internal error")
		return
	}
	doc, err := s.identity.Attest(DocumentParams{
		Nonce:     nonce,
		PublicKey: publicKey,
		UserData:  userData,
	})
	if err != nil {
		writeErrorFrame(conn, "internal error")
		return
	}
	_ = writeDataFrame(conn, doc, "attestation_doc")
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Swap(false) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}
	s.log.Info("Server marked as not ready")
	go func() {
		time.Sleep(s.cfg.DrainDuration)
		s.log.Info("Drain period completed")
	}()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.isReady.Swap(true) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}
	s.log.Info("Server marked as ready")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("Starting simulator server", slog.String("listenAddress", s.cfg.ListenAddr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Simulator server failed", slog.Any("err", err))
		}
	}()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("Graceful simulator shutdown failed", slog.Any("err", err))
	} else {
		s.log.Info("Simulator server gracefully stopped")
	}
}
