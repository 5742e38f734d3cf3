package enclave

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ruteri/tee-function-client/interfaces"
)

// Gateway frames are JSON envelopes: {"message": ...} on success,
// {"error": "..."} on failure. The attestation document and sealed function
// results travel base64-encoded inside the message.

type frame struct {
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type nonceMessage struct {
	Nonce string `json:"nonce"`
}

type dataMessage struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// newNonce draws a fresh handshake nonce. It is sent as a hex string and
// must be echoed verbatim in the attestation document.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// encodeNonceFrame builds the handshake request carrying the nonce.
func encodeNonceFrame(nonce string) ([]byte, error) {
	msg, err := json.Marshal(nonceMessage{Nonce: nonce})
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Message: msg})
}

// decodeDataFrame parses a gateway frame and returns the base64-decoded
// inner message. A frame carrying an error field fails the session.
func decodeDataFrame(raw []byte) ([]byte, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed gateway frame: %w", interfaces.ErrTransport, err)
	}
	if f.Error != "" {
		return nil, fmt.Errorf("%w: gateway error: %s", interfaces.ErrTransport, f.Error)
	}
	if len(f.Message) == 0 {
		return nil, fmt.Errorf("%w: empty gateway frame", interfaces.ErrTransport)
	}

	// The inner message is either a bare base64 string or a data object
	// wrapping one.
	var encoded string
	if err := json.Unmarshal(f.Message, &encoded); err != nil {
		var data dataMessage
		if err := json.Unmarshal(f.Message, &data); err != nil {
			return nil, fmt.Errorf("%w: unrecognized gateway message: %w", interfaces.ErrTransport, err)
		}
		encoded = data.Message
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway message is not base64: %w", interfaces.ErrTransport, err)
	}
	return decoded, nil
}
