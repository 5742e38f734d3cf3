package enclave

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-function-client/interfaces"
)

func TestNonceFrame(t *testing.T) {
	nonce, err := newNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, 32)

	second, err := newNonce()
	require.NoError(t, err)
	assert.NotEqual(t, nonce, second)

	raw, err := encodeNonceFrame(nonce)
	require.NoError(t, err)

	var f struct {
		Message struct {
			Nonce string `json:"nonce"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, nonce, f.Message.Nonce)
}

func TestDecodeDataFrame(t *testing.T) {
	payload := []byte("inner payload")
	encoded := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name    string
		raw     string
		want    []byte
		wantErr bool
	}{
		{
			name: "bare base64 string",
			raw:  `{"message":"` + encoded + `"}`,
			want: payload,
		},
		{
			name: "wrapped data object",
			raw:  `{"message":{"message":"` + encoded + `","type":"function_result"}}`,
			want: payload,
		},
		{
			name:    "error frame",
			raw:     `{"error":"function not found"}`,
			wantErr: true,
		},
		{
			name:    "empty frame",
			raw:     `{}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `not json at all`,
			wantErr: true,
		},
		{
			name:    "not base64",
			raw:     `{"message":"!!definitely not base64!!"}`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeDataFrame([]byte(tc.raw))
			if tc.wantErr {
				require.ErrorIs(t, err, interfaces.ErrTransport)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWebsocketEndpoint(t *testing.T) {
	tests := []struct {
		gateway string
		path    string
		want    string
		wantErr bool
	}{
		{gateway: "wss://gw.example.com", path: "/v1/key", want: "wss://gw.example.com/v1/key"},
		{gateway: "https://gw.example.com", path: "/v1/run/fn-1", want: "wss://gw.example.com/v1/run/fn-1"},
		{gateway: "http://127.0.0.1:8080", path: "/v1/key", want: "ws://127.0.0.1:8080/v1/key"},
		{gateway: "https://gw.example.com/base/", path: "/v1/key", want: "wss://gw.example.com/base/v1/key"},
		{gateway: "ftp://gw.example.com", path: "/v1/key", wantErr: true},
	}

	for _, tc := range tests {
		got, err := websocketEndpoint(tc.gateway, tc.path)
		if tc.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
