package client

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// SuccessAuthKey is the bearer token the mock key server accepts.
	SuccessAuthKey = "success-token"

	// WrongNonceAuthKey makes the mock server answer with a validly encrypted
	// response that echoes the wrong nonce, simulating a replayed or
	// mismatched response.
	WrongNonceAuthKey = "wrong-nonce-token"

	// TamperedAuthKey makes the mock server corrupt the response ciphertext
	// after sealing it.
	TamperedAuthKey = "tampered-token"

	// ServerErrorAuthKey makes the mock server respond with a 500.
	ServerErrorAuthKey = "server-error-token"

	// maxRequestAge is how far in the past the mock server accepts request
	// timestamps.
	maxRequestAge = time.Minute
)

// MockSharingResponseJSON is the key list the mock server returns by default.
// Site 25 has two keys with overlapping windows; key 2500 is unscoped.
const MockSharingResponseJSON = `{
  "caller_site_id": 11,
  "master_keyset_id": 1,
  "token_expiry_seconds": 2592000,
  "keys": [
    {"id": 2500, "created": 1609459200, "activates": 1609462800, "expires": 4102444800, "secret": "DD67xF8OFmbJ1/lMPQ6fGRDbJOT4kXErrYWcKdFfCUE="},
    {"id": 2601, "site_id": 25, "created": 1609459200, "activates": 1609462800, "expires": 4102444800, "secret": "cgDYNnFtWyUNuzfKGkUjmyEsiDnznkVhsRWSREkDaqs="},
    {"id": 2602, "site_id": 25, "created": 1612137600, "activates": 1612141200, "expires": 4102444800, "secret": "O5l0ovtccT4fHmWkU7+Lyf6BgbRNUmcb5LYANACudtU="}
  ]
}`

type mockKeyServer struct {
	t    testing.TB
	aead cipher.AEAD
	body []byte
}

// MockKeyServer starts a server which mocks the key-sharing service,
// implementing the server side of the envelope protocol under the supplied
// base64-encoded pre-shared secret. It returns the base URL to supply to New.
//
// The mock accepts requests authenticated with SuccessAuthKey; the other
// *AuthKey tokens trigger the corresponding failure responses. If body is
// nil, MockSharingResponseJSON is served.
func MockKeyServer(t testing.TB, secretKey string, body []byte) string {
	secret, err := base64.StdEncoding.DecodeString(secretKey)
	require.NoError(t, err)

	block, err := aes.NewCipher(secret)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	if body == nil {
		body = []byte(MockSharingResponseJSON)
	}

	mks := &mockKeyServer{
		t:    t,
		aead: aead,
		body: body,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(apiPathKeySharing, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		mks.handleKeySharing(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server.URL
}

func (mks *mockKeyServer) handleKeySharing(w http.ResponseWriter, r *http.Request) {
	mks.t.Log(r.Method, r.RequestURI)

	if r.Header.Get("User-Agent") == "" {
		http.Error(w, "should set user agent on all requests", http.StatusInternalServerError)
		return
	}

	if r.Header.Get(headerClientVersion) == "" {
		http.Error(w, "should set client version header on all requests", http.StatusInternalServerError)
		return
	}

	authKey := ""
	if auth := r.Header.Get("Authorization"); len(auth) > len("Bearer ") {
		authKey = auth[len("Bearer "):]
	}

	switch authKey {
	case SuccessAuthKey, WrongNonceAuthKey, TamperedAuthKey:
	case ServerErrorAuthKey:
		http.Error(w, "mock error", http.StatusInternalServerError)
		return
	default:
		http.Error(w, "should authenticate using the correct bearer token", http.StatusUnauthorized)
		return
	}

	encoded, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		http.Error(w, "request body should be base64", http.StatusBadRequest)
		return
	}

	if len(raw) < 1 || raw[0] != 1 {
		http.Error(w, "request envelope should carry protocol version 1", http.StatusBadRequest)
		return
	}

	sealed := raw[1:]
	if len(sealed) < 12+mks.aead.Overhead() {
		http.Error(w, "request envelope too short", http.StatusBadRequest)
		return
	}

	plaintext, err := mks.aead.Open(nil, sealed[:12], sealed[12:], nil)
	if err != nil {
		http.Error(w, "failed to decrypt request envelope", http.StatusBadRequest)
		return
	}

	if len(plaintext) != 16 {
		http.Error(w, "request payload should be timestamp plus nonce", http.StatusBadRequest)
		return
	}

	ts := time.UnixMilli(int64(binary.BigEndian.Uint64(plaintext[:8]))).UTC()
	if age := time.Since(ts); age < -maxRequestAge || age > maxRequestAge {
		http.Error(w, "request timestamp is stale", http.StatusBadRequest)
		return
	}

	nonce := make([]byte, 8)
	copy(nonce, plaintext[8:16])
	if authKey == WrongNonceAuthKey {
		nonce[0] ^= 0xff
	}

	response := make([]byte, 0, 16+len(mks.body))
	response = append(response, plaintext[:8]...)
	response = append(response, nonce...)
	response = append(response, []byte(`{"status":"success","body":`)...)
	response = append(response, mks.body...)
	response = append(response, '}')

	iv := make([]byte, 12)
	_, err = rand.Read(iv)
	require.NoError(mks.t, err)

	sealedResponse := mks.aead.Seal(iv, iv, response, nil)

	if authKey == TamperedAuthKey {
		sealedResponse[len(sealedResponse)-1] ^= 0x01
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(sealedResponse)))
}
