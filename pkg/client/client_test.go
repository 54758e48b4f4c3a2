package client_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"

	"github.com/keybound/keyshare/pkg/client"
	"github.com/keybound/keyshare/pkg/keys"

	_ "k8s.io/klog/v2/ktesting/init"
)

// newTestSecret returns a fresh base64-encoded 32-byte pre-shared secret.
func newTestSecret(t *testing.T) string {
	t.Helper()

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(secret)
}

func testContext(t *testing.T) klog.Logger {
	return ktesting.NewLogger(t, ktesting.DefaultConfig)
}

func TestNew_Validation(t *testing.T) {
	secret := newTestSecret(t)

	tests := []struct {
		name      string
		baseURL   string
		authKey   string
		secretKey string
		wantErr   string
	}{
		{"empty base URL", "", "auth", secret, "baseURL cannot be empty"},
		{"empty auth key", "https://example.com", "", secret, "authKey cannot be empty"},
		{"secret not base64", "https://example.com", "auth", "!!!", "secretKey is not valid base64"},
		{"secret wrong length", "https://example.com", "auth", base64.StdEncoding.EncodeToString([]byte("short")), "invalid key size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.New(tc.baseURL, tc.authKey, tc.secretKey, nil)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

// TestClient_RefreshKeys_MockAPI tests the full round-trip against a mock key
// server sharing the same pre-shared secret. The mock is configured to return
// different failure modes based on the bearer token used in the request.
func TestClient_RefreshKeys_MockAPI(t *testing.T) {
	tests := []struct {
		name      string
		authKey   string
		requireFn func(t *testing.T, collection *keys.Collection, err error)
	}{
		{
			name:    "successful refresh",
			authKey: client.SuccessAuthKey,
			requireFn: func(t *testing.T, collection *keys.Collection, err error) {
				require.NoError(t, err)
				require.Equal(t, 3, collection.Len())

				// Both site-25 keys are active; the most recently activated
				// one wins.
				key, ok := collection.ActiveSiteKey(25, time.Now().UTC())
				require.True(t, ok)
				assert.Equal(t, int64(2602), key.ID)

				// The unscoped key is reachable by id only.
				_, ok = collection.Get(2500)
				assert.True(t, ok)

				assert.True(t, collection.Valid(time.Now().UTC()))
				assert.Equal(t, 11, collection.Metadata().CallerSiteID)
			},
		},
		{
			name:    "error when bearer token is incorrect",
			authKey: "bogus-token",
			requireFn: func(t *testing.T, _ *keys.Collection, err error) {
				require.ErrorContains(t, err, "received response with status code 401")
			},
		},
		{
			name:    "error when server fails",
			authKey: client.ServerErrorAuthKey,
			requireFn: func(t *testing.T, _ *keys.Collection, err error) {
				require.ErrorContains(t, err, "received response with status code 500")
			},
		},
		{
			name:    "tampered response fails authentication",
			authKey: client.TamperedAuthKey,
			requireFn: func(t *testing.T, collection *keys.Collection, err error) {
				require.ErrorIs(t, err, client.ErrDecryptionFailed)
				assert.Nil(t, collection)
			},
		},
		{
			name:    "replayed response fails nonce validation",
			authKey: client.WrongNonceAuthKey,
			requireFn: func(t *testing.T, collection *keys.Collection, err error) {
				require.ErrorIs(t, err, client.ErrNonceMismatch)
				assert.Nil(t, collection)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := klog.NewContext(context.Background(), testContext(t))

			secret := newTestSecret(t)
			baseURL := client.MockKeyServer(t, secret, nil)

			c, err := client.New(baseURL, tc.authKey, secret, nil)
			require.NoError(t, err)

			collection, err := c.RefreshKeys(ctx)
			tc.requireFn(t, collection, err)
		})
	}
}

func TestClient_RefreshKeys_MismatchedSecret(t *testing.T) {
	ctx := klog.NewContext(context.Background(), testContext(t))

	// Server and client disagree on the pre-shared secret: the server cannot
	// even open the request envelope.
	baseURL := client.MockKeyServer(t, newTestSecret(t), nil)

	c, err := client.New(baseURL, client.SuccessAuthKey, newTestSecret(t), nil)
	require.NoError(t, err)

	_, err = c.RefreshKeys(ctx)
	require.ErrorContains(t, err, "received response with status code 400")
}

func TestClient_RefreshKeys_MalformedKeyList(t *testing.T) {
	ctx := klog.NewContext(context.Background(), testContext(t))

	secret := newTestSecret(t)
	body := []byte(`{"keys": [{"site_id": 25, "secret": "AAAA"}]}`)
	baseURL := client.MockKeyServer(t, secret, body)

	c, err := client.New(baseURL, client.SuccessAuthKey, secret, nil)
	require.NoError(t, err)

	_, err = c.RefreshKeys(ctx)
	require.ErrorContains(t, err, "missing id")
}

func TestClient_RefreshKeys_CachesCollection(t *testing.T) {
	ctx := klog.NewContext(context.Background(), testContext(t))

	secret := newTestSecret(t)
	baseURL := client.MockKeyServer(t, secret, nil)

	c, err := client.New(baseURL, client.SuccessAuthKey, secret, nil)
	require.NoError(t, err)

	first, err := c.RefreshKeys(ctx)
	require.NoError(t, err)

	second, err := c.RefreshKeys(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second, "a collection fetched within the TTL is served from cache")
}

func TestClient_RefreshJSON(t *testing.T) {
	secret := newTestSecret(t)

	c, err := client.New("https://unused.example.com", client.SuccessAuthKey, secret, nil)
	require.NoError(t, err)

	collection, err := c.RefreshJSON([]byte(`{"body":` + client.MockSharingResponseJSON + `}`))
	require.NoError(t, err)
	assert.Equal(t, 3, collection.Len())

	_, err = c.RefreshJSON([]byte(`{}`))
	require.ErrorContains(t, err, "no body")

	_, err = c.RefreshJSON([]byte(`not json`))
	require.ErrorContains(t, err, "failed to parse key-sharing response body")
}
