// Package client talks to the key-sharing service: it builds encrypted
// request envelopes, ships them over HTTP, decrypts and validates the
// responses, and turns them into immutable keys.Collection values.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/pmylund/go-cache"
	"k8s.io/klog/v2"

	"github.com/keybound/keyshare/internal/envelope"
	"github.com/keybound/keyshare/pkg/keys"
	"github.com/keybound/keyshare/pkg/version"
)

const (
	// apiPathKeySharing is the URL path of the key-sharing endpoint.
	apiPathKeySharing = "/v2/key/sharing"

	// headerClientVersion reports the SDK version to the service alongside
	// the User-Agent, so the service can track client adoption.
	headerClientVersion = "X-Keyshare-Client-Version"

	// maxResponseBodySize is the maximum allowed size for a response body
	// from the key-sharing endpoint.
	maxResponseBodySize = 1 * 1024 * 1024

	// collectionCacheKey is the cache key under which the most recently
	// fetched collection is stored.
	collectionCacheKey = "collection"

	// defaultMinRefreshInterval is how long a fetched collection is served
	// from cache before RefreshKeys hits the network again. It protects the
	// service from hot refresh loops; callers who need a longer cadence run a
	// Refresher instead.
	defaultMinRefreshInterval = time.Minute
)

// Sentinel errors from the envelope layer, re-exported so SDK consumers can
// match them with errors.Is.
var (
	// ErrDecryptionFailed reports a response that failed AEAD authentication.
	ErrDecryptionFailed = envelope.ErrDecryptionFailed

	// ErrNonceMismatch reports a response bound to a different request; its
	// payload has been discarded.
	ErrNonceMismatch = envelope.ErrNonceMismatch
)

// Client fetches encryption keys from the key-sharing service. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	authKey string

	codec *envelope.Codec

	// httpClient is the HTTP client used for requests
	httpClient *http.Client

	// cache holds the most recently fetched collection for a short TTL.
	cache *gocache.Cache
}

// New creates a key-sharing client. baseURL is the root of the service,
// authKey is the bearer token identifying the caller and secretKey is the
// base64-encoded pre-shared envelope key issued together with it. If
// httpClient is nil, a default client with a sane timeout is used.
func New(baseURL, authKey, secretKey string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("cannot create key-sharing client: baseURL cannot be empty")
	}
	if authKey == "" {
		return nil, fmt.Errorf("cannot create key-sharing client: authKey cannot be empty")
	}

	secret, err := base64.StdEncoding.DecodeString(secretKey)
	if err != nil {
		return nil, fmt.Errorf("secretKey is not valid base64: %w", err)
	}

	codec, err := envelope.NewCodec(secret)
	if err != nil {
		return nil, fmt.Errorf("cannot create key-sharing client: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Minute,
		}
	}

	return &Client{
		baseURL:    baseURL,
		authKey:    authKey,
		codec:      codec,
		httpClient: httpClient,
		cache:      gocache.New(defaultMinRefreshInterval, 10*time.Minute),
	}, nil
}

// sharingEnvelope is the outer JSON shape of the decrypted response payload.
type sharingEnvelope struct {
	Body json.RawMessage `json:"body"`
}

// RefreshKeys fetches the latest encryption keys from the service and returns
// them as a new immutable collection. A collection fetched within the last
// minute is returned from cache without a network round-trip.
//
// Envelope errors are surfaced unwrapped where it matters: callers can test
// for envelope.ErrDecryptionFailed and envelope.ErrNonceMismatch with
// errors.Is. Neither is retried here; a retry means issuing a whole new
// request with a fresh nonce, which is the Refresher's job.
func (c *Client) RefreshKeys(ctx context.Context) (*keys.Collection, error) {
	logger := klog.FromContext(ctx).WithName("keyshare")

	if cached, ok := c.cache.Get(collectionCacheKey); ok {
		collection := cached.(*keys.Collection)
		logger.V(2).Info("using cached key collection", "keys", collection.Len())
		return collection, nil
	}

	request, err := c.codec.Encode(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to build key-sharing request: %w", err)
	}

	body, err := c.post(ctx, apiPathKeySharing, bytes.NewReader(request.Envelope))
	if err != nil {
		return nil, err
	}

	payload, err := c.codec.Decode(body, request.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to open key-sharing response: %w", err)
	}

	collection, err := parseSharingPayload(payload)
	if err != nil {
		return nil, err
	}

	logger.V(1).Info("refreshed encryption keys", "keys", collection.Len())

	c.cache.SetDefault(collectionCacheKey, collection)

	return collection, nil
}

// RefreshJSON builds a collection from an already-decrypted key-sharing
// response body, as produced by out-of-band fetches or fixtures. It bypasses
// the envelope and the cache entirely.
func (c *Client) RefreshJSON(data []byte) (*keys.Collection, error) {
	return parseSharingPayload(data)
}

func parseSharingPayload(payload []byte) (*keys.Collection, error) {
	var outer sharingEnvelope
	if err := json.Unmarshal(payload, &outer); err != nil {
		return nil, fmt.Errorf("failed to parse key-sharing response body: %w", err)
	}
	if len(outer.Body) == 0 {
		return nil, fmt.Errorf("key-sharing response has no body")
	}

	return keys.ParseCollection(outer.Body)
}

// post performs an authenticated HTTP POST of an encoded envelope and returns
// the raw response body.
func (c *Client) post(ctx context.Context, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL(c.baseURL, path), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authKey))
	req.Header.Set(headerClientVersion, version.UserAgent())
	version.SetUserAgent(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, 500))
		if len(errBody) == 0 {
			errBody = []byte(`<empty body>`)
		}
		return nil, fmt.Errorf("received response with status code %d: %s", code, bytes.TrimSpace(errBody))
	}

	out, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(out) > maxResponseBodySize {
		return nil, fmt.Errorf("rejecting response from server as it was too large")
	}

	return out, nil
}
