package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// ProtocolVersion is the envelope format marker prepended to every
	// request before base64 encoding.
	ProtocolVersion byte = 1

	// timestampSize is the size of the big-endian millisecond timestamp at
	// the front of every envelope payload.
	timestampSize = 8

	// NonceSize is the size of the random nonce sealed into each request and
	// echoed back by the service in the response.
	NonceSize = 8

	// gcmIVSize is the size of the AES-GCM IV in bytes. A fresh random IV is
	// generated per seal and prepended to the ciphertext. NB: IV sizes can be
	// security critical; reusing an IV with the same key breaks AES-GCM
	// completely.
	gcmIVSize = 12
)

var (
	// ErrDecryptionFailed is returned when a response envelope cannot be
	// authenticated and decrypted: tag mismatch, truncated input or corrupted
	// ciphertext. It indicates tampering, a key mismatch or protocol desync,
	// and is never retried by this package.
	ErrDecryptionFailed = errors.New("envelope decryption failed")

	// ErrNonceMismatch is returned when a response decrypts correctly but
	// echoes a nonce different from the one sent in the request. The payload
	// of such a response must never be used.
	ErrNonceMismatch = errors.New("envelope nonce mismatch")
)

// Request is an encoded request envelope together with the nonce sealed into
// it. The caller must retain the nonce to validate the matching response.
type Request struct {
	// Envelope is the base64-encoded versioned ciphertext, ready to be used
	// as an HTTP request body.
	Envelope []byte

	// Nonce is the random nonce sealed into the envelope.
	Nonce []byte
}

// Codec seals request envelopes and opens response envelopes under a single
// pre-shared AES key. A Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a Codec from the raw pre-shared key material. The key must
// be a valid AES key length (16, 24 or 32 bytes).
func NewCodec(secret []byte) (*Codec, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encode builds a request envelope carrying the supplied time and a fresh
// random nonce:
//
//	base64( version ‖ iv ‖ AES-GCM( timestamp_ms:8BE ‖ nonce:8 ) )
//
// The returned nonce must be kept and passed to Decode when the response
// arrives.
func (c *Codec) Encode(now time.Time) (Request, error) {
	payload := make([]byte, timestampSize+NonceSize)
	binary.BigEndian.PutUint64(payload[:timestampSize], uint64(now.UnixMilli()))

	nonce := payload[timestampSize:]
	if _, err := rand.Read(nonce); err != nil {
		return Request{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed, err := c.seal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encrypt request envelope: %w", err)
	}

	raw := make([]byte, 0, 1+len(sealed))
	raw = append(raw, ProtocolVersion)
	raw = append(raw, sealed...)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)

	// The nonce is returned as its own copy so it stays valid independently
	// of the payload buffer.
	out := make([]byte, NonceSize)
	copy(out, nonce)

	return Request{Envelope: encoded, Nonce: out}, nil
}

// Decode opens a response envelope and validates that it belongs to the
// request identified by expectedNonce.
//
// The decrypted plaintext is laid out as:
//
//	[0:8)  echoed request timestamp (ignored here)
//	[8:16) echoed nonce
//	[16:)  response payload
//
// It returns the response payload, ErrDecryptionFailed if the envelope cannot
// be authenticated, or ErrNonceMismatch if the echoed nonce differs from
// expectedNonce. The nonce comparison is constant time.
func (c *Codec) Decode(response []byte, expectedNonce []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(response)))
	n, err := base64.StdEncoding.Decode(raw, response)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := c.open(raw[:n])
	if err != nil {
		return nil, err
	}

	if len(plaintext) < timestampSize+NonceSize {
		return nil, fmt.Errorf("%w: plaintext too short (%d bytes)", ErrDecryptionFailed, len(plaintext))
	}

	echoed := plaintext[timestampSize : timestampSize+NonceSize]
	if subtle.ConstantTimeCompare(echoed, expectedNonce) != 1 {
		return nil, ErrNonceMismatch
	}

	return plaintext[timestampSize+NonceSize:], nil
}

// seal encrypts plaintext with a fresh random IV and returns iv ‖ ciphertext ‖ tag.
func (c *Codec) seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return c.aead.Seal(iv, iv, plaintext, nil), nil
}

// open decrypts iv ‖ ciphertext ‖ tag produced by the corresponding seal on
// the service side.
func (c *Codec) open(sealed []byte) ([]byte, error) {
	if len(sealed) < gcmIVSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrDecryptionFailed, len(sealed))
	}

	plaintext, err := c.aead.Open(nil, sealed[:gcmIVSize], sealed[gcmIVSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
