// Package envelope implements the versioned AES-GCM envelope carried between
// this client and the key-sharing service.
//
// Each request wraps an 8-byte big-endian millisecond timestamp and an 8-byte
// random nonce, sealed under a pre-shared symmetric key. The service echoes
// the timestamp and nonce back at the front of the encrypted response, which
// lets a single shared secret bind a response to its request without any
// session state on the client: a response carrying the wrong nonce is a
// replay (or a response to someone else's request) and its payload must be
// discarded.
//
// The first byte of every request envelope is a protocol version marker, so
// future envelope formats can be introduced without breaking old clients.
package envelope
