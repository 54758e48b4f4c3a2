// Package keys holds the encryption keys fetched from the key-sharing
// service and indexes them for lookup.
//
// A Collection is built once from the batch of keys returned by a single
// protocol round-trip and is immutable afterwards: concurrent readers may
// share it freely without locking. A refresh produces a brand-new Collection;
// swapping the reference readers use is the caller's responsibility.
package keys
