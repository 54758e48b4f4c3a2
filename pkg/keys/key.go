package keys

import "time"

// Key describes one symmetric encryption key and its temporal validity
// window. Keys are immutable once ingested into a Collection; callers must
// not modify the fields or the Secret slice.
type Key struct {
	// ID is the unique identifier of the key within a collection.
	ID int64

	// SiteID is the id of the site the key is scoped to. Values <= 0 mean
	// the key is not site-scoped and it will never be returned by site
	// lookups.
	SiteID int

	// Created is the UTC time at which the key was created.
	Created time.Time

	// Activates is the UTC time from which the key may be used.
	Activates time.Time

	// Expires is the UTC time at which the key stops being usable. The
	// validity window is half-open: [Activates, Expires).
	Expires time.Time

	// Secret is the raw symmetric key material.
	Secret []byte

	// KeysetID optionally groups keys into a keyset. Nil when the service
	// did not assign one.
	KeysetID *int64
}

// IsActive reports whether the key is usable at the supplied time, i.e.
// Activates <= now < Expires.
func (k *Key) IsActive(now time.Time) bool {
	return !k.Activates.After(now) && now.Before(k.Expires)
}
