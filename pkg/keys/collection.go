package keys

import (
	"fmt"
	"sort"
	"time"
)

// Metadata carries the collection-level attributes returned by the service
// alongside the key list. The collection stores them as opaque pass-through
// values; nothing in this package consumes them.
type Metadata struct {
	// CallerSiteID is the site id of the caller the keys were issued to.
	CallerSiteID int

	// MasterKeysetID identifies the master keyset.
	MasterKeysetID int64

	// DefaultKeysetID identifies the caller's default keyset, when assigned.
	DefaultKeysetID *int64

	// TokenExpirySeconds is the lifetime the service applies to tokens
	// encrypted with these keys.
	TokenExpirySeconds int64
}

// Collection is an immutable, indexed set of encryption keys produced by one
// refresh round-trip. It supports lookup by key id and resolution of the
// currently-active key for a site. A Collection is safe for concurrent use.
type Collection struct {
	meta Metadata

	// keys holds the ingested copies in input order; the indexes below point
	// into this slice.
	keys   []Key
	byID   map[int64]*Key
	bySite map[int][]*Key

	latestExpires time.Time
}

// NewCollection builds a Collection from a batch of keys in a single pass.
// Keys with SiteID > 0 are additionally indexed per site, sorted ascending by
// activation time (stable, so equal activation times keep their input order).
// Duplicate key ids reject construction outright rather than silently picking
// one of the records.
func NewCollection(list []Key, meta Metadata) (*Collection, error) {
	c := &Collection{
		meta:   meta,
		keys:   make([]Key, len(list)),
		byID:   make(map[int64]*Key, len(list)),
		bySite: make(map[int][]*Key),
	}
	copy(c.keys, list)

	for i := range c.keys {
		key := &c.keys[i]

		if _, ok := c.byID[key.ID]; ok {
			return nil, fmt.Errorf("duplicate key id %d in key batch", key.ID)
		}
		c.byID[key.ID] = key

		if key.SiteID > 0 {
			c.bySite[key.SiteID] = append(c.bySite[key.SiteID], key)
		}

		if key.Expires.After(c.latestExpires) {
			c.latestExpires = key.Expires
		}
	}

	for _, siteKeys := range c.bySite {
		sort.SliceStable(siteKeys, func(i, j int) bool {
			return siteKeys[i].Activates.Before(siteKeys[j].Activates)
		})
	}

	return c, nil
}

// Len returns the number of keys in the collection.
func (c *Collection) Len() int {
	return len(c.keys)
}

// Get returns the key with the given id, if present.
func (c *Collection) Get(id int64) (Key, bool) {
	key, ok := c.byID[id]
	if !ok {
		return Key{}, false
	}
	return *key, true
}

// KeyIDs returns the ids of all keys in the collection, in input order.
func (c *Collection) KeyIDs() []int64 {
	ids := make([]int64, len(c.keys))
	for i := range c.keys {
		ids[i] = c.keys[i].ID
	}
	return ids
}

// Keys returns all keys in the collection, in input order.
func (c *Collection) Keys() []Key {
	out := make([]Key, len(c.keys))
	copy(out, c.keys)
	return out
}

// Metadata returns the collection-level attributes from the service.
func (c *Collection) Metadata() Metadata {
	return c.meta
}

// ActiveSiteKey resolves the key to use for the given site at the given time:
// among the site's keys with Activates <= now, the one with the latest
// activation time that has not yet expired. Activation windows of successive
// keys may overlap during rotation, so when the most recently activated key
// has already expired an earlier-activated key that is still within its
// window is returned instead.
//
// The bool result is false when the site is unknown or no key is active at
// now. Keys that are not site-scoped (SiteID <= 0) are never returned.
func (c *Collection) ActiveSiteKey(siteID int, now time.Time) (Key, bool) {
	siteKeys := c.bySite[siteID]
	if len(siteKeys) == 0 {
		return Key{}, false
	}

	// Rightmost insertion point for now over the activation times: the first
	// index whose key activates strictly after now.
	i := sort.Search(len(siteKeys), func(i int) bool {
		return siteKeys[i].Activates.After(now)
	})

	for i > 0 {
		i--
		if key := siteKeys[i]; key.IsActive(now) {
			return *key, true
		}
	}

	return Key{}, false
}

// LatestExpires returns the maximum expiry time across all keys. The bool
// result is false for an empty collection.
func (c *Collection) LatestExpires() (time.Time, bool) {
	if len(c.keys) == 0 {
		return time.Time{}, false
	}
	return c.latestExpires, true
}

// Valid reports whether the collection is still usable at the supplied time:
// non-empty with at least one key expiring after now. Callers use this as a
// staleness signal prompting a refresh, not as a gate on lookups.
func (c *Collection) Valid(now time.Time) bool {
	return len(c.keys) > 0 && c.latestExpires.After(now)
}
