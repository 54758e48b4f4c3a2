package keys

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// keyRecord is the wire shape of a single key in the key-sharing response.
// Pointer fields distinguish absent from zero so required fields can be
// rejected instead of silently defaulted.
type keyRecord struct {
	ID        *int64 `json:"id"`
	SiteID    *int   `json:"site_id"`
	Created   *int64 `json:"created"`
	Activates *int64 `json:"activates"`
	Expires   *int64 `json:"expires"`
	Secret    string `json:"secret"`
	KeysetID  *int64 `json:"keyset_id"`
}

// sharingResponse is the wire shape of the decrypted key-sharing response
// payload: collection-level metadata plus the key list.
type sharingResponse struct {
	CallerSiteID       *int        `json:"caller_site_id"`
	MasterKeysetID     *int64      `json:"master_keyset_id"`
	DefaultKeysetID    *int64      `json:"default_keyset_id"`
	TokenExpirySeconds *int64      `json:"token_expiry_seconds"`
	Keys               []keyRecord `json:"keys"`
}

// unscopedSiteID is the sentinel used when a key record omits site_id.
const unscopedSiteID = -1

// ParseCollection parses the decrypted key-sharing response payload into a
// Collection. Every record must carry an id, created/activates/expires
// timestamps (epoch seconds) and a base64 secret; records failing validation
// reject the whole batch, with one error reported per offending field.
func ParseCollection(payload []byte) (*Collection, error) {
	var resp sharingResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse key sharing response: %w", err)
	}

	var result *multierror.Error

	meta := Metadata{}
	if resp.CallerSiteID != nil {
		meta.CallerSiteID = *resp.CallerSiteID
	}
	if resp.MasterKeysetID != nil {
		meta.MasterKeysetID = *resp.MasterKeysetID
	}
	meta.DefaultKeysetID = resp.DefaultKeysetID
	if resp.TokenExpirySeconds != nil {
		meta.TokenExpirySeconds = *resp.TokenExpirySeconds
	}

	list := make([]Key, 0, len(resp.Keys))
	for i, record := range resp.Keys {
		key, err := record.toKey()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("key record %d/%d: %w", i+1, len(resp.Keys), err))
			continue
		}
		list = append(list, key)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	return NewCollection(list, meta)
}

func (r keyRecord) toKey() (Key, error) {
	var result *multierror.Error

	if r.ID == nil {
		result = multierror.Append(result, fmt.Errorf("missing id"))
	}
	if r.Created == nil {
		result = multierror.Append(result, fmt.Errorf("missing created"))
	}
	if r.Activates == nil {
		result = multierror.Append(result, fmt.Errorf("missing activates"))
	}
	if r.Expires == nil {
		result = multierror.Append(result, fmt.Errorf("missing expires"))
	}
	if r.Secret == "" {
		result = multierror.Append(result, fmt.Errorf("missing secret"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return Key{}, err
	}

	secret, err := base64.StdEncoding.DecodeString(r.Secret)
	if err != nil {
		return Key{}, fmt.Errorf("secret is not valid base64: %w", err)
	}

	siteID := unscopedSiteID
	if r.SiteID != nil {
		siteID = *r.SiteID
	}

	return Key{
		ID:        *r.ID,
		SiteID:    siteID,
		Created:   time.Unix(*r.Created, 0).UTC(),
		Activates: time.Unix(*r.Activates, 0).UTC(),
		Expires:   time.Unix(*r.Expires, 0).UTC(),
		Secret:    secret,
		KeysetID:  r.KeysetID,
	}, nil
}
