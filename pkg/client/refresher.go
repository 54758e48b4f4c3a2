package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"k8s.io/klog/v2"

	"github.com/keybound/keyshare/pkg/keys"
)

// defaultRefreshPeriod is the time waited between key refreshes when the
// config does not set one.
const defaultRefreshPeriod = time.Hour

// Refresher periodically fetches a fresh key collection and publishes it with
// an atomic pointer swap, so any number of readers can call Keys without
// locking while refreshes happen in the background. In-flight users of an
// older collection keep their reference until they pick up the new one.
type Refresher struct {
	client *Client
	period time.Duration

	current atomic.Pointer[keys.Collection]
}

// NewRefresher creates a Refresher around the supplied client. If period is
// zero the default refresh period is used.
func NewRefresher(c *Client, period time.Duration) *Refresher {
	if period <= 0 {
		period = defaultRefreshPeriod
	}

	return &Refresher{
		client: c,
		period: period,
	}
}

// Keys returns the most recently published collection, or nil if no refresh
// has succeeded yet.
func (r *Refresher) Keys() *keys.Collection {
	return r.current.Load()
}

// RefreshNow performs a single refresh attempt and publishes the result on
// success. Failures leave the previously published collection in place.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	collection, err := r.client.RefreshKeys(ctx)
	if err != nil {
		return err
	}

	r.current.Store(collection)
	return nil
}

// Run refreshes keys on the configured period until ctx is cancelled. Each
// cycle retries with exponential backoff, capped so a cycle never outlives
// its period; a cycle that exhausts its retries leaves the previous
// collection published and is reported as a warning, relying on the next
// cycle to recover.
func (r *Refresher) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("refresher")

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		if err := r.refreshWithRetry(ctx, logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error(err, "failed to refresh keys; keeping previous collection")
		}

		if collection := r.Keys(); collection != nil && !collection.Valid(time.Now()) {
			logger.Info("published key collection has fully expired; lookups will fail until a refresh succeeds")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Refresher) refreshWithRetry(ctx context.Context, logger klog.Logger) error {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 5 * time.Second
	backOff.MaxInterval = time.Minute
	backOff.MaxElapsedTime = r.period

	refresh := func() error {
		return r.RefreshNow(ctx)
	}

	return backoff.RetryNotify(refresh, backoff.WithContext(backOff, ctx), func(err error, t time.Duration) {
		logger.Info("retrying key refresh", "after", t, "reason", err.Error())
	})
}
