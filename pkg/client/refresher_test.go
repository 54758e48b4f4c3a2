package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/keybound/keyshare/pkg/client"
)

func TestRefresher_RefreshNow(t *testing.T) {
	ctx := klog.NewContext(context.Background(), testContext(t))

	secret := newTestSecret(t)
	baseURL := client.MockKeyServer(t, secret, nil)

	c, err := client.New(baseURL, client.SuccessAuthKey, secret, nil)
	require.NoError(t, err)

	r := client.NewRefresher(c, time.Hour)
	assert.Nil(t, r.Keys(), "nothing is published before the first refresh")

	require.NoError(t, r.RefreshNow(ctx))

	collection := r.Keys()
	require.NotNil(t, collection)
	assert.Equal(t, 3, collection.Len())
}

func TestRefresher_RefreshNow_FailureKeepsNothingPublished(t *testing.T) {
	ctx := klog.NewContext(context.Background(), testContext(t))

	secret := newTestSecret(t)
	baseURL := client.MockKeyServer(t, secret, nil)

	c, err := client.New(baseURL, client.ServerErrorAuthKey, secret, nil)
	require.NoError(t, err)

	r := client.NewRefresher(c, time.Hour)
	require.Error(t, r.RefreshNow(ctx))
	assert.Nil(t, r.Keys())
}

func TestRefresher_Run_PublishesAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(klog.NewContext(context.Background(), testContext(t)))
	defer cancel()

	secret := newTestSecret(t)
	baseURL := client.MockKeyServer(t, secret, nil)

	c, err := client.New(baseURL, client.SuccessAuthKey, secret, nil)
	require.NoError(t, err)

	r := client.NewRefresher(c, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return r.Keys() != nil
	}, 10*time.Second, 10*time.Millisecond, "Run should publish a collection shortly after starting")

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
