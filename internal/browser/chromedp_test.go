package browser

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(Config{Headless: true})
	full := allocatorOptions(Config{
		Headless:  true,
		NoSandbox: true,
		UserAgent: "Mozilla/5.0",
		ExecPath:  "/usr/bin/chromium",
	})
	assert.Len(t, full, len(base)+4)
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	assert.True(t, isBlocked(network.ResourceTypeImage))
	assert.True(t, isBlocked(network.ResourceTypeStylesheet))
	assert.True(t, isBlocked(network.ResourceTypeFont))
	assert.True(t, isBlocked(network.ResourceTypeMedia))
	assert.False(t, isBlocked(network.ResourceTypeDocument))
	assert.False(t, isBlocked(network.ResourceTypeXHR))
	assert.False(t, isBlocked(network.ResourceTypeScript))
}

func TestSetupActions(t *testing.T) {
	t.Parallel()

	assert.Empty(t, setupActions(crawler.SessionOptions{}))
	assert.Len(t, setupActions(crawler.SessionOptions{Locale: "en-US"}), 1)
	assert.Len(t, setupActions(crawler.SessionOptions{
		Locale:         "en-US",
		Geolocation:    &crawler.GeoPoint{Lat: 33.57, Lng: -7.59},
		BlockResources: true,
	}), 4)
}

func TestSessionCloseReleasesOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{logger: zap.NewNop()}
	s := p.track(ctx, cancel)
	assert.Equal(t, 1, p.OpenSessions())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, p.OpenSessions())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}

func TestNewSessionOnDeadBrowserIsFatal(t *testing.T) {
	t.Parallel()

	browserCtx, browserCancel := context.WithCancel(context.Background())
	browserCancel()
	p := &Provider{
		allocCancel:   func() {},
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        zap.NewNop(),
	}

	_, err := p.NewSession(context.Background(), crawler.SessionOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrProviderFatal)
	assert.Zero(t, p.OpenSessions())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
