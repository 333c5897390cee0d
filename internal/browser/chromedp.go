// Package browser provides isolated chromedp browsing sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/metrics"
)

// Config controls the browser launched for each area.
type Config struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// NoSandbox is needed when running as root inside containers.
	NoSandbox    bool
	StartTimeout time.Duration
}

// blockedTypes are the sub-resources dropped when blocking is enabled.
var blockedTypes = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeMedia,
	network.ResourceTypeFont,
	network.ResourceTypeStylesheet,
}

// Factory launches a fresh browser per area.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory returns a ProviderFactory backed by chromedp.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Open launches the browser.
func (f *Factory) Open(ctx context.Context) (crawler.SessionProvider, error) {
	return NewProvider(ctx, f.cfg, f.logger)
}

// Provider owns one browser process and hands out isolated browser contexts.
type Provider struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	open          atomic.Int64
	closeOnce     sync.Once
	logger        *zap.Logger
}

// NewProvider starts a browser and waits until it accepts targets.
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...any) {}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error", zap.String("detail", fmt.Sprintf(format, args...)))
		}),
	)

	start := cfg.StartTimeout
	if start <= 0 {
		start = 30 * time.Second
	}
	startCtx, cancel := context.WithTimeout(ctx, start)
	defer cancel()
	stop := context.AfterFunc(startCtx, func() {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			browserCancel()
		}
	})
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, crawler.ProviderFatal("launch browser", err)
	}
	logger.Debug("browser started")
	return &Provider{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
	)
	if cfg.NoSandbox {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// NewSession opens a new browser context with its own storage, permissions
// and device location. The session ends when ctx is done or Close is called.
func (p *Provider) NewSession(ctx context.Context, opts crawler.SessionOptions) (crawler.Session, error) {
	if err := p.browserCtx.Err(); err != nil {
		return nil, crawler.ProviderFatal("open session", err)
	}
	sessCtx, cancel := chromedp.NewContext(p.browserCtx, chromedp.WithNewBrowserContext())
	s := p.track(sessCtx, cancel)
	s.stop = context.AfterFunc(ctx, cancel)

	if err := chromedp.Run(sessCtx, setupActions(opts)...); err != nil {
		_ = s.Close() //nolint:errcheck // Close never fails
		if p.browserCtx.Err() != nil {
			return nil, crawler.ProviderFatal("open session", err)
		}
		return nil, crawler.Transient("open session", err)
	}
	return s, nil
}

func (p *Provider) track(ctx context.Context, cancel context.CancelFunc) *session {
	metrics.SetOpenSessions(int(p.open.Add(1)))
	return &session{
		ctx:    ctx,
		cancel: cancel,
		onClose: func() {
			metrics.SetOpenSessions(int(p.open.Add(-1)))
		},
	}
}

// OpenSessions reports sessions not yet closed.
func (p *Provider) OpenSessions() int {
	return int(p.open.Load())
}

// Close shuts the browser down.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		if n := p.open.Load(); n > 0 {
			p.logger.Warn("closing browser with open sessions", zap.Int64("open", n))
		}
		p.browserCancel()
		p.allocCancel()
	})
	return nil
}

func setupActions(opts crawler.SessionOptions) []chromedp.Action {
	var actions []chromedp.Action
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.Geolocation != nil {
		actions = append(actions,
			chromedp.ActionFunc(grantGeolocation),
			emulation.SetGeolocationOverride().
				WithLatitude(opts.Geolocation.Lat).
				WithLongitude(opts.Geolocation.Lng).
				WithAccuracy(100),
		)
	}
	if opts.BlockResources {
		actions = append(actions, chromedp.ActionFunc(blockResources))
	}
	return actions
}

func grantGeolocation(ctx context.Context) error {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return errors.New("no browser in context")
	}
	err := browser.GrantPermissions([]browser.PermissionType{browser.PermissionTypeGeolocation}).
		WithBrowserContextID(c.BrowserContextID).
		Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return fmt.Errorf("grant geolocation: %w", err)
	}
	return nil
}

func blockResources(ctx context.Context) error {
	patterns := make([]*fetch.RequestPattern, 0, len(blockedTypes))
	for _, t := range blockedTypes {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: t,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	chromedp.ListenTarget(ctx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			exec := cdp.WithExecutor(ctx, c.Target)
			if isBlocked(paused.ResourceType) {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(exec) //nolint:errcheck // page may be gone
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).Do(exec) //nolint:errcheck // page may be gone
		}()
	})
	if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
		return fmt.Errorf("enable request interception: %w", err)
	}
	return nil
}

func isBlocked(t network.ResourceType) bool {
	for _, b := range blockedTypes {
		if t == b {
			return true
		}
	}
	return false
}

type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func() bool
	onClose func()
	once    sync.Once
}

func (s *session) Context() context.Context {
	return s.ctx
}

// Close disposes the browser context. It is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
