// Package maps queries Google Maps through a browsing session: a search for a
// keyword around a coordinate, and the address of a place page.
package maps

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// DefaultBaseURL is the Maps origin searched.
const DefaultBaseURL = "https://www.google.com/maps"

const (
	feedSelector    = `div[role="feed"], div[role="main"]`
	addressSelector = `button[data-item-id="address"]`
	// scrollScript scrolls the results feed and reports whether the list end
	// banner is shown.
	scrollScript = `(() => {
		const feed = document.querySelector('div[role="feed"]');
		if (!feed) { return true; }
		feed.scrollBy(0, 4000);
		return document.body.innerText.includes("You've reached the end");
	})()`
)

// Config tunes page timing.
type Config struct {
	BaseURL  string
	Language string
	// SearchTimeout bounds the whole search, scrolling included.
	SearchTimeout time.Duration
	// FeedWait is how long to wait for the results list to appear.
	FeedWait     time.Duration
	ScrollRounds int
	ScrollPause  time.Duration
	// DetailTimeout bounds loading a place page.
	DetailTimeout time.Duration
	// DetailWait is how long to wait for the address button.
	DetailWait time.Duration
}

// DefaultConfig returns the timings used in production.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Language:      "en",
		SearchTimeout: 15 * time.Second,
		FeedWait:      5 * time.Second,
		ScrollRounds:  3,
		ScrollPause:   700 * time.Millisecond,
		DetailTimeout: 10 * time.Second,
		DetailWait:    4 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.FeedWait <= 0 {
		c.FeedWait = d.FeedWait
	}
	if c.ScrollRounds < 0 {
		c.ScrollRounds = 0
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = d.ScrollPause
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = d.DetailTimeout
	}
	if c.DetailWait <= 0 {
		c.DetailWait = d.DetailWait
	}
	return c
}

// Client implements crawler.Searcher and crawler.DetailFetcher.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg.withDefaults(), logger: logger}
}

// Search loads the results list for keyword around at and parses every card.
// A page that never shows a results list is treated as having no results.
func (c *Client) Search(
	ctx context.Context,
	session crawler.Session,
	at crawler.GeoPoint,
	keyword string,
	zoom int,
) ([]crawler.CandidateRecord, error) {
	runCtx, cancel := bind(ctx, session, c.cfg.SearchTimeout)
	defer cancel()

	target := BuildSearchURL(c.cfg.BaseURL, keyword, at, zoom, c.cfg.Language)
	if err := chromedp.Run(runCtx, chromedp.Navigate(target)); err != nil {
		return nil, crawler.Transient("navigate search", err)
	}

	waitCtx, waitCancel := context.WithTimeout(runCtx, c.cfg.FeedWait)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(feedSelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, crawler.Transient("wait for results", err)
		}
		c.logger.Debug("no results list", zap.String("keyword", keyword), zap.String("at", at.String()))
		return nil, nil
	}

	for i := 0; i < c.cfg.ScrollRounds; i++ {
		var end bool
		if err := chromedp.Run(runCtx,
			chromedp.Evaluate(scrollScript, &end),
			chromedp.Sleep(c.cfg.ScrollPause),
		); err != nil {
			return nil, crawler.Transient("scroll results", err)
		}
		if end {
			break
		}
	}

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, crawler.Transient("read results", err)
	}
	candidates, err := ParseResults(html, c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return candidates, nil
}

// FetchDetail opens the place page and reads its address. It returns
// crawler.UnknownAddress on any failure.
func (c *Client) FetchDetail(ctx context.Context, session crawler.Session, link string) string {
	runCtx, cancel := bind(ctx, session, c.cfg.DetailTimeout)
	defer cancel()

	target := link
	if c.cfg.Language != "" {
		target = crawler.WithLanguage(link, c.cfg.Language)
	}
	if err := chromedp.Run(runCtx, chromedp.Navigate(target)); err != nil {
		c.logger.Debug("place page failed", zap.String("link", link), zap.Error(err))
		return crawler.UnknownAddress
	}

	waitCtx, waitCancel := context.WithTimeout(runCtx, c.cfg.DetailWait)
	defer waitCancel()
	var raw string
	if err := chromedp.Run(waitCtx,
		chromedp.WaitVisible(addressSelector, chromedp.ByQuery),
		chromedp.OuterHTML(addressSelector, &raw, chromedp.ByQuery),
	); err != nil {
		c.logger.Debug("no address on place page", zap.String("link", link), zap.Error(err))
		return crawler.UnknownAddress
	}
	addr, err := ParseAddress(raw)
	if err != nil {
		c.logger.Debug("unreadable address", zap.String("link", link), zap.Error(err))
		return crawler.UnknownAddress
	}
	return addr
}

// bind derives a context from the session that also ends with ctx.
func bind(ctx context.Context, session crawler.Session, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.Background()
	if session != nil {
		base = session.Context()
	}
	runCtx, cancel := context.WithTimeout(base, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

var (
	_ crawler.Searcher      = (*Client)(nil)
	_ crawler.DetailFetcher = (*Client)(nil)
)
