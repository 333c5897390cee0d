// Package crawlertest provides in-memory collaborators for pipeline tests.
package crawlertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// Session is a no-op browsing session that reports its release to the
// provider that opened it.
type Session struct {
	ctx     context.Context
	release func()
	once    sync.Once
	// Options are the options it was opened with.
	Options crawler.SessionOptions
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close releases the session once.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// Provider hands out Sessions and records how many were open at once.
type Provider struct {
	// Err, when set, is returned by NewSession.
	Err error

	open    atomic.Int64
	maxOpen atomic.Int64
	opened  atomic.Int64
	closed  atomic.Bool

	mu      sync.Mutex
	options []crawler.SessionOptions
}

// NewSession opens a fake session.
func (p *Provider) NewSession(ctx context.Context, opts crawler.SessionOptions) (crawler.Session, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	n := p.open.Add(1)
	p.opened.Add(1)
	for {
		cur := p.maxOpen.Load()
		if n <= cur || p.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	p.mu.Lock()
	p.options = append(p.options, opts)
	p.mu.Unlock()
	return &Session{
		ctx:     ctx,
		release: func() { p.open.Add(-1) },
		Options: opts,
	}, nil
}

// OpenSessions reports the sessions not yet closed.
func (p *Provider) OpenSessions() int {
	return int(p.open.Load())
}

// MaxOpen reports the highest number of simultaneously open sessions.
func (p *Provider) MaxOpen() int {
	return int(p.maxOpen.Load())
}

// Opened reports how many sessions were created in total.
func (p *Provider) Opened() int {
	return int(p.opened.Load())
}

// Options returns the options of every session opened so far.
func (p *Provider) Options() []crawler.SessionOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]crawler.SessionOptions(nil), p.options...)
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	return p.closed.Load()
}

// Factory returns a fresh Provider per Open, or Err.
type Factory struct {
	Err error
	// FailFor makes Open fail for the given 1-based call numbers.
	FailFor map[int]bool

	mu        sync.Mutex
	calls     int
	providers []*Provider
}

// Open creates a new Provider.
func (f *Factory) Open(context.Context) (crawler.SessionProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if f.FailFor[f.calls] {
		return nil, errors.New("browser failed to launch")
	}
	p := &Provider{}
	f.providers = append(f.providers, p)
	return p, nil
}

// Providers returns the providers opened so far.
func (f *Factory) Providers() []*Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Provider(nil), f.providers...)
}

// SearchFunc answers a search.
type SearchFunc func(ctx context.Context, at crawler.GeoPoint, keyword string) ([]crawler.CandidateRecord, error)

// Searcher delegates to Func and counts calls. Delay simulates page latency.
type Searcher struct {
	Func  SearchFunc
	Delay time.Duration
	calls atomic.Int64
}

// Search runs the configured function.
func (s *Searcher) Search(
	ctx context.Context,
	_ crawler.Session,
	at crawler.GeoPoint,
	keyword string,
	_ int,
) ([]crawler.CandidateRecord, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Func == nil {
		return nil, nil
	}
	return s.Func(ctx, at, keyword)
}

// Calls reports how many searches ran.
func (s *Searcher) Calls() int {
	return int(s.calls.Load())
}

// Detail returns a fixed address per link, or UnknownAddress.
type Detail struct {
	Addresses map[string]string

	mu    sync.Mutex
	links []string
}

// FetchDetail looks up the address.
func (d *Detail) FetchDetail(_ context.Context, _ crawler.Session, link string) string {
	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	if addr, ok := d.Addresses[link]; ok {
		return addr
	}
	return crawler.UnknownAddress
}

// Links returns the links fetched so far.
func (d *Detail) Links() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.links...)
}

// Sink keeps records in memory.
type Sink struct {
	// Err, when set, fails every Append.
	Err error
	// Existing is returned by ExistingKeys.
	Existing []string

	mu      sync.Mutex
	records []crawler.PersistedRecord
	closed  bool
}

// Append stores a record.
func (s *Sink) Append(_ context.Context, r crawler.PersistedRecord) error {
	if s.Err != nil {
		return crawler.Persistence("append record", s.Err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// ExistingKeys returns Existing plus every link appended so far.
func (s *Sink) ExistingKeys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := append([]string(nil), s.Existing...)
	for _, r := range s.records {
		keys = append(keys, r.Link)
	}
	return keys, nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns the appended records.
func (s *Sink) Records() []crawler.PersistedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.PersistedRecord(nil), s.records...)
}

// Clock is a fixed clock whose Sleep only records durations.
type Clock struct {
	At time.Time

	mu     sync.Mutex
	sleeps []time.Duration
}

// Now returns At.
func (c *Clock) Now() time.Time {
	return c.At
}

// Sleep records d and returns immediately unless ctx is done.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

// Sleeps returns the recorded sleep durations.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Place builds a candidate at the given coordinates.
func Place(name, link string, lat, lng float64) crawler.CandidateRecord {
	return crawler.CandidateRecord{
		Name:    name,
		Coords:  &crawler.GeoPoint{Lat: lat, Lng: lng},
		Link:    crawler.CanonicalLink(link),
		RawLink: link,
	}
}
