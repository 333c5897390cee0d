package crawler

import (
	"context"
	"time"
)

// Session is one isolated browsing context (its own cookies, permissions and
// device location). Close must be safe to call more than once.
type Session interface {
	// Context carries the browser target; actions run against it.
	Context() context.Context
	Close() error
}

// SessionProvider creates isolated sessions on top of one browser instance.
type SessionProvider interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	// OpenSessions reports how many sessions are currently open.
	OpenSessions() int
	Close() error
}

// ProviderFactory opens a fresh SessionProvider for each area.
type ProviderFactory interface {
	Open(ctx context.Context) (SessionProvider, error)
}

// Searcher queries the map search surface around a coordinate.
type Searcher interface {
	Search(ctx context.Context, session Session, at GeoPoint, keyword string, zoom int) ([]CandidateRecord, error)
}

// DetailFetcher resolves a best-effort address for a place link. It returns
// UnknownAddress rather than an error when nothing can be extracted.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, session Session, link string) string
}

// ResultSink is the append-only persistence boundary.
type ResultSink interface {
	Append(ctx context.Context, record PersistedRecord) error
	// ExistingKeys returns the links already persisted by earlier runs.
	ExistingKeys(ctx context.Context) ([]string, error)
	Close() error
}

// Publisher pushes record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Exporter copies a finished output artifact somewhere durable.
type Exporter interface {
	Export(ctx context.Context, localPath string) (string, error)
}

// Limiter throttles outgoing navigations.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
