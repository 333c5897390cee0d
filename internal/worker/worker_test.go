package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/crawlertest"
	"github.com/JakeFAU/poi-grid-crawler/internal/dedup"
	"github.com/JakeFAU/poi-grid-crawler/internal/geofence"
	pubmemory "github.com/JakeFAU/poi-grid-crawler/internal/publisher/memory"
	"github.com/JakeFAU/poi-grid-crawler/internal/queue/memory"
)

var casablanca = &crawler.Area{
	Name:       "Casablanca",
	Center:     crawler.GeoPoint{Lat: 33.5731, Lng: -7.5898},
	Population: 3_750_000,
}

type fixture struct {
	provider *crawlertest.Provider
	searcher *crawlertest.Searcher
	detail   *crawlertest.Detail
	sink     *crawlertest.Sink
	store    *dedup.Store
	stats    *Stats
}

func newFixture(t *testing.T, search crawlertest.SearchFunc) *fixture {
	t.Helper()
	return &fixture{
		provider: &crawlertest.Provider{},
		searcher: &crawlertest.Searcher{Func: search},
		detail:   &crawlertest.Detail{Addresses: map[string]string{}},
		sink:     &crawlertest.Sink{},
		store:    dedup.New(),
		stats:    &Stats{},
	}
}

func (f *fixture) worker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	filter, err := geofence.New(geofence.DefaultThresholdKM)
	require.NoError(t, err)
	return New(1, Deps{
		Provider: f.provider,
		Searcher: f.searcher,
		Detail:   f.detail,
		Filter:   filter,
		Dedup:    f.store,
		Sink:     f.sink,
		Clock:    &crawlertest.Clock{At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		Stats:    f.stats,
	}, cfg, 10, zap.NewNop())
}

func taskAt(lat, lng float64, keyword string) crawler.SearchTask {
	return crawler.SearchTask{
		Index:   1,
		Cell:    crawler.GridCell{Point: crawler.GeoPoint{Lat: lat, Lng: lng}},
		Keyword: keyword,
		Area:    casablanca,
	}
}

func TestProcessPersistsAcceptedCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return []crawler.CandidateRecord{
			crawlertest.Place("Bank A", "https://maps/place/a?authuser=0", 33.5731, -7.5898),
			crawlertest.Place("Far Bank", "https://maps/place/far", 32.88, -6.91),
			{Name: "No Coords", Link: "https://maps/place/nc", RawLink: "https://maps/place/nc"},
		}, nil
	})
	f.detail.Addresses["https://maps/place/a"] = "Bd Zerktouni, Casablanca"
	w := f.worker(t, Config{RunID: "run-1"})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	require.NoError(t, out.Err)
	assert.Equal(t, crawler.OutcomeSucceeded, out.Status)
	assert.Equal(t, 3, out.Found)
	assert.Equal(t, 1, out.Rejected)
	assert.Equal(t, 2, out.Persisted)

	records := f.sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Bank A", records[0].Name)
	assert.Equal(t, "https://maps/place/a", records[0].Link)
	assert.Equal(t, "Bd Zerktouni, Casablanca", records[0].Address)
	assert.Equal(t, "Casablanca", records[0].City)
	assert.Equal(t, "Bank", records[0].Keyword)
	assert.Equal(t, "run-1", records[0].RunID)

	assert.Equal(t, crawler.UnknownAddress, records[1].Address)
	assert.InDelta(t, 33.5731, records[1].Latitude, 1e-9, "missing coords fall back to the cell")
	assert.InDelta(t, -7.5898, records[1].Longitude, 1e-9)

	assert.ElementsMatch(t, []string{"https://maps/place/a", "https://maps/place/nc"}, f.detail.Links(),
		"details are fetched only for claimed candidates")
	assert.Zero(t, f.provider.OpenSessions(), "session must be released")
}

func TestProcessSkipsAlreadyClaimed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return []crawler.CandidateRecord{
			crawlertest.Place("Bank A", "https://maps/place/a", 33.5731, -7.5898),
		}, nil
	})
	f.store.Seed([]string{"https://maps/place/a"})
	w := f.worker(t, Config{})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, crawler.OutcomeSucceeded, out.Status)
	assert.Equal(t, 1, out.Duplicates)
	assert.Empty(t, f.sink.Records())
	assert.Empty(t, f.detail.Links())
}

func TestProcessSearchFailureIsTransient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return nil, context.DeadlineExceeded
	})
	w := f.worker(t, Config{})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, crawler.OutcomeTransientSkip, out.Status)
	assert.ErrorIs(t, out.Err, crawler.ErrTransientFetch)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Zero(t, f.provider.OpenSessions())
	assert.Equal(t, 1, f.stats.Snapshot().Skipped)
}

func TestProcessSessionFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.provider.Err = crawler.ProviderFatal("open session", errors.New("browser gone"))
	w := f.worker(t, Config{})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, crawler.OutcomeFatal, out.Status)
	assert.Zero(t, f.searcher.Calls())
}

func TestProcessPersistFailureKeepsClaimByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return []crawler.CandidateRecord{
			crawlertest.Place("Bank A", "https://maps/place/a", 33.5731, -7.5898),
		}, nil
	})
	f.sink.Err = errors.New("disk full")
	w := f.worker(t, Config{})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, crawler.OutcomePersistFailed, out.Status)
	assert.Equal(t, 1, out.PersistFailures)
	assert.True(t, f.store.Contains("https://maps/place/a"))
}

func TestProcessPersistFailureRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return []crawler.CandidateRecord{
			crawlertest.Place("Bank A", "https://maps/place/a", 33.5731, -7.5898),
		}, nil
	})
	f.sink.Err = errors.New("disk full")
	w := f.worker(t, Config{ClaimPolicy: ClaimRollback})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, crawler.OutcomePersistFailed, out.Status)
	assert.False(t, f.store.Contains("https://maps/place/a"))
}

func TestProcessRollbackKeepsClaimOnUnknownAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
		return []crawler.CandidateRecord{
			crawlertest.Place("Bank A", "https://maps/place/a", 33.5731, -7.5898),
		}, nil
	})
	w := f.worker(t, Config{ClaimPolicy: ClaimRollback})

	out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
	assert.Equal(t, 1, out.Persisted)
	assert.True(t, f.store.Contains("https://maps/place/a"))
	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, crawler.UnknownAddress, records[0].Address)

	out = w.Process(context.Background(), taskAt(33.5731, -7.5898, "ATM"))
	assert.Equal(t, 1, out.Duplicates)
	assert.Len(t, f.sink.Records(), 1)
}

func TestProcessSessionOptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	w := f.worker(t, Config{SpoofLocation: true, BlockResources: true, Locale: "en-US"})
	w.Process(context.Background(), taskAt(33.5, -7.6, "Bank"))

	opts := f.provider.Options()
	require.Len(t, opts, 1)
	require.NotNil(t, opts[0].Geolocation)
	assert.Equal(t, crawler.GeoPoint{Lat: 33.5, Lng: -7.6}, *opts[0].Geolocation)
	assert.True(t, opts[0].BlockResources)
	assert.Equal(t, "en-US", opts[0].Locale)
}

func TestProcessPublishesPersistedRecords(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		pubErr  error
		wantLen int
	}{
		{name: "published", wantLen: 1},
		{name: "publish failure is not fatal", pubErr: errors.New("pubsub down")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(context.Context, crawler.GeoPoint, string) ([]crawler.CandidateRecord, error) {
				return []crawler.CandidateRecord{
					crawlertest.Place("Bank A", "https://maps/place/a", 33.5731, -7.5898),
				}, nil
			})
			pub := pubmemory.New()
			pub.Err = tc.pubErr
			filter, err := geofence.New(geofence.DefaultThresholdKM)
			require.NoError(t, err)
			w := New(2, Deps{
				Provider:  f.provider,
				Searcher:  f.searcher,
				Filter:    filter,
				Dedup:     f.store,
				Sink:      f.sink,
				Publisher: pub,
			}, Config{Topic: "places"}, 1, nil)

			out := w.Process(context.Background(), taskAt(33.5731, -7.5898, "Bank"))
			assert.Equal(t, crawler.OutcomeSucceeded, out.Status)
			require.Len(t, f.sink.Records(), 1)
			assert.Equal(t, crawler.UnknownAddress, f.sink.Records()[0].Address)
			require.Len(t, pub.Messages(), tc.wantLen)
			if tc.wantLen > 0 {
				msg := pub.Messages()[0]
				assert.Equal(t, "places", msg.Topic)
				rec, ok := msg.Payload.(crawler.PersistedRecord)
				require.True(t, ok)
				assert.Equal(t, "https://maps/place/a", rec.Link)
			}
		})
	}
}

type denyLimiter struct{}

func (denyLimiter) Wait(context.Context, string) error { return errors.New("rate limited") }

func TestProcessLimiterFailureSkipsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	filter, err := geofence.New(geofence.DefaultThresholdKM)
	require.NoError(t, err)
	w := New(1, Deps{
		Provider: f.provider,
		Searcher: f.searcher,
		Filter:   filter,
		Dedup:    f.store,
		Sink:     f.sink,
		Limiter:  denyLimiter{},
	}, Config{}, 1, nil)

	out := w.Process(context.Background(), taskAt(33.5, -7.6, "Bank"))
	assert.Equal(t, crawler.OutcomeTransientSkip, out.Status)
	assert.Zero(t, f.provider.Opened())
}

func TestRunStopsOnSentinel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	w := f.worker(t, Config{})
	ctx := context.Background()

	q := memory.NewQueue(4)
	require.NoError(t, q.PutAll(ctx, []crawler.SearchTask{taskAt(33.5, -7.6, "Bank"), taskAt(33.5, -7.6, "BMCE")}))
	require.NoError(t, q.PutSentinel(ctx))

	require.NoError(t, w.Run(ctx, q))
	assert.Zero(t, q.Pending())
	assert.Equal(t, 2, f.searcher.Calls())
	assert.Equal(t, 2, f.stats.Snapshot().Completed)
}

func TestRunReturnsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.provider.Err = crawler.ProviderFatal("open session", errors.New("browser gone"))
	w := f.worker(t, Config{})
	ctx := context.Background()

	q := memory.NewQueue(2)
	require.NoError(t, q.Put(ctx, taskAt(33.5, -7.6, "Bank")))

	err := w.Run(ctx, q)
	assert.ErrorIs(t, err, crawler.ErrProviderFatal)
	assert.Zero(t, q.Pending(), "fatal task is still acknowledged")
}
