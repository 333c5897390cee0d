package csvfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

func record(name, link string) crawler.PersistedRecord {
	return crawler.PersistedRecord{
		Name:      name,
		City:      "Casablanca",
		Address:   "Bd Zerktouni, Casablanca",
		Latitude:  33.5912,
		Longitude: -7.6187,
		Link:      link,
		Keyword:   "Bank",
		ScrapedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOpenWritesBOMAndHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "banks.csv")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), record("Attijariwafa Bank", "https://maps/place/a")))
	require.NoError(t, s.Close())

	s, err = Open(path, crawler.DefaultColumns, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), record("BMCE, Maarif", "https://maps/place/b")))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBFName,City,Address,Latitude,Longitude,Link\n"))
	assert.Equal(t, 1, strings.Count(string(raw), "Name,City"), "header written once")
	assert.Equal(t, 1, strings.Count(string(raw), "\xEF\xBB\xBF"), "BOM written once")
	assert.Contains(t, string(raw), `"BMCE, Maarif",Casablanca`)
}

func TestExistingKeysReadsLinkColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "banks.csv")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	keys, err := s.ExistingKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("A", "https://maps/place/a")))
	require.NoError(t, s.Append(ctx, record("B", "https://maps/place/b")))

	keys, err = s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://maps/place/a", "https://maps/place/b"}, keys)
}

func TestReadLinksFromForeignFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "prior.csv")
	content := "\xEF\xBB\xBFName,Link,City\nA,https://maps/place/a,Rabat\nB,,Rabat\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	links, _, err := ReadLinks(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://maps/place/a"}, links)

	links, _, err = ReadLinks(filepath.Join(dir, "missing.csv"))
	require.NoError(t, err)
	assert.Nil(t, links)

	noLink := filepath.Join(dir, "nolink.csv")
	require.NoError(t, os.WriteFile(noLink, []byte("Name,City\nA,Rabat\n"), 0o600))
	_, _, err = ReadLinks(noLink)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	links, _, err = ReadLinks(empty)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestOpenSetsAsideMismatchedHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "banks.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Link\nA,https://maps/place/a\n"), 0o600))

	s, err := Open(path, crawler.DefaultColumns, nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	require.NotEmpty(t, s.SetAside())
	assert.True(t, strings.HasPrefix(s.SetAside(), path+".corrupt-"))
	old, err := os.ReadFile(s.SetAside())
	require.NoError(t, err)
	assert.Equal(t, "Name,Link\nA,https://maps/place/a\n", string(old))

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("B", "https://maps/place/b")))
	keys, err := s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://maps/place/a", "https://maps/place/b"}, keys)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBFName,City,Address,Latitude,Longitude,Link\n"))
}

func TestOpenMatchingHeaderKeepsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "banks.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Link\nA,https://maps/place/a\n"), 0o600))

	s, err := Open(path, []string{crawler.ColumnName, crawler.ColumnLink}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.SetAside())
	require.NoError(t, s.Close())
}

func TestOpenOverGarbageStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x01garbage;;\nmore\n"), 0o600))

	s, err := Open(path, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()
	keys, err := s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Append(ctx, record("Attijariwafa Bank", "https://maps/place/a")))
	require.NoError(t, s.Close())

	links, skipped, err := ReadLinks(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []string{"https://maps/place/a"}, links)
	_, err = os.Stat(s.SetAside())
	assert.NoError(t, err, "garbage kept for inspection")
}

func TestReadLinksSkipsTornRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "banks.csv")
	content := "Name,City,Link\n" +
		"A,Rabat,https://maps/place/a\n" +
		"B,Ra\n" +
		"C,\"Fes\"x,https://maps/place/c\n" +
		"D,Fes,https://maps/place/d\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	links, skipped, err := ReadLinks(path)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []string{"https://maps/place/a", "https://maps/place/d"}, links)
}

func TestAppendPreservesNonLatinText(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "banks.csv")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	rec := record("البنك الشعبي", "https://maps/place/%D8%A7")
	rec.City = "Fès"
	rec.Address = "Av. Hassan II, Fès"
	require.NoError(t, s.Append(context.Background(), rec))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBF"))
	body := string(raw[3:])
	assert.Equal(t, "Name,City,Address,Latitude,Longitude,Link\n"+
		"البنك الشعبي,Fès,\"Av. Hassan II, Fès\",33.5912,-7.6187,https://maps/place/%D8%A7\n", body)

	f, err := os.Open(path) //nolint:gosec // test file
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // read-only
	rows, err := newReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, crawler.DefaultColumns, rows[0])
	assert.Equal(t, "البنك الشعبي", rows[1][0])
	assert.Equal(t, "Fès", rows[1][1])
	assert.Equal(t, "Av. Hassan II, Fès", rows[1][2])
}

func TestOpenValidatesColumns(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "x.csv"), []string{crawler.ColumnName}, nil)
	assert.Error(t, err)
}

func TestAppendAfterClose(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "x.csv"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), record("A", "https://maps/place/a"))
	assert.ErrorIs(t, err, crawler.ErrPersistence)
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.csv")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(context.Background(), record("Bank", fmt.Sprintf("https://maps/place/%d", i))))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	links, _, err := ReadLinks(path)
	require.NoError(t, err)
	assert.Len(t, links, 50)
}
