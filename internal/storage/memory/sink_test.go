package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

func TestSinkAppendAndKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSink("https://maps/place/old")
	require.NoError(t, s.Append(ctx, crawler.PersistedRecord{Name: "A", Link: "https://maps/place/a"}))
	require.NoError(t, s.Append(ctx, crawler.PersistedRecord{Name: "A again", Link: "https://maps/place/a"}))
	require.NoError(t, s.Append(ctx, crawler.PersistedRecord{Name: "B", Link: "https://maps/place/b"}))

	keys, err := s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://maps/place/old", "https://maps/place/a", "https://maps/place/b"}, keys)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "A", s.Records()[0].Name)

	recs := s.Records()
	recs[0].Name = "changed"
	assert.Equal(t, "A", s.Records()[0].Name, "Records returns a copy")
	assert.NoError(t, s.Close())
}
