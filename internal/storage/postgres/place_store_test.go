package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

func TestAppendInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlaceStoreWithPool(mock, "")
	require.NoError(t, err)

	rec := crawler.PersistedRecord{
		Name:      "Banque Populaire",
		City:      "Fès",
		Address:   "Av. Hassan II, Fès",
		Latitude:  34.0331,
		Longitude: -5.0003,
		Link:      "https://www.google.com/maps/place/bp-fes",
		Keyword:   "Banque Populaire",
		Category:  "Bank",
		RunID:     "run-1",
		ScrapedAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO places").
		WithArgs(
			rec.Link,
			rec.Name,
			rec.City,
			rec.Address,
			rec.Latitude,
			rec.Longitude,
			rec.Keyword,
			rec.Category,
			pgxmock.AnyArg(),
			rec.RunID,
			rec.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsPersistenceError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlaceStoreWithPool(mock, "bank_branches")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO bank_branches").WillReturnError(errors.New("connection reset"))

	err = store.Append(context.Background(), crawler.PersistedRecord{Link: "x"})
	assert.ErrorIs(t, err, crawler.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingKeys(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlaceStoreWithPool(mock, "places")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT link FROM places").
		WillReturnRows(pgxmock.NewRows([]string{"link"}).AddRow("https://maps/place/a").AddRow("https://maps/place/b"))

	keys, err := store.ExistingKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://maps/place/a", "https://maps/place/b"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlaceStoreWithPool(mock, "places")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS places").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPlaceStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPlaceStoreWithPool(nil, "places")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPlaceStoreWithPool(mock, "places; DROP TABLE x")
	assert.Error(t, err)

	_, err = NewPlaceStore(context.Background(), Config{})
	assert.Error(t, err)
}
