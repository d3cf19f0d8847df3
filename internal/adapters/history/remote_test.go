package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/history"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

// openRemote backs the remote store with SQLite; the store itself only
// speaks gorm, so the dialect swap is test-only wiring.
func openRemote(t *testing.T) *history.RemoteStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "remote.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := history.NewRemoteStore(db)
	require.NoError(t, err)
	return store
}

const user = "user-42"

func TestRemote_InsertAndListByUser(t *testing.T) {
	store := openRemote(t)
	now := time.Now()

	require.NoError(t, store.Insert(context.Background(), user, record("tok-1", now, "the_fool", "the_star", "death")))
	require.NoError(t, store.Insert(context.Background(), user, record("tok-2", now.Add(time.Minute), "justice")))
	require.NoError(t, store.Insert(context.Background(), "someone-else", record("tok-3", now, "the_sun")))

	recs, err := store.ListByUser(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "tok-2", recs[0].SessionToken, "most recent first")
	assert.Equal(t, "tok-1", recs[1].SessionToken)
}

func TestRemote_InsertSameSessionTokenIsNoop(t *testing.T) {
	store := openRemote(t)
	now := time.Now()
	rec := record("tok-1", now, "the_fool", "the_star", "death")

	require.NoError(t, store.Insert(context.Background(), user, rec))
	rec.ID = now.Add(time.Second).UnixMilli()
	require.NoError(t, store.Insert(context.Background(), user, rec))

	recs, err := store.ListByUser(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRemote_UpdateScopedToOwner(t *testing.T) {
	store := openRemote(t)
	now := time.Now()
	rec := record("tok-1", now, "the_fool", "the_star", "death")
	require.NoError(t, store.Insert(context.Background(), user, rec))

	comment := "Guardei essa."
	err := store.Update(context.Background(), "intruder", rec.ID, ports.RecordUpdate{Comment: &comment})
	require.True(t, errors.Is(err, domain.ErrRecordNotFound))

	rating := 4
	require.NoError(t, store.Update(context.Background(), user, rec.ID, ports.RecordUpdate{
		Comment: &comment,
		Rating:  &rating,
	}))

	recs, err := store.ListByUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, comment, recs[0].Comment)
	assert.Equal(t, 4, recs[0].Rating)
}

func TestRemote_MarkViewed(t *testing.T) {
	store := openRemote(t)
	now := time.Now()
	rec := record("tok-1", now, "the_fool", "the_star", "death")
	require.NoError(t, store.Insert(context.Background(), user, rec))

	require.NoError(t, store.MarkViewed(context.Background(), user, rec.ID))
	recs, err := store.ListByUser(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, recs[0].ViewedAt)

	// Already-viewed is a no-op; a missing record is not.
	require.NoError(t, store.MarkViewed(context.Background(), user, rec.ID))
	err = store.MarkViewed(context.Background(), user, 999)
	require.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestRemote_Delete(t *testing.T) {
	store := openRemote(t)
	now := time.Now()
	rec := record("tok-1", now, "the_fool", "the_star", "death")
	require.NoError(t, store.Insert(context.Background(), user, rec))

	require.NoError(t, store.Delete(context.Background(), user, rec.ID))
	recs, err := store.ListByUser(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, recs)

	err = store.Delete(context.Background(), user, rec.ID)
	require.True(t, errors.Is(err, domain.ErrRecordNotFound))
}
