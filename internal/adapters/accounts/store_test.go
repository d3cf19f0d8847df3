package accounts_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/accounts"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

func openStore(t *testing.T) *accounts.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := accounts.NewStore(db)
	require.NoError(t, err)
	return store
}

func TestLookup_UnknownUserIsFree(t *testing.T) {
	store := openStore(t)
	tier, err := store.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, ports.TierFree, tier)
}

func TestEnsureAndLookup(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ensure(ctx, "u1", "u1@example.com", ports.TierPlus))
	tier, err := store.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ports.TierPlus, tier)

	// Ensure is create-if-absent; it never downgrades.
	require.NoError(t, store.Ensure(ctx, "u1", "u1@example.com", ports.TierFree))
	tier, err = store.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ports.TierPlus, tier)
}

func TestUsageLedger_IncrementAndRead(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	used, err := store.Used(ctx, "device:abc", day)
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	require.NoError(t, store.Increment(ctx, "device:abc", day))
	require.NoError(t, store.Increment(ctx, "device:abc", day))

	used, err = store.Used(ctx, "device:abc", day)
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	// A new day starts a fresh counter.
	used, err = store.Used(ctx, "device:abc", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	// Subjects are independent.
	used, err = store.Used(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}
