package repository

import (
	"context"
	"testing"
	"time"

	"cinecache/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvRecords(t *testing.T, ch <-chan []models.MovieRecord) []models.MovieRecord {
	t.Helper()
	select {
	case records := <-ch:
		return records
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live query emission")
		return nil
	}
}

func TestWatchCategory_EmitsCurrentRowsOnAttach(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	record := testRecord(1, "Seeded")
	record.IsTrending = true
	require.NoError(t, repo.UpsertOne(ctx, record))

	updates, stop := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stop()

	records := recvRecords(t, updates)
	require.Len(t, records, 1)
	assert.Equal(t, "Seeded", records[0].Title)
}

func TestWatchCategory_ReEmitsOnChange(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	updates, stop := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stop()

	assert.Empty(t, recvRecords(t, updates))

	record := testRecord(1, "Arrives Later")
	record.IsTrending = true
	require.NoError(t, repo.UpsertOne(ctx, record))

	records := recvRecords(t, updates)
	require.Len(t, records, 1)
	assert.Equal(t, "Arrives Later", records[0].Title)
}

func TestWatchCategory_BookmarkToggleWakesBookmarkWatch(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.UpsertOne(ctx, testRecord(1, "Toggled")))

	updates, stop := repo.WatchCategory(ctx, models.CategoryBookmarked)
	defer stop()
	assert.Empty(t, recvRecords(t, updates))

	require.NoError(t, repo.SetBookmark(ctx, 1, true))
	records := recvRecords(t, updates)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsBookmarked)
}

func TestWatchCategory_MulticastSharesOneQuery(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	first, stopFirst := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stopFirst()
	assert.Empty(t, recvRecords(t, first))

	second, stopSecond := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stopSecond()
	// Late subscriber gets the latest snapshot replayed
	assert.Empty(t, recvRecords(t, second))

	repo.hub.mu.Lock()
	assert.Len(t, repo.hub.queries, 1)
	repo.hub.mu.Unlock()

	record := testRecord(1, "Broadcast")
	record.IsTrending = true
	require.NoError(t, repo.UpsertOne(ctx, record))

	assert.Len(t, recvRecords(t, first), 1)
	assert.Len(t, recvRecords(t, second), 1)
}

func TestWatchSearch_ReEmitsOnChange(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	updates, stop := repo.WatchSearch(ctx, "batman")
	defer stop()
	assert.Empty(t, recvRecords(t, updates))

	require.NoError(t, repo.UpsertOne(ctx, testRecord(1, "The Batman")))
	records := recvRecords(t, updates)
	require.Len(t, records, 1)
}

func TestWatchHub_GracePeriodTeardown(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	repo.hub.grace = 20 * time.Millisecond
	ctx := context.Background()

	updates, stop := repo.WatchCategory(ctx, models.CategoryTrending)
	recvRecords(t, updates)
	stop()

	assert.Eventually(t, func() bool {
		repo.hub.mu.Lock()
		defer repo.hub.mu.Unlock()
		return len(repo.hub.queries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchHub_ResubscribeWithinGraceKeepsQuery(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	repo.hub.grace = time.Hour
	ctx := context.Background()

	updates, stop := repo.WatchCategory(ctx, models.CategoryTrending)
	recvRecords(t, updates)
	stop()

	// Within the grace period the running query is reused
	again, stopAgain := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stopAgain()
	recvRecords(t, again)

	repo.hub.mu.Lock()
	assert.Len(t, repo.hub.queries, 1)
	for _, q := range repo.hub.queries {
		assert.Nil(t, q.teardown)
	}
	repo.hub.mu.Unlock()
}

func TestWatchCategory_ContextCancelReleasesSubscription(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	repo.hub.grace = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	updates, _ := repo.WatchCategory(ctx, models.CategoryTrending)
	recvRecords(t, updates)

	cancel()

	assert.Eventually(t, func() bool {
		repo.hub.mu.Lock()
		defer repo.hub.mu.Unlock()
		return len(repo.hub.queries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchHub_CloseEndsSubscriptions(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	updates, stop := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stop()
	recvRecords(t, updates)

	repo.Close()

	_, open := <-updates
	assert.False(t, open)

	// Subscribing after close returns an already-closed channel
	ch, stopAfter := repo.WatchCategory(ctx, models.CategoryTrending)
	defer stopAfter()
	_, open = <-ch
	assert.False(t, open)
}
