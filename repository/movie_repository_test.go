package repository

import (
	"context"
	"testing"
	"time"

	"cinecache/database"
	"cinecache/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (*MovieRepository, func()) {
	// Create a temporary test database
	testDB, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Initialize schema
	if err := testDB.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize test schema: %v", err)
	}

	repo := NewMovieRepository(testDB)

	// Return cleanup function
	cleanup := func() {
		repo.Close()
		if err := testDB.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	}

	return repo, cleanup
}

func testRecord(id int, title string) models.MovieRecord {
	return models.MovieRecord{
		ID:          id,
		Title:       title,
		Overview:    "A test movie",
		PosterPath:  "/poster.jpg",
		ReleaseDate: "2023-06-01",
		VoteAverage: 7.5,
	}
}

func TestMovieRepository_UpsertAndGetByID(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	record := testRecord(10, "Heat")
	record.BackdropPath = "/backdrop.jpg"
	require.NoError(t, repo.UpsertOne(ctx, record))

	got, err := repo.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Heat", got.Title)
	assert.Equal(t, "/poster.jpg", got.PosterPath)
	assert.Equal(t, "/backdrop.jpg", got.BackdropPath)
	assert.Equal(t, 7.5, got.VoteAverage)
	assert.False(t, got.LastUpdated.IsZero())

	// Replace by id overwrites descriptive fields wholesale
	record.Title = "Heat (1995)"
	record.Overview = "Updated overview"
	require.NoError(t, repo.UpsertOne(ctx, record))

	got, err = repo.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Heat (1995)", got.Title)
	assert.Equal(t, "Updated overview", got.Overview)
}

func TestMovieRepository_GetByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	_, err := repo.GetByID(context.Background(), 999)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMovieRepository_GetByIDs(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, []models.MovieRecord{
		testRecord(1, "Alien"),
		testRecord(2, "Blade Runner"),
		testRecord(3, "Casablanca"),
	}))

	records, err := repo.GetByIDs(ctx, []int{1, 3, 99})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMovieRepository_GetByCategory_Sorting(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	low := testRecord(1, "Low Rated")
	low.VoteAverage = 5.0
	low.ReleaseDate = "2023-01-01"
	low.IsTrending = true
	low.IsNowPlaying = true

	high := testRecord(2, "High Rated")
	high.VoteAverage = 9.0
	high.ReleaseDate = "2022-01-01"
	high.IsTrending = true
	high.IsNowPlaying = true

	require.NoError(t, repo.UpsertBatch(ctx, []models.MovieRecord{low, high}))

	// Trending sorts by rating descending
	trending, err := repo.GetByCategory(ctx, models.CategoryTrending)
	require.NoError(t, err)
	require.Len(t, trending, 2)
	assert.Equal(t, 2, trending[0].ID)
	assert.Equal(t, 1, trending[1].ID)

	// Now playing sorts by release date descending
	nowPlaying, err := repo.GetByCategory(ctx, models.CategoryNowPlaying)
	require.NoError(t, err)
	require.Len(t, nowPlaying, 2)
	assert.Equal(t, 1, nowPlaying[0].ID)
	assert.Equal(t, 2, nowPlaying[1].ID)
}

func TestMovieRepository_GetByCategory_Bookmarks(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	first := testRecord(1, "First")
	first.IsBookmarked = true
	second := testRecord(2, "Second")

	require.NoError(t, repo.UpsertBatch(ctx, []models.MovieRecord{first, second}))

	bookmarks, err := repo.GetByCategory(ctx, models.CategoryBookmarked)
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, 1, bookmarks[0].ID)
}

func TestMovieRepository_GetByCategory_UnknownCategory(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	_, err := repo.GetByCategory(context.Background(), models.Category("upcoming"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestMovieRepository_Search(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, []models.MovieRecord{
		testRecord(1, "The Batman"),
		testRecord(2, "Batman Begins"),
		testRecord(3, "Superman"),
	}))

	// Case-insensitive substring match, ordered by title ascending
	results, err := repo.Search(ctx, "batman")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Batman Begins", results[0].Title)
	assert.Equal(t, "The Batman", results[1].Title)

	results, err = repo.Search(ctx, "nothing here")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMovieRepository_SetBookmark(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.UpsertOne(ctx, testRecord(1, "Dune")))

	require.NoError(t, repo.SetBookmark(ctx, 1, true))
	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsBookmarked)

	require.NoError(t, repo.SetBookmark(ctx, 1, false))
	got, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.IsBookmarked)
}

func TestMovieRepository_SetBookmark_AbsentID(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	// No-op when the id does not exist
	err := repo.SetBookmark(context.Background(), 42, true)
	assert.NoError(t, err)
}

func TestMovieRepository_ClearCategoryFlag(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	record := testRecord(1, "Trending Movie")
	record.IsTrending = true
	record.IsNowPlaying = true
	record.IsBookmarked = true
	require.NoError(t, repo.UpsertOne(ctx, record))

	require.NoError(t, repo.ClearCategoryFlag(ctx, models.CategoryTrending))

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.IsTrending)
	assert.True(t, got.IsNowPlaying)
	assert.True(t, got.IsBookmarked)
}

func TestMovieRepository_ClearCategoryFlag_Bookmarks(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	err := repo.ClearCategoryFlag(context.Background(), models.CategoryBookmarked)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cleared")
}

func TestMovieRepository_DeleteStale(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	orphan := testRecord(1, "Orphan")
	bookmarked := testRecord(2, "Bookmarked")
	bookmarked.IsBookmarked = true
	trending := testRecord(3, "Still Trending")
	trending.IsTrending = true

	require.NoError(t, repo.UpsertBatch(ctx, []models.MovieRecord{orphan, bookmarked, trending}))

	// Nothing is older than an hour yet
	removed, err := repo.DeleteStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// With a zero TTL every flagless, unbookmarked record is stale
	time.Sleep(10 * time.Millisecond)
	removed, err = repo.DeleteStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, 2)
	assert.NoError(t, err)
	_, err = repo.GetByID(ctx, 3)
	assert.NoError(t, err)
}

func TestDatabase_SchemaVersion(t *testing.T) {
	testDB, err := database.NewDB(":memory:")
	require.NoError(t, err)
	defer func() {
		if err := testDB.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	}()

	require.NoError(t, testDB.InitSchema())

	version, err := testDB.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
