// Package repository provides the persistent movie record store, its merge
// protocol, and live query subscriptions.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"cinecache/database"
	"cinecache/models"
)

// ErrNotFound is returned by point lookups when no record exists for the id.
var ErrNotFound = errors.New("movie record not found")

const movieColumns = `id, title, overview, poster_path, backdrop_path, release_date,
			   vote_average, is_bookmarked, is_trending, is_now_playing, last_updated`

// MovieRepository handles database operations for cached movie records.
// Mutations notify the watcher hub so live queries re-emit.
type MovieRepository struct {
	db  *database.DB
	hub *watchHub
}

// NewMovieRepository creates a new movie repository
func NewMovieRepository(db *database.DB) *MovieRepository {
	return &MovieRepository{db: db, hub: newWatchHub(defaultWatchGrace)}
}

// Close tears down all live query subscriptions. The database connection is
// owned by the caller and is not closed here.
func (r *MovieRepository) Close() {
	r.hub.close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetByCategory retrieves all records flagged for the category with its sort
// order: trending by rating descending, now-playing by release date
// descending, bookmarks in insertion order.
func (r *MovieRepository) GetByCategory(ctx context.Context, category models.Category) ([]models.MovieRecord, error) {
	flag, err := categoryColumn(category)
	if err != nil {
		return nil, err
	}

	order := "rowid ASC"
	switch category {
	case models.CategoryTrending:
		order = "vote_average DESC"
	case models.CategoryNowPlaying:
		order = "release_date DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM movies WHERE %s = 1 ORDER BY %s", movieColumns, flag, order)
	return queryRecords(ctx, r.db, query)
}

// GetByID retrieves a single record, or ErrNotFound.
func (r *MovieRepository) GetByID(ctx context.Context, id int) (*models.MovieRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM movies WHERE id = ?", movieColumns)
	records, err := queryRecords(ctx, r.db, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("movie %d: %w", id, ErrNotFound)
	}
	return &records[0], nil
}

// GetByIDs retrieves the records that exist for the given ids. Missing ids
// are simply absent from the result.
func (r *MovieRepository) GetByIDs(ctx context.Context, ids []int) ([]models.MovieRecord, error) {
	return getByIDs(ctx, r.db, ids)
}

func getByIDs(ctx context.Context, q querier, ids []int) ([]models.MovieRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("SELECT %s FROM movies WHERE id IN (%s)", movieColumns, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryRecords(ctx, q, query, args...)
}

// Search matches cached titles by case-insensitive substring, ordered
// ascending by title.
func (r *MovieRepository) Search(ctx context.Context, queryText string) ([]models.MovieRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies
		WHERE title LIKE '%%' || ? || '%%' ORDER BY title COLLATE NOCASE ASC`, movieColumns)
	return queryRecords(ctx, r.db, query, queryText)
}

// UpsertOne inserts or replaces a single record by id, stamping last_updated.
func (r *MovieRepository) UpsertOne(ctx context.Context, record models.MovieRecord) error {
	record.LastUpdated = time.Now()
	if _, err := r.db.ExecContext(ctx, upsertQuery, upsertArgs(record)...); err != nil {
		return fmt.Errorf("failed to upsert movie %d: %w", record.ID, err)
	}
	r.hub.broadcast()
	return nil
}

// UpsertBatch inserts or replaces records by id in one transaction.
func (r *MovieRepository) UpsertBatch(ctx context.Context, records []models.MovieRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertBatchTx(ctx, tx, records)
	})
	if err != nil {
		return err
	}
	r.hub.broadcast()
	return nil
}

func upsertBatchTx(ctx context.Context, tx *sql.Tx, records []models.MovieRecord) error {
	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			log.Printf("Failed to close statement: %v", err)
		}
	}()

	now := time.Now()
	for _, record := range records {
		record.LastUpdated = now
		if _, err := stmt.ExecContext(ctx, upsertArgs(record)...); err != nil {
			return fmt.Errorf("failed to upsert movie %d: %w", record.ID, err)
		}
	}
	return nil
}

// SetBookmark updates only the bookmark flag. A no-op when the id is absent.
func (r *MovieRepository) SetBookmark(ctx context.Context, id int, bookmarked bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE movies SET is_bookmarked = ?, last_updated = ? WHERE id = ?",
		bookmarked, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update bookmark for movie %d: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		r.hub.broadcast()
	}
	return nil
}

// ClearCategoryFlag sets the category flag false for all records. Only the
// remote-fed categories can be cleared; bookmarks are user state.
func (r *MovieRepository) ClearCategoryFlag(ctx context.Context, category models.Category) error {
	if !category.Refreshable() {
		return fmt.Errorf("category %q cannot be cleared", category)
	}
	if err := clearCategoryFlagTx(ctx, r.db, category); err != nil {
		return err
	}
	r.hub.broadcast()
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func clearCategoryFlagTx(ctx context.Context, e execer, category models.Category) error {
	flag, err := categoryColumn(category)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE movies SET %s = 0 WHERE %s = 1", flag, flag)
	if _, err := e.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear %s flag: %w", category, err)
	}
	return nil
}

// DeleteStale removes records that belong to no category, carry no bookmark,
// and have not been touched since the cutoff. Returns the number of rows
// removed.
func (r *MovieRepository) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM movies
		WHERE is_bookmarked = 0 AND is_trending = 0 AND is_now_playing = 0
		  AND last_updated < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale movies: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted movies: %w", err)
	}
	if removed > 0 {
		r.hub.broadcast()
	}
	return removed, nil
}

const upsertQuery = `
	INSERT OR REPLACE INTO movies (id, title, overview, poster_path, backdrop_path,
								   release_date, vote_average, is_bookmarked,
								   is_trending, is_now_playing, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func upsertArgs(record models.MovieRecord) []any {
	return []any{
		record.ID, record.Title, record.Overview,
		nullString(record.PosterPath), nullString(record.BackdropPath),
		nullString(record.ReleaseDate), record.VoteAverage,
		record.IsBookmarked, record.IsTrending, record.IsNowPlaying,
		record.LastUpdated,
	}
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]models.MovieRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var records []models.MovieRecord
	for rows.Next() {
		var record models.MovieRecord
		var posterPath, backdropPath, releaseDate sql.NullString

		err := rows.Scan(
			&record.ID, &record.Title, &record.Overview,
			&posterPath, &backdropPath, &releaseDate,
			&record.VoteAverage, &record.IsBookmarked,
			&record.IsTrending, &record.IsNowPlaying,
			&record.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}

		// Handle nullable fields
		if posterPath.Valid {
			record.PosterPath = posterPath.String
		}
		if backdropPath.Valid {
			record.BackdropPath = backdropPath.String
		}
		if releaseDate.Valid {
			record.ReleaseDate = releaseDate.String
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}

	return records, nil
}

func categoryColumn(category models.Category) (string, error) {
	switch category {
	case models.CategoryTrending:
		return "is_trending", nil
	case models.CategoryNowPlaying:
		return "is_now_playing", nil
	case models.CategoryBookmarked:
		return "is_bookmarked", nil
	default:
		return "", fmt.Errorf("unknown category %q", category)
	}
}

// Helper function for handling null values
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
