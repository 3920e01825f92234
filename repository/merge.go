package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cinecache/models"
)

// MergeCategory reconciles a remote batch into the store for one category,
// atomically: the category flag is cleared store-wide, then every record in
// the batch is re-tagged for the category while keeping its existing bookmark
// and other-category flags. Records falling out of the batch lose the flag;
// brand-new ids start with all other flags false.
//
// Incoming records carry descriptive fields only; any flags set by the caller
// are ignored. Readers never observe a partially applied merge.
func (r *MovieRepository) MergeCategory(ctx context.Context, category models.Category, incoming []models.MovieRecord) error {
	if !category.Refreshable() {
		return fmt.Errorf("category %q cannot be merged", category)
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := clearCategoryFlagTx(ctx, tx, category); err != nil {
			return err
		}

		ids := make([]int, len(incoming))
		for i, record := range incoming {
			ids[i] = record.ID
		}

		existing, err := getByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		existingByID := make(map[int]models.MovieRecord, len(existing))
		for _, record := range existing {
			existingByID[record.ID] = record
		}

		merged := make([]models.MovieRecord, 0, len(incoming))
		for _, record := range incoming {
			prior, known := existingByID[record.ID]

			record.IsBookmarked = known && prior.IsBookmarked
			switch category {
			case models.CategoryTrending:
				record.IsTrending = true
				record.IsNowPlaying = known && prior.IsNowPlaying
			case models.CategoryNowPlaying:
				record.IsNowPlaying = true
				record.IsTrending = known && prior.IsTrending
			}
			merged = append(merged, record)
		}

		return upsertBatchTx(ctx, tx, merged)
	})
	if err != nil {
		return fmt.Errorf("failed to merge %s batch: %w", category, err)
	}

	r.hub.broadcast()
	return nil
}
