// Package catalog orchestrates the offline-first read/refresh protocol over
// the record store and the remote catalog client. The cache is the source of
// truth for what callers display; the network is a best-effort background
// updater.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"cinecache/models"
	"cinecache/repository"
	"cinecache/services"
)

// Status tags an Update emitted by ObserveCategory.
type Status int

const (
	// StatusLoading marks the protocol's loading boundary; the Loading
	// field carries whether work is starting or finished.
	StatusLoading Status = iota
	// StatusSuccess carries a snapshot of the category.
	StatusSuccess
	// StatusError carries a failure message alongside the last cached
	// snapshot. Data is never dropped on refresh failure.
	StatusError
)

// Update is one emission of the cache-then-network protocol.
type Update struct {
	Status  Status
	Loading bool
	Movies  []models.Movie
	Err     string
}

// Syncer coordinates category refreshes, bookmark toggles, and detail
// lookups. Concurrent refreshes of the same category collapse into one
// remote call.
type Syncer struct {
	repo         *repository.MovieRepository
	tmdb         *services.TMDBService
	imageBaseURL string
	refreshes    singleflight.Group
}

// NewSyncer creates a syncer over the given store and remote client.
func NewSyncer(repo *repository.MovieRepository, tmdb *services.TMDBService, imageBaseURL string) *Syncer {
	if imageBaseURL == "" {
		imageBaseURL = services.DefaultImageBaseURL
	}
	return &Syncer{repo: repo, tmdb: tmdb, imageBaseURL: imageBaseURL}
}

// ObserveCategory runs the per-category protocol and then keeps the channel
// live until ctx is cancelled. Emission order is fixed: loading=true, the
// cached snapshot (possibly empty), an error update if a triggered refresh
// fails, the post-refresh snapshot, loading=false. A refresh is triggered
// when forceRefresh is set or the cached snapshot was empty. After the
// terminal loading=false update the channel carries store-driven snapshots.
func (s *Syncer) ObserveCategory(ctx context.Context, category models.Category, forceRefresh bool) <-chan Update {
	out := make(chan Update, 8)

	go func() {
		defer close(out)

		send := func(u Update) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(Update{Status: StatusLoading, Loading: true}) {
			return
		}

		cached, err := s.repo.GetByCategory(ctx, category)
		if err != nil {
			send(Update{Status: StatusError, Err: err.Error()})
			send(Update{Status: StatusLoading, Loading: false})
			return
		}
		snapshot := models.ProjectAll(cached, s.imageBaseURL)
		if !send(Update{Status: StatusSuccess, Movies: snapshot}) {
			return
		}

		if category.Refreshable() && (forceRefresh || len(cached) == 0) {
			if err := s.Refresh(ctx, category); err != nil {
				if !send(Update{Status: StatusError, Movies: snapshot, Err: err.Error()}) {
					return
				}
			}
		}

		// Attach the live query before the terminal update so mutations
		// arriving after it are never missed.
		updates, stop := s.repo.WatchCategory(ctx, category)
		defer stop()

		final, err := s.repo.GetByCategory(ctx, category)
		if err != nil {
			send(Update{Status: StatusError, Movies: snapshot, Err: err.Error()})
			send(Update{Status: StatusLoading, Loading: false})
			return
		}
		if !send(Update{Status: StatusSuccess, Movies: models.ProjectAll(final, s.imageBaseURL)}) {
			return
		}
		if !send(Update{Status: StatusLoading, Loading: false}) {
			return
		}

		// The live query's attach replay duplicates the final snapshot
		// above, so the first emission is dropped.
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case records, ok := <-updates:
				if !ok {
					return
				}
				if first {
					first = false
					continue
				}
				if !send(Update{Status: StatusSuccess, Movies: models.ProjectAll(records, s.imageBaseURL)}) {
					return
				}
			}
		}
	}()

	return out
}

// ObserveBookmarks returns a live view of the bookmark list. No network is
// ever involved.
func (s *Syncer) ObserveBookmarks(ctx context.Context) <-chan []models.Movie {
	out := make(chan []models.Movie, 8)

	go func() {
		defer close(out)

		updates, stop := s.repo.WatchCategory(ctx, models.CategoryBookmarked)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case records, ok := <-updates:
				if !ok {
					return
				}
				select {
				case out <- models.ProjectAll(records, s.imageBaseURL):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Refresh fetches the category's remote batch and merges it into the store.
// Concurrent calls for the same category share the in-flight fetch.
func (s *Syncer) Refresh(ctx context.Context, category models.Category) error {
	if !category.Refreshable() {
		return fmt.Errorf("category %q cannot be refreshed", category)
	}

	_, err, _ := s.refreshes.Do(string(category), func() (any, error) {
		var items []services.Movie
		var err error
		switch category {
		case models.CategoryTrending:
			items, err = s.tmdb.FetchTrending(ctx)
		case models.CategoryNowPlaying:
			items, err = s.tmdb.FetchNowPlaying(ctx, 1)
		}
		if err != nil {
			return nil, err
		}

		incoming := make([]models.MovieRecord, 0, len(items))
		for _, item := range items {
			incoming = append(incoming, item.Record())
		}
		return nil, s.repo.MergeCategory(ctx, category, incoming)
	})
	return err
}

// ToggleBookmark flips the record's bookmark flag and returns the new state.
// Live queries re-emit on their own once the store changes.
func (s *Syncer) ToggleBookmark(ctx context.Context, id int) (bool, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	bookmarked := !record.IsBookmarked
	if err := s.repo.SetBookmark(ctx, id, bookmarked); err != nil {
		return false, err
	}
	return bookmarked, nil
}

// GetDetail returns the movie projection for an id, cache-first: a cached
// record is returned without any remote call. On a miss the remote detail is
// fetched, persisted with all flags false, and returned. A remote failure on
// a true miss is terminal for the call.
func (s *Syncer) GetDetail(ctx context.Context, id int) (*models.Movie, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err == nil {
		movie := record.Project(s.imageBaseURL)
		return &movie, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	item, err := s.tmdb.FetchDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	fresh := item.Record()
	if err := s.repo.UpsertOne(ctx, fresh); err != nil {
		return nil, err
	}
	movie := fresh.Project(s.imageBaseURL)
	return &movie, nil
}
