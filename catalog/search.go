package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"cinecache/models"
)

// DefaultDebounce is the quiet period a query must hold before a search
// fires.
const DefaultDebounce = 500 * time.Millisecond

// Search runs one search against the remote catalog, resolving each hit's
// bookmark flag from the store. When the remote call fails it degrades
// silently to the store's local title search.
func (s *Syncer) Search(ctx context.Context, query string) ([]models.Movie, error) {
	items, err := s.tmdb.SearchMovies(ctx, query)
	if err != nil {
		records, localErr := s.repo.Search(ctx, query)
		if localErr != nil {
			return nil, localErr
		}
		return models.ProjectAll(records, s.imageBaseURL), nil
	}

	ids := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	existing, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	bookmarked := make(map[int]bool, len(existing))
	for _, record := range existing {
		bookmarked[record.ID] = record.IsBookmarked
	}

	movies := make([]models.Movie, 0, len(items))
	for _, item := range items {
		record := item.Record()
		record.IsBookmarked = bookmarked[item.ID]
		movies = append(movies, record.Project(s.imageBaseURL))
	}
	return movies, nil
}

// Searcher is the query-driven search pipeline: inputs are debounced,
// consecutive duplicates are suppressed, and each new query cancels the
// in-flight search for the previous one so stale results never overwrite
// fresher ones.
type Searcher struct {
	syncer   *Syncer
	debounce time.Duration

	queries chan string
	results chan []models.Movie
	wg      sync.WaitGroup
}

// NewSearcher creates a searcher over the syncer's search path. A
// non-positive debounce falls back to DefaultDebounce.
func NewSearcher(syncer *Syncer, debounce time.Duration) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Searcher{
		syncer:   syncer,
		debounce: debounce,
		queries:  make(chan string, 16),
		results:  make(chan []models.Movie, 16),
	}
}

// Start launches the pipeline. It runs until ctx is cancelled, after which
// Results is closed.
func (s *Searcher) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the pipeline has fully shut down.
func (s *Searcher) Wait() {
	s.wg.Wait()
}

// SetQuery feeds a new query value into the pipeline.
func (s *Searcher) SetQuery(query string) {
	s.queries <- query
}

// Results delivers one movie list per settled query, latest query wins.
func (s *Searcher) Results() <-chan []models.Movie {
	return s.results
}

type searchOutcome struct {
	generation int
	movies     []models.Movie
}

func (s *Searcher) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	var (
		timer      *time.Timer
		timerC     <-chan time.Time
		pending    string
		last       string
		settled    bool
		generation int
		cancelPrev context.CancelFunc
	)
	completed := make(chan searchOutcome, 16)

	defer func() {
		if cancelPrev != nil {
			cancelPrev()
		}
	}()

	emit := func(movies []models.Movie) bool {
		select {
		case s.results <- movies:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case query := <-s.queries:
			pending = query
			if timer != nil && !timer.Stop() {
				<-timerC
			}
			timer = time.NewTimer(s.debounce)
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil

			query := pending
			if settled && query == last {
				continue // identical consecutive query, no redundant call
			}
			last, settled = query, true

			// Supersede: the previous in-flight search must not
			// reach observable state anymore.
			if cancelPrev != nil {
				cancelPrev()
				cancelPrev = nil
			}
			generation++

			if strings.TrimSpace(query) == "" {
				if !emit([]models.Movie{}) {
					return
				}
				continue
			}

			queryCtx, cancel := context.WithCancel(ctx)
			cancelPrev = cancel
			gen := generation
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				movies, err := s.syncer.Search(queryCtx, query)
				if err != nil {
					return
				}
				select {
				case completed <- searchOutcome{generation: gen, movies: movies}:
				case <-ctx.Done():
				}
			}()

		case outcome := <-completed:
			if outcome.generation != generation {
				continue // superseded while in flight
			}
			if !emit(outcome.movies) {
				return
			}
		}
	}
}
