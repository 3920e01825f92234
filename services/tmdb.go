// Package services provides external service integrations.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cinecache/models"
)

// DefaultBaseURL is the production TMDB API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

// DefaultImageBaseURL is the host prefix that resolves relative poster and
// backdrop paths into display URLs.
const DefaultImageBaseURL = "https://image.tmdb.org/t/p/w500"

// TMDBService handles interactions with The Movie Database API. It is
// stateless: every call is a single attempt, and failures are surfaced to the
// caller unretried.
type TMDBService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Movie represents a single movie item as returned by the TMDB API.
type Movie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	VoteAverage  float64 `json:"vote_average"`
}

// movieListResponse wraps the paginated list endpoints.
type movieListResponse struct {
	Page    int     `json:"page"`
	Results []Movie `json:"results"`
}

// Record maps the remote item onto a cache record carrying descriptive
// fields only; all flags start false.
func (m Movie) Record() models.MovieRecord {
	return models.MovieRecord{
		ID:           m.ID,
		Title:        m.Title,
		Overview:     m.Overview,
		PosterPath:   m.PosterPath,
		BackdropPath: m.BackdropPath,
		ReleaseDate:  m.ReleaseDate,
		VoteAverage:  m.VoteAverage,
	}
}

// NewTMDBService creates a new TMDB service instance. baseURL falls back to
// the production API when empty.
func NewTMDBService(apiKey, baseURL string) *TMDBService {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TMDBService{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchTrending fetches the movies trending today.
func (t *TMDBService) FetchTrending(ctx context.Context) ([]Movie, error) {
	return t.fetchList(ctx, "/trending/movie/day", nil)
}

// FetchNowPlaying fetches the movies currently playing in theaters.
func (t *TMDBService) FetchNowPlaying(ctx context.Context, page int) ([]Movie, error) {
	if page < 1 {
		page = 1
	}
	return t.fetchList(ctx, "/movie/now_playing", url.Values{
		"page": []string{strconv.Itoa(page)},
	})
}

// SearchMovies searches the remote catalog by free-text query.
func (t *TMDBService) SearchMovies(ctx context.Context, query string) ([]Movie, error) {
	return t.fetchList(ctx, "/search/movie", url.Values{
		"query":         []string{query},
		"include_adult": []string{"false"},
	})
}

// FetchDetail fetches a single movie by its TMDB id.
func (t *TMDBService) FetchDetail(ctx context.Context, id int) (*Movie, error) {
	var movie Movie
	if err := t.get(ctx, fmt.Sprintf("/movie/%d", id), nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

func (t *TMDBService) fetchList(ctx context.Context, path string, params url.Values) ([]Movie, error) {
	var response movieListResponse
	if err := t.get(ctx, path, params, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

func (t *TMDBService) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", t.apiKey)
	params.Set("language", "en-US")

	requestURL := t.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build TMDB request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from TMDB: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("TMDB API returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode TMDB response: %w", err)
	}
	return nil
}
