// Package models defines the domain types shared across the catalog cache.
package models

import "time"

// Category identifies one of the curated movie groupings the remote source
// refreshes independently, plus the user-owned bookmark list.
type Category string

const (
	CategoryTrending   Category = "trending"
	CategoryNowPlaying Category = "now_playing"
	CategoryBookmarked Category = "bookmarked"
)

// Refreshable reports whether the category is fed by the remote catalog.
// Bookmarks are user state and never refreshed from the network.
func (c Category) Refreshable() bool {
	return c == CategoryTrending || c == CategoryNowPlaying
}

// MovieRecord is the canonical cached movie entity, keyed by the remote
// catalog's stable id. Category flags are remote-controlled and rewritten on
// every refresh of that category; IsBookmarked is user-controlled and only
// ever changed by an explicit bookmark toggle.
type MovieRecord struct {
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview"`
	PosterPath   string    `json:"poster_path,omitempty"`
	BackdropPath string    `json:"backdrop_path,omitempty"`
	ReleaseDate  string    `json:"release_date,omitempty"`
	VoteAverage  float64   `json:"vote_average"`
	IsBookmarked bool      `json:"is_bookmarked"`
	IsTrending   bool      `json:"is_trending"`
	IsNowPlaying bool      `json:"is_now_playing"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Movie is the read-only presentation projection of a MovieRecord: image
// paths resolved to absolute URLs, category flags dropped. Never persisted.
type Movie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterURL    string  `json:"poster_url,omitempty"`
	BackdropURL  string  `json:"backdrop_url,omitempty"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
	IsBookmarked bool    `json:"is_bookmarked"`
}

// Project derives the display model, prefixing relative image paths with the
// configured image host.
func (m MovieRecord) Project(imageBaseURL string) Movie {
	movie := Movie{
		ID:           m.ID,
		Title:        m.Title,
		Overview:     m.Overview,
		ReleaseDate:  m.ReleaseDate,
		VoteAverage:  m.VoteAverage,
		IsBookmarked: m.IsBookmarked,
	}
	if m.PosterPath != "" {
		movie.PosterURL = imageBaseURL + m.PosterPath
	}
	if m.BackdropPath != "" {
		movie.BackdropURL = imageBaseURL + m.BackdropPath
	}
	return movie
}

// ProjectAll maps a slice of records to display models.
func ProjectAll(records []MovieRecord, imageBaseURL string) []Movie {
	movies := make([]Movie, 0, len(records))
	for _, record := range records {
		movies = append(movies, record.Project(imageBaseURL))
	}
	return movies
}
