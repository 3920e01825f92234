// Package main provides the main entry point for the movie catalog cache service.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cinecache/catalog"
	"cinecache/database"
	"cinecache/jobs"
	"cinecache/models"
	"cinecache/repository"
	"cinecache/services"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// App represents the application with its dependencies
type App struct {
	movieRepo    *repository.MovieRepository
	tmdbService  *services.TMDBService
	syncer       *catalog.Syncer
	scheduler    *jobs.Scheduler
	imageBaseURL string
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Initialize database
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "cinecache.db"
	}
	db, err := database.NewDB(dbPath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		log.Fatal("Failed to initialize schema:", err)
	}

	// Initialize repository
	movieRepo := repository.NewMovieRepository(db)
	defer movieRepo.Close()

	// Initialize TMDB service
	tmdbAPIKey := os.Getenv("TMDB_API_KEY")
	if tmdbAPIKey == "" {
		log.Fatal("TMDB_API_KEY environment variable is required")
	}
	tmdbService := services.NewTMDBService(tmdbAPIKey, os.Getenv("TMDB_BASE_URL"))

	imageBaseURL := os.Getenv("TMDB_IMAGE_BASE_URL")
	if imageBaseURL == "" {
		imageBaseURL = services.DefaultImageBaseURL
	}

	syncer := catalog.NewSyncer(movieRepo, tmdbService, imageBaseURL)

	// Initialize background refresh and cache sweep
	scheduler := jobs.NewScheduler(syncer, movieRepo,
		envDuration("REFRESH_INTERVAL", 30*time.Minute),
		envDuration("SWEEP_INTERVAL", 24*time.Hour),
		envDuration("SWEEP_TTL", 30*24*time.Hour),
	)
	scheduler.Start()
	defer scheduler.Stop()

	app := &App{
		movieRepo:    movieRepo,
		tmdbService:  tmdbService,
		syncer:       syncer,
		scheduler:    scheduler,
		imageBaseURL: imageBaseURL,
	}

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", healthHandler).Methods("GET")

	// API routes
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/movies/trending", app.getTrendingHandler).Methods("GET")
	api.HandleFunc("/movies/now_playing", app.getNowPlayingHandler).Methods("GET")
	api.HandleFunc("/movies/bookmarks", app.getBookmarksHandler).Methods("GET")
	api.HandleFunc("/movies/search", app.searchHandler).Methods("GET")
	api.HandleFunc("/movies/{id}", app.getMovieByIDHandler).Methods("GET")
	api.HandleFunc("/movies/{id}/bookmark", app.toggleBookmarkHandler).Methods("POST")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("Server starting on :" + port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}

func envDuration(name string, fallback time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid %s %q, using %s", name, value, fallback)
		return fallback
	}
	return d
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// categoryResponse is the JSON shape for category feeds: the freshest cached
// snapshot, plus the refresh error when the network failed. Cached data is
// served even when the refresh fails.
type categoryResponse struct {
	Movies []models.Movie `json:"movies"`
	Error  string         `json:"error,omitempty"`
}

func (app *App) getTrendingHandler(w http.ResponseWriter, r *http.Request) {
	app.serveCategory(w, r, models.CategoryTrending)
}

func (app *App) getNowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	app.serveCategory(w, r, models.CategoryNowPlaying)
}

// serveCategory runs the cache-then-network protocol to its terminal update
// and responds with the final snapshot.
func (app *App) serveCategory(w http.ResponseWriter, r *http.Request, category models.Category) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	response := categoryResponse{Movies: []models.Movie{}}
	for update := range app.syncer.ObserveCategory(ctx, category, forceRefresh) {
		switch update.Status {
		case catalog.StatusSuccess:
			response.Movies = update.Movies
		case catalog.StatusError:
			response.Error = update.Err
			if update.Movies != nil {
				response.Movies = update.Movies
			}
		case catalog.StatusLoading:
			if !update.Loading {
				cancel() // terminal update reached, stop observing
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (app *App) getBookmarksHandler(w http.ResponseWriter, r *http.Request) {
	records, err := app.movieRepo.GetByCategory(r.Context(), models.CategoryBookmarked)
	if err != nil {
		log.Printf("Error getting bookmarks: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.ProjectAll(records, app.imageBaseURL))
}

func (app *App) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusOK, []models.Movie{})
		return
	}

	movies, err := app.syncer.Search(r.Context(), query)
	if err != nil {
		log.Printf("Error searching movies: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, movies)
}

func (app *App) getMovieByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}

	movie, err := app.syncer.GetDetail(r.Context(), id)
	if err != nil {
		log.Printf("Error getting movie %d: %v", id, err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Movie not found"})
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

func (app *App) toggleBookmarkHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}

	bookmarked, err := app.syncer.ToggleBookmark(r.Context(), id)
	if err != nil {
		log.Printf("Error toggling bookmark for movie %d: %v", id, err)
		http.Error(w, "Movie not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"bookmarked": bookmarked,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
