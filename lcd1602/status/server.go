// Package status serves what the display currently shows, a health check
// and the prometheus metrics over HTTP.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harveysanders/printerlcd/lcd1602/display"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
)

// StateReporter reports the display state machine's current state.
type StateReporter interface {
	State() display.State
}

// ScreenReporter returns the display contents.
type ScreenReporter interface {
	Snapshot() lcd.Snapshot
}

// Screen is the /screen response.
type Screen struct {
	State     string   `json:"state"`
	Lines     []string `json:"lines"`
	Backlight bool     `json:"backlight"`
	Closed    bool     `json:"closed"`
}

// NewHandler returns the status routes. CORS is enabled when origins is not
// empty.
func NewHandler(state StateReporter, screen ScreenReporter, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if screen.Snapshot().Closed {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("closed"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/screen", func(w http.ResponseWriter, r *http.Request) {
		snap := screen.Snapshot()
		text := snap.Text()
		body := Screen{
			State:     state.State().String(),
			Lines:     text[:],
			Backlight: snap.Backlight,
			Closed:    snap.Closed,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// NewServer wraps h in an http.Server listening on addr.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
		"code":  status,
	})
}
