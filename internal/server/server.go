package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"station-check/internal/m3u"
	"station-check/internal/models"
)

// StationProvider abstracts the station catalogue for the HTTP handlers.
type StationProvider interface {
	ListStations() []models.Station
	Station(name string) (models.Station, bool)
	Playable() []models.Station
}

// TrackProvider lists the local music files.
type TrackProvider interface {
	ListTracks() []models.Track
}

// TokenValidator determines whether a supplied token is authorized.
type TokenValidator interface {
	IsValidToken(token string) bool
}

type serverHandler struct {
	stations  StationProvider
	tracks    TrackProvider
	validator TokenValidator
	logger    *log.Logger
}

// New creates the HTTP handler that exposes the station catalogue. tracks and
// validator may be nil.
func New(stations StationProvider, tracks TrackProvider, validator TokenValidator, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &serverHandler{
		stations:  stations,
		tracks:    tracks,
		validator: validator,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stations", h.guard(h.handleStations)).Methods(http.MethodGet)
	r.HandleFunc("/stations.m3u", h.guard(h.handlePlaylist)).Methods(http.MethodGet)
	r.HandleFunc("/stations/{name}", h.guard(h.handleStation)).Methods(http.MethodGet)
	r.HandleFunc("/tracks", h.guard(h.handleTracks)).Methods(http.MethodGet)
	r.Handle("/metrics", h.guard(promhttp.Handler().ServeHTTP)).Methods(http.MethodGet)

	return logRequests(r, logger)
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *serverHandler) handleStations(w http.ResponseWriter, r *http.Request) {
	stations := h.stations.ListStations()

	if raw := strings.TrimSpace(r.URL.Query().Get("verdict")); raw != "" {
		verdict, ok := models.ParseVerdict(raw)
		if !ok {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown verdict " + raw})
			return
		}
		filtered := make([]models.Station, 0, len(stations))
		for _, st := range stations {
			if st.Verdict == verdict {
				filtered = append(filtered, st)
			}
		}
		stations = filtered
	}

	h.writeJSON(w, http.StatusOK, stations)
}

func (h *serverHandler) handleStation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, ok := h.stations.Station(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "station not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *serverHandler) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	if err := m3u.WritePlaylist(w, m3u.StationEntries(h.stations.Playable())); err != nil {
		h.logger.Printf("failed to write playlist: %v", err)
	}
}

func (h *serverHandler) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks := []models.Track{}
	if h.tracks != nil {
		tracks = h.tracks.ListTracks()
	}
	h.writeJSON(w, http.StatusOK, tracks)
}

func (h *serverHandler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *serverHandler) authorized(r *http.Request) bool {
	if h.validator == nil {
		return true
	}
	token := extractToken(r)
	return token != "" && h.validator.IsValidToken(token)
}

func (h *serverHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Printf("failed to encode response: %v", err)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func logRequests(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Printf("%s %s -> %d (%dB) in %s", r.Method, r.URL.Path, sw.status, sw.size, time.Since(start))
	})
}

func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	if header := strings.TrimSpace(r.Header.Get("X-Station-Token")); header != "" {
		return header
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
