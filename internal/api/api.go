// Package api serves read access to the world over plain HTTP: chunk
// payloads, nearby vein records, extraction and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veinworld/worldserver/internal/chunkstore"
	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/pkg/core"
)

// DefaultNearbyRadius is used when /api/resources/nearby gets no radius.
const DefaultNearbyRadius = 32.0

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 * 1024

var errBadParam = errors.New("bad parameter")

// World is the part of the chunk store the API reads.
type World interface {
	GetChunk(ctx context.Context, chunkX, chunkY int) (*core.ChunkData, core.Tier, error)
	ResourcesNear(ctx context.Context, x, y, radius float64) ([]core.VeinRecord, chunkstore.BackfillReport, error)
	ApplyExtraction(ctx context.Context, id string, amount float64) (core.VeinRecord, float64, error)
	Stats() chunkstore.Stats
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds the collaborators of a Server.
type Dependencies struct {
	World  World
	Logger *slog.Logger
	// Checks run on /healthz; any failure turns the reply into a 503.
	Checks map[string]HealthCheck
}

// Server holds the HTTP handlers.
type Server struct {
	deps Dependencies
	log  *slog.Logger
}

// New creates the API handlers.
func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, log: logger.With("component", "api")}
}

// Routes registers the API on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chunks", s.handleChunk)
	mux.HandleFunc("GET /api/resources/nearby", s.handleNearby)
	mux.HandleFunc("POST /api/veins/{id}/extract", s.handleExtract)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns a mux with only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

type chunkCoordinates struct {
	ChunkX int `json:"chunkX"`
	ChunkY int `json:"chunkY"`
}

type chunkMetadata struct {
	Version          int       `json:"version"`
	GenerationMethod string    `json:"generationMethod"`
	GenerationTime   time.Time `json:"generationTime"`
}

type chunkResponse struct {
	Terrain     core.TerrainGrid    `json:"terrain"`
	Resources   []core.ResourceVein `json:"resources"`
	Coordinates chunkCoordinates    `json:"coordinates"`
	ChunkSize   int                 `json:"chunkSize"`
	Metadata    chunkMetadata       `json:"metadata"`
	Source      core.Tier           `json:"source"`
	Timestamp   int64               `json:"timestamp"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	x, err := intParam(r, "x")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	y, err := intParam(r, "y")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data, tier, err := s.deps.World.GetChunk(r.Context(), x, y)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resources := data.Resources
	if resources == nil {
		resources = []core.ResourceVein{}
	}
	writeJSON(w, http.StatusOK, chunkResponse{
		Terrain:     data.Terrain,
		Resources:   resources,
		Coordinates: chunkCoordinates{ChunkX: data.Coordinate.ChunkX, ChunkY: data.Coordinate.ChunkY},
		ChunkSize:   data.Size,
		Metadata: chunkMetadata{
			Version:          data.Metadata.Version,
			GenerationMethod: data.Metadata.GenerationMethod,
			GenerationTime:   data.Metadata.GenerationTime,
		},
		Source:    tier,
		Timestamp: time.Now().UnixMilli(),
	})
}

type nearbyResponse struct {
	Resources []core.VeinRecord         `json:"resources"`
	Backfill  chunkstore.BackfillReport `json:"backfill"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	x, err := floatParam(r, "x")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	y, err := floatParam(r, "y")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	radius := DefaultNearbyRadius
	if r.URL.Query().Has("radius") {
		if radius, err = floatParam(r, "radius"); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	records, report, err := s.deps.World.ResourcesNear(r.Context(), x, y, radius)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []core.VeinRecord{}
	}
	writeJSON(w, http.StatusOK, nearbyResponse{Resources: records, Backfill: report})
}

type extractRequest struct {
	Amount float64 `json:"amount"`
}

type extractResponse struct {
	Vein      core.VeinRecord `json:"vein"`
	Extracted float64         `json:"extracted"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: body: %v", errBadParam, err))
		return
	}

	rec, taken, err := s.deps.World.ApplyExtraction(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Vein: rec, Extracted: taken})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.World.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, coords.ErrCoordinateOutOfRange),
		errors.Is(err, chunkstore.ErrInvalidRadius),
		errors.Is(err, core.ErrInvalidExtraction):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chunkstore.ErrNoSpatialStore), errors.Is(err, chunkstore.ErrNoDeposit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", errBadParam, name, raw)
	}
	return v, nil
}

func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", errBadParam, name, raw)
	}
	return v, nil
}
