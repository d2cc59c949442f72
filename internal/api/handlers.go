package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akaris/globetrack/internal/controller"
	"github.com/akaris/globetrack/internal/spatial"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// queryTimeout bounds how long a request waits on the spatial worker.
const queryTimeout = 2 * time.Second

// Handler contains the API handlers.
type Handler struct {
	registry *controller.Registry
	index    *spatial.Index
	logger   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(registry *controller.Registry, index *spatial.Index, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		index:    index,
		logger:   log.Named("api-handler"),
	}
}

// GetUnits returns the active feed's unit snapshot for one kind.
func (h *Handler) GetUnits(w http.ResponseWriter, r *http.Request) {
	kind := units.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		respondError(w, http.StatusNotFound, "unknown unit kind")
		return
	}
	c, ok := h.registry.Get(kind)
	if !ok {
		respondError(w, http.StatusNotFound, "no feed for kind")
		return
	}
	active := c.Active()
	if active == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"kind":  kind,
			"units": []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"kind":  kind,
		"mode":  c.Mode(),
		"units": active.Units(),
	})
}

// feedSummary is one kind's entry in the feeds listing.
type feedSummary struct {
	Kind  units.Kind      `json:"kind"`
	Mode  controller.Mode `json:"mode"`
	Stats units.Stats     `json:"stats"`
}

// GetFeeds lists every controller's mode and stats.
func (h *Handler) GetFeeds(w http.ResponseWriter, r *http.Request) {
	var out []feedSummary
	for _, c := range h.registry.Controllers() {
		s := feedSummary{Kind: c.Kind(), Mode: c.Mode()}
		if active := c.Active(); active != nil {
			s.Stats = active.Stats()
		}
		out = append(out, s)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"feeds":          out,
		"show_simulated": h.registry.ShowSimulated(),
	})
}

// SetFeedMode switches one kind between simulated and live.
func (h *Handler) SetFeedMode(w http.ResponseWriter, r *http.Request) {
	kind := units.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		respondError(w, http.StatusNotFound, "unknown unit kind")
		return
	}

	var body struct {
		Mode controller.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Mode.Valid() {
		respondError(w, http.StatusBadRequest, "mode must be \"simulated\" or \"live\"")
		return
	}

	if err := h.registry.SetMode(r.Context(), kind, body.Mode); err != nil {
		h.logger.Error("Failed to switch feed mode",
			logger.String("kind", string(kind)),
			logger.String("mode", string(body.Mode)),
			logger.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"kind": kind,
		"mode": body.Mode,
	})
}

// QueryVisible answers which units are inside a cell ring around a point.
func (h *Handler) QueryVisible(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
		Ring int     `json:"ring"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Ring < 0 || body.Ring > 16 {
		respondError(w, http.StatusBadRequest, "ring out of range")
		return
	}

	h.index.RequestRebuild()

	reply := make(chan spatial.VisibleResult, 1)
	if !h.index.QueryVisible(body.Lat, body.Lon, body.Ring, reply) {
		respondError(w, http.StatusTooManyRequests, "visible query already pending")
		return
	}

	select {
	case res := <-reply:
		if res.Err != nil {
			respondError(w, http.StatusInternalServerError, res.Err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
	case <-time.After(queryTimeout):
		respondError(w, http.StatusGatewayTimeout, "spatial index did not respond")
	case <-r.Context().Done():
	}
}

// QueryDensity answers per-cell unit counts around a point.
func (h *Handler) QueryDensity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat   float64 `json:"lat"`
		Lon   float64 `json:"lon"`
		Rings int     `json:"rings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Rings < 0 || body.Rings > 16 {
		respondError(w, http.StatusBadRequest, "rings out of range")
		return
	}

	h.index.RequestRebuild()

	reply := make(chan spatial.DensityResult, 1)
	if !h.index.QueryDensity(body.Lat, body.Lon, body.Rings, reply) {
		respondError(w, http.StatusTooManyRequests, "spatial index busy")
		return
	}

	select {
	case res := <-reply:
		if res.Err != nil {
			respondError(w, http.StatusInternalServerError, res.Err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
	case <-time.After(queryTimeout):
		respondError(w, http.StatusGatewayTimeout, "spatial index did not respond")
	case <-r.Context().Done():
	}
}

// Health reports liveness plus a per-feed status digest.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := make(map[units.Kind]units.Status)
	for _, c := range h.registry.Controllers() {
		if active := c.Active(); active != nil {
			statuses[c.Kind()] = active.Stats().Status
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"feeds":  statuses,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
