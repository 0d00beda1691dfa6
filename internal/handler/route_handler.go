package handler

import (
	"log/slog"
	"net/http"
	"time"

	"transvisor/internal/domain"
	"transvisor/internal/store"
	"transvisor/internal/view"
)

type RouteHandler struct {
	registry *store.Registry
	panel    *view.Panel
	logger   *slog.Logger
}

func NewRouteHandler(registry *store.Registry, panel *view.Panel, logger *slog.Logger) *RouteHandler {
	return &RouteHandler{
		registry: registry,
		panel:    panel,
		logger:   logger.With("handler", "routes"),
	}
}

type RoutesResponse struct {
	Routes     []view.Entry `json:"routes"`
	Count      int          `json:"count"`
	ServerTime time.Time    `json:"server_time"`
}

func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	entries := h.panel.Entries()
	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     entries,
		Count:      len(entries),
		ServerTime: time.Now(),
	})
}

type RouteResponse struct {
	domain.RouteRecord
	LOS     string     `json:"los"`
	Style   view.Style `json:"style"`
	Visible bool       `json:"visible"`
}

func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid route index")
		return
	}

	rec, found := h.registry.Get(index)
	if !found {
		respondError(w, http.StatusNotFound, "route not found")
		return
	}

	style := h.panel.Style(rec)
	los := h.registry.Scale().Grade(rec.Grade).Name
	if !rec.Classified {
		los = ""
	}
	respondJSON(w, http.StatusOK, RouteResponse{
		RouteRecord: rec,
		LOS:         los,
		Style:       style,
		Visible:     h.panel.Visible(index),
	})
}

type TripsResponse struct {
	Index int      `json:"index"`
	Name  string   `json:"name"`
	Trips []string `json:"trips"`
}

func (h *RouteHandler) GetRouteTrips(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid route index")
		return
	}

	trips, err := h.panel.Trips(index)
	if err != nil {
		respondRouteError(w, err)
		return
	}
	rec, _ := h.registry.Get(index)
	respondJSON(w, http.StatusOK, TripsResponse{Index: index, Name: rec.Name(), Trips: trips})
}

type VisibilityResponse struct {
	Index   int                 `json:"index"`
	Visible bool                `json:"visible"`
	Bounds  *domain.BoundingBox `json:"bounds,omitempty"`
}

func (h *RouteHandler) ShowRoute(w http.ResponseWriter, r *http.Request) {
	h.setVisible(w, r, true)
}

func (h *RouteHandler) HideRoute(w http.ResponseWriter, r *http.Request) {
	h.setVisible(w, r, false)
}

func (h *RouteHandler) setVisible(w http.ResponseWriter, r *http.Request, visible bool) {
	index, ok := pathIndex(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid route index")
		return
	}

	var err error
	if visible {
		err = h.panel.Show(index)
	} else {
		err = h.panel.Hide(index)
	}
	if err != nil {
		respondRouteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, VisibilityResponse{Index: index, Visible: visible})
}

// ShowOnlyRoute hides every other route and returns the route's extent so the
// client can zoom to it.
func (h *RouteHandler) ShowOnlyRoute(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid route index")
		return
	}

	bounds, err := h.panel.ShowOnly(index)
	if err != nil {
		respondRouteError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, VisibilityResponse{Index: index, Visible: true, Bounds: bounds})
}

func (h *RouteHandler) ShowAll(w http.ResponseWriter, r *http.Request) {
	h.panel.ShowAll()
	respondJSON(w, http.StatusOK, map[string]int{"visible": h.registry.Len()})
}

func (h *RouteHandler) HideAll(w http.ResponseWriter, r *http.Request) {
	h.panel.HideAll()
	respondJSON(w, http.StatusOK, map[string]int{"hidden": h.registry.Len()})
}

func (h *RouteHandler) GetLayer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	layer := h.panel.Layer()

	h.logger.Debug("layer rendered",
		"features", len(layer.Features),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, layer)
}

func (h *RouteHandler) GetBounds(w http.ResponseWriter, r *http.Request) {
	bounds := h.panel.Bounds()
	if bounds == nil {
		respondError(w, http.StatusNotFound, "no routes loaded")
		return
	}
	respondJSON(w, http.StatusOK, bounds)
}
