package view

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"transvisor/internal/domain"
	"transvisor/internal/hub"
	"transvisor/internal/los"
	"transvisor/internal/metrics"
	"transvisor/internal/store"
)

// Publisher receives view events. *hub.Hub satisfies it.
type Publisher interface {
	Publish(topic string, payload any)
}

type Style struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
	Width   float64 `json:"weight"`
}

type LegendEntry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Entry is one row of the route list.
type Entry struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	RouteID    string `json:"route_id,omitempty"`
	Source     string `json:"source"`
	Grade      string `json:"los"`
	GradeLabel string `json:"los_label"`
	Background string `json:"background"`
	Visible    bool   `json:"visible"`
	TripCount  int    `json:"trip_count"`
}

// WindowState is the payload of los events.
type WindowState struct {
	Start      int            `json:"start"`
	End        int            `json:"end"`
	StartHour  float64        `json:"start_hour"`
	EndHour    float64        `json:"end_hour"`
	Label      string         `json:"label"`
	GradeCount map[string]int `json:"grades"`
}

type VisibilityChange struct {
	Visible []int `json:"visible"`
	Hidden  []int `json:"hidden"`
}

// Panel holds per-route visibility and renders registry state for clients.
// Routes are visible until hidden.
type Panel struct {
	registry  *store.Registry
	publisher Publisher
	logger    *slog.Logger

	mu     sync.RWMutex
	hidden map[int]bool
}

func NewPanel(registry *store.Registry, publisher Publisher, logger *slog.Logger) *Panel {
	return &Panel{
		registry:  registry,
		publisher: publisher,
		logger:    logger.With("component", "panel"),
		hidden:    make(map[int]bool),
	}
}

// Reclassify regrades every route over w and announces the new window.
func (p *Panel) Reclassify(w los.Window) error {
	start := time.Now()
	if err := p.registry.Reclassify(w); err != nil {
		metrics.RejectedWindowsTotal.Inc()
		p.logger.Warn("reclassify rejected", "window", w.String(), "error", err)
		return err
	}
	elapsed := time.Since(start)
	metrics.ReclassificationsTotal.Inc()
	metrics.ReclassifyDuration.Observe(elapsed.Seconds())

	state := p.WindowState()
	metrics.ObserveGrades(state.GradeCount)
	p.publish(hub.TopicLOS, state)

	p.logger.Info("routes reclassified",
		"window", w.String(),
		"routes", p.registry.Len(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// RoutesChanged announces routes added by a source load.
func (p *Panel) RoutesChanged(source string, indices []int) {
	metrics.ObserveGrades(p.registry.GradeCounts())
	p.publish(hub.TopicRoutes, map[string]any{
		"source":  source,
		"indices": indices,
		"total":   p.registry.Len(),
	})
}

func (p *Panel) WindowState() WindowState {
	w := p.registry.Window()
	return WindowState{
		Start:      w.Start,
		End:        w.End,
		StartHour:  float64(w.Start) / 3600,
		EndHour:    float64(w.End) / 3600,
		Label:      w.String(),
		GradeCount: p.registry.GradeCounts(),
	}
}

func (p *Panel) Show(index int) error {
	if err := p.known(index); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.hidden, index)
	p.mu.Unlock()

	p.publish(hub.TopicVisibility, VisibilityChange{Visible: []int{index}})
	return nil
}

func (p *Panel) Hide(index int) error {
	if err := p.known(index); err != nil {
		return err
	}
	p.mu.Lock()
	p.hidden[index] = true
	p.mu.Unlock()

	p.publish(hub.TopicVisibility, VisibilityChange{Hidden: []int{index}})
	return nil
}

func (p *Panel) ShowAll() {
	p.mu.Lock()
	p.hidden = make(map[int]bool)
	p.mu.Unlock()

	p.publish(hub.TopicVisibility, VisibilityChange{Visible: p.indices()})
}

func (p *Panel) HideAll() {
	indices := p.indices()

	p.mu.Lock()
	for _, i := range indices {
		p.hidden[i] = true
	}
	p.mu.Unlock()

	p.publish(hub.TopicVisibility, VisibilityChange{Hidden: indices})
}

// ShowOnly hides every route except index and returns that route's extent,
// or nil when its geometry has none.
func (p *Panel) ShowOnly(index int) (*domain.BoundingBox, error) {
	rec, ok := p.registry.Get(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrUnknownRoute, index)
	}

	indices := p.indices()
	hidden := make([]int, 0, len(indices))

	p.mu.Lock()
	for _, i := range indices {
		if i == index {
			delete(p.hidden, i)
			continue
		}
		p.hidden[i] = true
		hidden = append(hidden, i)
	}
	p.mu.Unlock()

	p.publish(hub.TopicVisibility, VisibilityChange{Visible: []int{index}, Hidden: hidden})

	bb, ok := rec.Feature.Geometry.Bounds()
	if !ok {
		return nil, nil
	}
	return &bb, nil
}

func (p *Panel) Visible(index int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.hidden[index]
}

// VisibilityState splits every registered route into visible and hidden.
func (p *Panel) VisibilityState() VisibilityChange {
	indices := p.indices()

	p.mu.RLock()
	defer p.mu.RUnlock()

	state := VisibilityChange{Visible: []int{}, Hidden: []int{}}
	for _, i := range indices {
		if p.hidden[i] {
			state.Hidden = append(state.Hidden, i)
		} else {
			state.Visible = append(state.Visible, i)
		}
	}
	return state
}

func (p *Panel) Legend() []LegendEntry {
	scale := p.registry.Scale()
	entries := make([]LegendEntry, 0, len(scale))
	for _, g := range scale {
		entries = append(entries, LegendEntry{Name: g.Name, Label: g.Label, Color: g.Color})
	}
	return entries
}

// Entries lists routes in insertion order.
func (p *Panel) Entries() []Entry {
	records := p.registry.Routes()

	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		g := p.grade(rec)
		entries = append(entries, Entry{
			Index:      rec.Index,
			Name:       rec.Name(),
			RouteID:    rec.Feature.Properties.RouteID,
			Source:     rec.Source,
			Grade:      g.Name,
			GradeLabel: g.Label,
			Background: g.Color,
			Visible:    !p.hidden[rec.Index],
			TripCount:  len(rec.Trips()),
		})
	}
	return entries
}

// Style returns the line style for a record. Unclassified routes are drawn
// like routes without service.
func (p *Panel) Style(rec domain.RouteRecord) Style {
	g := p.grade(rec)
	return Style{Color: g.Color, Opacity: g.Opacity, Width: g.Width}
}

func (p *Panel) grade(rec domain.RouteRecord) los.Grade {
	scale := p.registry.Scale()
	if !rec.Classified {
		return scale.Grade(los.NoService)
	}
	return scale.Grade(rec.Grade)
}

// Trips renders a route's departures as clock strings.
func (p *Panel) Trips(index int) ([]string, error) {
	rec, ok := p.registry.Get(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrUnknownRoute, index)
	}
	result := make([]string, 0, len(rec.Trips()))
	for _, t := range rec.Trips() {
		result = append(result, los.Clock(t))
	}
	return result, nil
}

// Bounds is the extent of every registered route, nil when there is none.
func (p *Panel) Bounds() *domain.BoundingBox {
	return p.registry.BoundingRegion()
}

func (p *Panel) known(index int) error {
	if _, ok := p.registry.Get(index); !ok {
		return fmt.Errorf("%w: %d", store.ErrUnknownRoute, index)
	}
	return nil
}

func (p *Panel) indices() []int {
	records := p.registry.Routes()
	indices := make([]int, 0, len(records))
	for _, rec := range records {
		indices = append(indices, rec.Index)
	}
	return indices
}

func (p *Panel) publish(topic string, payload any) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(topic, payload)
}
