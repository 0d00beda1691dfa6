package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"transvisor/internal/domain"
	"transvisor/internal/los"
)

var (
	ErrMalformedFeature = errors.New("malformed feature")
	ErrUnknownRoute     = errors.New("unknown route")
)

type route struct {
	source  string
	index   int
	feature domain.Feature
}

// Registry is an append-only list of routes. Each route gets a stable index
// on insertion; grades live in a separate map keyed by that index and are
// replaced wholesale on every reclassification.
type Registry struct {
	mu        sync.RWMutex
	scale     los.Scale
	routes    []route
	byIndex   map[int]int // index -> position in routes
	grades    map[int]los.Rank
	nextIndex int
	window    los.Window
}

func NewRegistry(scale los.Scale) *Registry {
	if scale == nil {
		scale = los.DefaultScale
	}
	return &Registry{
		scale:   scale,
		byIndex: make(map[int]int),
		grades:  make(map[int]los.Rank),
		window:  los.DefaultWindow,
	}
}

func (r *Registry) Scale() los.Scale {
	return r.scale
}

// Add registers features from one source and returns the indices assigned to
// them. If any feature is malformed nothing is added.
func (r *Registry) Add(source string, features []domain.Feature) ([]int, error) {
	for i, f := range features {
		if err := validateFeature(f); err != nil {
			return nil, fmt.Errorf("source %s feature %d: %w", source, i, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	indices := make([]int, 0, len(features))
	for _, f := range features {
		rt := route{
			source:  source,
			index:   r.nextIndex,
			feature: copyFeature(f),
		}
		r.nextIndex++
		r.byIndex[rt.index] = len(r.routes)
		r.routes = append(r.routes, rt)
		indices = append(indices, rt.index)
	}
	return indices, nil
}

func validateFeature(f domain.Feature) error {
	if f.Properties.Trips == nil {
		return fmt.Errorf("%w: missing trips", ErrMalformedFeature)
	}
	if f.Properties.Name == "" {
		return fmt.Errorf("%w: missing name", ErrMalformedFeature)
	}
	return nil
}

// Reclassify grades every route over w and remembers w for Refresh. An
// invalid window leaves the current grades untouched.
func (r *Registry) Reclassify(w los.Window) error {
	if err := w.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = w
	r.classifyLocked()
	return nil
}

// Refresh reclassifies with the last used window.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifyLocked()
}

func (r *Registry) classifyLocked() {
	grades := make(map[int]los.Rank, len(r.routes))
	for _, rt := range r.routes {
		grades[rt.index] = r.scale.Classify(rt.feature.Properties.Trips, r.window)
	}
	r.grades = grades
}

// Window returns the last used classification window.
func (r *Registry) Window() los.Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Routes returns all routes in insertion order.
func (r *Registry) Routes() []domain.RouteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.RouteRecord, 0, len(r.routes))
	for _, rt := range r.routes {
		result = append(result, r.recordLocked(rt))
	}
	return result
}

func (r *Registry) Get(index int) (domain.RouteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.byIndex[index]
	if !ok {
		return domain.RouteRecord{}, false
	}
	return r.recordLocked(r.routes[pos]), true
}

// SortedByGrade returns routes worst grade first, in insertion order within a
// grade, so better routes draw on top. Unclassified routes come first.
func (r *Registry) SortedByGrade() []domain.RouteRecord {
	records := r.Routes()
	sort.SliceStable(records, func(i, j int) bool {
		return sortRank(records[i]) < sortRank(records[j])
	})
	return records
}

func sortRank(rec domain.RouteRecord) int {
	if !rec.Classified {
		return -1
	}
	return int(rec.Grade)
}

// BoundingRegion is the union of all route extents, or nil when no route has
// one.
func (r *Registry) BoundingRegion() *domain.BoundingBox {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bounds *domain.BoundingBox
	for _, rt := range r.routes {
		bb, ok := rt.feature.Geometry.Bounds()
		if !ok {
			continue
		}
		if bounds == nil {
			bounds = &bb
			continue
		}
		bounds.Extend(bb)
	}
	return bounds
}

// GradeCounts returns the number of classified routes per grade name.
func (r *Registry) GradeCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.scale))
	for _, g := range r.scale {
		counts[g.Name] = 0
	}
	for _, rank := range r.grades {
		counts[r.scale.Grade(rank).Name]++
	}
	return counts
}

func (r *Registry) recordLocked(rt route) domain.RouteRecord {
	grade, classified := r.grades[rt.index]
	return domain.RouteRecord{
		Source:     rt.source,
		Index:      rt.index,
		Feature:    copyFeature(rt.feature),
		Grade:      grade,
		Classified: classified,
	}
}

func copyFeature(f domain.Feature) domain.Feature {
	out := f
	out.Properties.Trips = make([]int, len(f.Properties.Trips))
	copy(out.Properties.Trips, f.Properties.Trips)
	if f.Properties.Stops != nil {
		out.Properties.Stops = make([]string, len(f.Properties.Stops))
		copy(out.Properties.Stops, f.Properties.Stops)
	}
	if f.Geometry.Coordinates != nil {
		out.Geometry.Coordinates = append([]byte(nil), f.Geometry.Coordinates...)
	}
	return out
}
