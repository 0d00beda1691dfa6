package view

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transvisor/internal/domain"
	"transvisor/internal/hub"
	"transvisor/internal/los"
	"transvisor/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, hub.Event{Topic: topic, Payload: payload})
}

func (r *recorder) last() hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func line(coords ...[2]float64) domain.Geometry {
	return domain.NewLineString(coords)
}

func newPanel(t *testing.T) (*Panel, *recorder) {
	t.Helper()
	reg := store.NewRegistry(nil)
	_, err := reg.Add("vta.geojson", []domain.Feature{
		{
			Type:       "Feature",
			Properties: domain.FeatureProperties{Name: "22 Eastridge", Trips: []int{25300, 26000, 30000, 31000}},
			Geometry:   line([2]float64{-121.9, 37.3}, [2]float64{-121.8, 37.4}),
		},
		{
			Type:       "Feature",
			Properties: domain.FeatureProperties{Name: "Owl", Trips: []int{90600}},
			Geometry:   line([2]float64{-122.0, 37.1}, [2]float64{-121.7, 37.2}),
		},
		{
			Type:       "Feature",
			Properties: domain.FeatureProperties{Name: "No shape", Trips: []int{}},
		},
	})
	require.NoError(t, err)

	rec := &recorder{}
	return NewPanel(reg, rec, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func TestPanelReclassify(t *testing.T) {
	p, rec := newPanel(t)

	require.NoError(t, p.Reclassify(los.DefaultWindow))
	ev := rec.last()
	assert.Equal(t, hub.TopicLOS, ev.Topic)
	state := ev.Payload.(WindowState)
	assert.Equal(t, 25200, state.Start)
	assert.Equal(t, 9.0, state.EndHour)
	assert.Equal(t, "07:00-09:00", state.Label)
	assert.Equal(t, 1, state.GradeCount["D"])
	assert.Equal(t, 2, state.GradeCount[" "])

	err := p.Reclassify(los.Window{Start: 32400, End: 25200})
	assert.ErrorIs(t, err, los.ErrInvalidWindow)
	assert.Len(t, rec.events, 1)
	assert.Equal(t, los.DefaultWindow, p.registry.Window())
}

func TestPanelVisibility(t *testing.T) {
	p, rec := newPanel(t)

	for _, e := range p.Entries() {
		assert.True(t, e.Visible)
	}

	require.NoError(t, p.Hide(1))
	assert.False(t, p.Visible(1))
	assert.Equal(t, VisibilityChange{Hidden: []int{1}}, rec.last().Payload)

	require.NoError(t, p.Show(1))
	assert.True(t, p.Visible(1))

	p.HideAll()
	for i := 0; i < 3; i++ {
		assert.False(t, p.Visible(i))
	}
	p.ShowAll()
	for i := 0; i < 3; i++ {
		assert.True(t, p.Visible(i))
	}
	assert.Equal(t, VisibilityChange{Visible: []int{0, 1, 2}}, rec.last().Payload)
}

func TestPanelUnknownRoute(t *testing.T) {
	p, rec := newPanel(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"show", func() error { return p.Show(42) }},
		{"hide", func() error { return p.Hide(-1) }},
		{"only", func() error { _, err := p.ShowOnly(3); return err }},
		{"trips", func() error { _, err := p.Trips(99); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), store.ErrUnknownRoute)
		})
	}
	assert.Empty(t, rec.events)
}

func TestPanelShowOnly(t *testing.T) {
	p, rec := newPanel(t)

	bb, err := p.ShowOnly(0)
	require.NoError(t, err)
	require.NotNil(t, bb)
	assert.Equal(t, domain.BoundingBox{MinLat: 37.3, MaxLat: 37.4, MinLon: -121.9, MaxLon: -121.8}, *bb)

	assert.True(t, p.Visible(0))
	assert.False(t, p.Visible(1))
	assert.False(t, p.Visible(2))
	assert.Equal(t, VisibilityChange{Visible: []int{0}, Hidden: []int{1, 2}}, rec.last().Payload)

	bb, err = p.ShowOnly(2)
	require.NoError(t, err)
	assert.Nil(t, bb)
	assert.True(t, p.Visible(2))
	assert.False(t, p.Visible(0))
}

func TestPanelLegend(t *testing.T) {
	p, _ := newPanel(t)

	legend := p.Legend()
	require.Len(t, legend, len(los.DefaultScale))
	assert.Equal(t, LegendEntry{Name: " ", Label: "No service", Color: "#ccc"}, legend[0])
	assert.Equal(t, LegendEntry{Name: "A", Label: "A: 10m", Color: "#4575b4"}, legend[6])
}

func TestPanelEntriesAndStyle(t *testing.T) {
	p, _ := newPanel(t)

	// before any classification everything looks like no service
	entries := p.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, " ", entries[0].Grade)

	require.NoError(t, p.Reclassify(los.DefaultWindow))
	entries = p.Entries()
	assert.Equal(t, Entry{
		Index:      0,
		Name:       "22 Eastridge",
		Source:     "vta.geojson",
		Grade:      "D",
		GradeLabel: "D: 30m",
		Background: "#fee090",
		Visible:    true,
		TripCount:  4,
	}, entries[0])

	rec, ok := p.registry.Get(0)
	require.True(t, ok)
	assert.Equal(t, Style{Color: "#fee090", Opacity: 1, Width: 1}, p.Style(rec))
}

func TestPanelTrips(t *testing.T) {
	p, _ := newPanel(t)

	trips, err := p.Trips(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"07:01", "07:13", "08:20", "08:36"}, trips)

	trips, err = p.Trips(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"25:10"}, trips)

	trips, err = p.Trips(2)
	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestPanelLayer(t *testing.T) {
	p, _ := newPanel(t)
	require.NoError(t, p.Reclassify(los.DefaultWindow))
	require.NoError(t, p.Hide(2))

	layer := p.Layer()
	assert.Equal(t, "FeatureCollection", layer.Type)
	require.Len(t, layer.Features, 3)

	var order []int
	for _, f := range layer.Features {
		order = append(order, f.Properties.Index)
	}
	// no-service routes first in insertion order, then D
	assert.Equal(t, []int{1, 2, 0}, order)

	d := layer.Features[2].Properties
	assert.Equal(t, "D", d.LOS)
	assert.Equal(t, "route route-0", d.ClassName)
	assert.Equal(t, "#fee090", d.Color)
	assert.True(t, d.Visible)
	assert.False(t, layer.Features[1].Properties.Visible)

	data, err := json.Marshal(layer)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	props := decoded["features"].([]any)[2].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "22 Eastridge", props["name"])
	assert.Equal(t, 1.0, props["weight"])
	assert.Len(t, props["trips"], 4)
}

func TestPanelBounds(t *testing.T) {
	p, _ := newPanel(t)
	bb := p.Bounds()
	require.NotNil(t, bb)
	assert.Equal(t, domain.BoundingBox{MinLat: 37.1, MaxLat: 37.4, MinLon: -122.0, MaxLon: -121.7}, *bb)

	empty := NewPanel(store.NewRegistry(nil), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Nil(t, empty.Bounds())
	empty.ShowAll()
}
