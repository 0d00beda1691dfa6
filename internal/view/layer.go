package view

import (
	"fmt"

	"transvisor/internal/domain"
)

// LayerProperties extends a route's own properties with what a map needs to
// draw it.
type LayerProperties struct {
	domain.FeatureProperties
	Index     int     `json:"index"`
	Source    string  `json:"source"`
	LOS       string  `json:"los"`
	ClassName string  `json:"className"`
	Visible   bool    `json:"visible"`
	Color     string  `json:"color"`
	Opacity   float64 `json:"opacity"`
	Weight    float64 `json:"weight"`
}

type LayerFeature struct {
	Type       string          `json:"type"`
	Properties LayerProperties `json:"properties"`
	Geometry   domain.Geometry `json:"geometry"`
}

type Layer struct {
	Type     string         `json:"type"`
	Features []LayerFeature `json:"features"`
}

func ClassName(index int) string {
	return fmt.Sprintf("route route-%d", index)
}

// Layer renders every route worst grade first, so better service is drawn on
// top.
func (p *Panel) Layer() *Layer {
	records := p.registry.SortedByGrade()

	p.mu.RLock()
	defer p.mu.RUnlock()

	layer := &Layer{Type: "FeatureCollection", Features: make([]LayerFeature, 0, len(records))}
	for _, rec := range records {
		g := p.grade(rec)
		layer.Features = append(layer.Features, LayerFeature{
			Type: "Feature",
			Properties: LayerProperties{
				FeatureProperties: rec.Feature.Properties,
				Index:             rec.Index,
				Source:            rec.Source,
				LOS:               g.Name,
				ClassName:         ClassName(rec.Index),
				Visible:           !p.hidden[rec.Index],
				Color:             g.Color,
				Opacity:           g.Opacity,
				Weight:            g.Width,
			},
			Geometry: rec.Feature.Geometry,
		})
	}
	return layer
}
