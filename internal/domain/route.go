package domain

import "transvisor/internal/los"

// RouteRecord is a snapshot of one registered route. Grade is only
// meaningful when Classified is true.
type RouteRecord struct {
	Source     string   `json:"source"`
	Index      int      `json:"index"`
	Feature    Feature  `json:"feature"`
	Grade      los.Rank `json:"grade"`
	Classified bool     `json:"classified"`
}

func (r RouteRecord) Name() string {
	return r.Feature.Properties.Name
}

func (r RouteRecord) Trips() []int {
	return r.Feature.Properties.Trips
}
