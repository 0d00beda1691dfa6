package domain

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Extend grows the box to cover other.
func (bb *BoundingBox) Extend(other BoundingBox) {
	if other.MinLat < bb.MinLat {
		bb.MinLat = other.MinLat
	}
	if other.MaxLat > bb.MaxLat {
		bb.MaxLat = other.MaxLat
	}
	if other.MinLon < bb.MinLon {
		bb.MinLon = other.MinLon
	}
	if other.MaxLon > bb.MaxLon {
		bb.MaxLon = other.MaxLon
	}
}

// addPoint grows the box to cover a single lon/lat position.
func (bb *BoundingBox) addPoint(lon, lat float64) {
	bb.Extend(BoundingBox{MinLat: lat, MaxLat: lat, MinLon: lon, MaxLon: lon})
}
