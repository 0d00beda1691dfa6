package domain

import "time"

// RouteType distinguishes transport types in GTFS
type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	case RouteTypeFerry:
		return "ferry"
	case RouteTypeCableTram:
		return "cable_tram"
	case RouteTypeAerialLift:
		return "aerial_lift"
	case RouteTypeFunicular:
		return "funicular"
	default:
		return "unknown"
	}
}

// Route represents a transit route from GTFS
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      RouteType
}

// ShapePoint represents a single point in a route shape
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

// Shape represents the geographic path of a trip
type Shape struct {
	ID     string
	Points []ShapePoint
}

// Stop represents a transit stop from GTFS
type Stop struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// Trip is one scheduled run of a route.
type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	ShapeID     string
	Headsign    string
	DirectionID int
}

// StopTime is a trip's call at a stop. Times are seconds since midnight and
// may exceed 86400 for service running past midnight. Non-timepoint stops
// have no time; DepartureSeconds is then zero and HasTime false.
type StopTime struct {
	TripID           string
	StopID           string
	DepartureSeconds int
	HasTime          bool
	StopSequence     int
}

// Calendar represents service availability by day of week
type Calendar struct {
	ServiceID string
	Days      [7]bool // indexed by time.Weekday
}

// RunsOn reports whether the service operates on the given weekday.
func (c *Calendar) RunsOn(day time.Weekday) bool {
	return c.Days[day]
}
