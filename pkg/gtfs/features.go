package gtfs

import (
	"fmt"
	"sort"
	"time"

	"transvisor/internal/domain"
)

type BuildOptions struct {
	Weekday time.Weekday
	Routes  []string // route_ids to keep; empty keeps all
	Exclude []string // route_ids to drop
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{Weekday: time.Monday}
}

type tripGroup struct {
	trips []*domain.Trip
	start map[string]int
}

// BuildFeatures turns a parsed feed into one LineString feature per route and
// headsign/direction pair. Each feature's trips are the sorted first-stop
// departures of the trips that run on opts.Weekday.
func BuildFeatures(result *ParseResult, opts BuildOptions) []domain.Feature {
	include := toSet(opts.Routes)
	exclude := toSet(opts.Exclude)

	byRoute := make(map[string]map[string]*tripGroup)
	for _, trip := range result.Trips {
		if len(include) > 0 && !include[trip.RouteID] {
			continue
		}
		if exclude[trip.RouteID] {
			continue
		}
		cal, ok := result.Calendars[trip.ServiceID]
		if !ok || !cal.RunsOn(opts.Weekday) {
			continue
		}
		start, ok := firstDeparture(result.TripStops[trip.ID])
		if !ok {
			continue
		}

		groups, ok := byRoute[trip.RouteID]
		if !ok {
			groups = make(map[string]*tripGroup)
			byRoute[trip.RouteID] = groups
		}
		key := fmt.Sprintf("%s (%d)", trip.Headsign, trip.DirectionID)
		g, ok := groups[key]
		if !ok {
			g = &tripGroup{start: make(map[string]int)}
			groups[key] = g
		}
		g.trips = append(g.trips, trip)
		g.start[trip.ID] = start
	}

	routeIDs := make([]string, 0, len(byRoute))
	for id := range byRoute {
		routeIDs = append(routeIDs, id)
	}
	sort.Strings(routeIDs)

	var features []domain.Feature
	for _, routeID := range routeIDs {
		groups := byRoute[routeID]
		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			g := groups[key]
			sort.SliceStable(g.trips, func(i, j int) bool {
				a, b := g.trips[i], g.trips[j]
				if g.start[a.ID] != g.start[b.ID] {
					return g.start[a.ID] < g.start[b.ID]
				}
				return a.ID < b.ID
			})

			trips := make([]int, 0, len(g.trips))
			for _, t := range g.trips {
				trips = append(trips, g.start[t.ID])
			}

			first := g.trips[0]
			stopTimes := result.TripStops[first.ID]
			stopIDs := make([]string, 0, len(stopTimes))
			for _, st := range stopTimes {
				stopIDs = append(stopIDs, st.StopID)
			}

			features = append(features, domain.Feature{
				Type: "Feature",
				Properties: domain.FeatureProperties{
					Name:    key,
					RouteID: routeID,
					Trips:   trips,
					Stops:   stopIDs,
				},
				Geometry: domain.NewLineString(tripLine(result, first, stopTimes)),
			})
		}
	}
	return features
}

// tripLine uses the trip's shape when the feed has one and falls back to a
// line through its stops.
func tripLine(result *ParseResult, trip *domain.Trip, stopTimes []domain.StopTime) [][2]float64 {
	if shape, ok := result.Shapes[trip.ShapeID]; ok && len(shape.Points) > 0 {
		coords := make([][2]float64, 0, len(shape.Points))
		for _, p := range shape.Points {
			coords = append(coords, [2]float64{p.Lon, p.Lat})
		}
		return coords
	}

	coords := make([][2]float64, 0, len(stopTimes))
	for _, st := range stopTimes {
		stop, ok := result.Stops[st.StopID]
		if !ok {
			continue
		}
		coords = append(coords, [2]float64{stop.Lon, stop.Lat})
	}
	return coords
}

// firstDeparture is the time of the trip's first timed stop.
func firstDeparture(stopTimes []domain.StopTime) (int, bool) {
	for _, st := range stopTimes {
		if st.HasTime {
			return st.DepartureSeconds, true
		}
	}
	return 0, false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
