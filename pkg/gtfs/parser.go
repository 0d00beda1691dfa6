package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"transvisor/internal/domain"
)

type ParseResult struct {
	Routes    map[string]*domain.Route
	Trips     map[string]*domain.Trip
	Calendars map[string]*domain.Calendar
	Shapes    map[string]*domain.Shape
	Stops     map[string]*domain.Stop
	TripStops map[string][]domain.StopTime // trip_id -> stop times ordered by stop_sequence
}

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger.With("component", "gtfs_parser"),
	}
}

type fileParser struct {
	name     string
	required bool
	parse    func(r *csv.Reader, idx map[string]int, result *ParseResult) error
}

func (p *Parser) Parse(reader *zip.Reader) (*ParseResult, error) {
	totalStart := time.Now()
	p.logger.Info("starting GTFS parsing")

	result := &ParseResult{
		Routes:    make(map[string]*domain.Route),
		Trips:     make(map[string]*domain.Trip),
		Calendars: make(map[string]*domain.Calendar),
		Shapes:    make(map[string]*domain.Shape),
		Stops:     make(map[string]*domain.Stop),
		TripStops: make(map[string][]domain.StopTime),
	}

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[strings.ToLower(file.Name)] = file
		p.logger.Debug("found file in archive",
			"name", file.Name,
			"compressed_size", file.CompressedSize64,
			"uncompressed_size", file.UncompressedSize64,
		)
	}

	// stop_times.txt is joined against trips.txt, so order matters here.
	files := []fileParser{
		{name: "routes.txt", required: true, parse: parseRoutes},
		{name: "trips.txt", required: true, parse: parseTrips},
		{name: "calendar.txt", parse: parseCalendar},
		{name: "stops.txt", parse: parseStops},
		{name: "shapes.txt", parse: parseShapes},
		{name: "stop_times.txt", required: true, parse: parseStopTimes},
	}

	for _, fp := range files {
		file, ok := fileMap[fp.name]
		if !ok {
			if fp.required {
				return nil, fmt.Errorf("missing %s", fp.name)
			}
			p.logger.Debug("optional file not in archive", "name", fp.name)
			continue
		}

		start := time.Now()
		if err := readCSV(file, result, fp.parse); err != nil {
			return nil, fmt.Errorf("parse %s: %w", strings.TrimSuffix(fp.name, ".txt"), err)
		}
		p.logger.Info("parsed "+fp.name, "duration_ms", time.Since(start).Milliseconds())
	}

	for _, stopTimes := range result.TripStops {
		sort.Slice(stopTimes, func(i, j int) bool {
			return stopTimes[i].StopSequence < stopTimes[j].StopSequence
		})
	}

	p.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"routes", len(result.Routes),
		"trips", len(result.Trips),
		"calendars", len(result.Calendars),
		"shapes", len(result.Shapes),
		"stops", len(result.Stops),
	)

	return result, nil
}

func readCSV(file *zip.File, result *ParseResult, parse func(*csv.Reader, map[string]int, *ParseResult) error) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return err
	}
	return parse(r, makeIndex(header), result)
}

func eachRecord(r *csv.Reader, fn func(record []string)) error {
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fn(record)
	}
}

func parseRoutes(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	return eachRecord(r, func(record []string) {
		routeType := 3
		if v := getField(record, idx, "route_type"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				routeType = parsed
			}
		}

		route := &domain.Route{
			ID:        getField(record, idx, "route_id"),
			ShortName: getField(record, idx, "route_short_name"),
			LongName:  getField(record, idx, "route_long_name"),
			Type:      domain.RouteType(routeType),
		}
		result.Routes[route.ID] = route
	})
}

func parseTrips(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	return eachRecord(r, func(record []string) {
		tripID := getField(record, idx, "trip_id")
		routeID := getField(record, idx, "route_id")
		if tripID == "" || routeID == "" {
			return
		}
		direction, _ := strconv.Atoi(getField(record, idx, "direction_id"))

		result.Trips[tripID] = &domain.Trip{
			ID:          tripID,
			RouteID:     routeID,
			ServiceID:   getField(record, idx, "service_id"),
			ShapeID:     getField(record, idx, "shape_id"),
			Headsign:    getField(record, idx, "trip_headsign"),
			DirectionID: direction,
		}
	})
}

func parseCalendar(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	return eachRecord(r, func(record []string) {
		cal := &domain.Calendar{ServiceID: getField(record, idx, "service_id")}
		for d := time.Sunday; d <= time.Saturday; d++ {
			cal.Days[d] = getField(record, idx, strings.ToLower(d.String())) == "1"
		}
		result.Calendars[cal.ServiceID] = cal
	})
}

func parseStops(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	return eachRecord(r, func(record []string) {
		lat, _ := strconv.ParseFloat(getField(record, idx, "stop_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, idx, "stop_lon"), 64)

		stop := &domain.Stop{
			ID:   getField(record, idx, "stop_id"),
			Name: getField(record, idx, "stop_name"),
			Lat:  lat,
			Lon:  lon,
		}
		result.Stops[stop.ID] = stop
	})
}

func parseShapes(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	points := make(map[string][]domain.ShapePoint)

	err := eachRecord(r, func(record []string) {
		shapeID := getField(record, idx, "shape_id")

		lat, _ := strconv.ParseFloat(getField(record, idx, "shape_pt_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, idx, "shape_pt_lon"), 64)
		seq, _ := strconv.Atoi(getField(record, idx, "shape_pt_sequence"))

		points[shapeID] = append(points[shapeID], domain.ShapePoint{
			Lat:      lat,
			Lon:      lon,
			Sequence: seq,
		})
	})
	if err != nil {
		return err
	}

	for shapeID, pts := range points {
		sort.Slice(pts, func(i, j int) bool {
			return pts[i].Sequence < pts[j].Sequence
		})

		result.Shapes[shapeID] = &domain.Shape{
			ID:     shapeID,
			Points: pts,
		}
	}
	return nil
}

func parseStopTimes(r *csv.Reader, idx map[string]int, result *ParseResult) error {
	return eachRecord(r, func(record []string) {
		tripID := getField(record, idx, "trip_id")
		if _, ok := result.Trips[tripID]; !ok {
			return
		}

		departure := getField(record, idx, "departure_time")
		if departure == "" {
			departure = getField(record, idx, "arrival_time")
		}
		// untimed rows still place the stop on the trip's path
		seconds, timed := ParseGTFSTime(departure)
		seq, _ := strconv.Atoi(getField(record, idx, "stop_sequence"))

		result.TripStops[tripID] = append(result.TripStops[tripID], domain.StopTime{
			TripID:           tripID,
			StopID:           getField(record, idx, "stop_id"),
			DepartureSeconds: seconds,
			HasTime:          timed,
			StopSequence:     seq,
		})
	})
}

// ParseGTFSTime converts "HH:MM:SS" to seconds since midnight. Hours may run
// past 23 for trips after midnight.
func ParseGTFSTime(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
