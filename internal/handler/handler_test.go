package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transvisor/internal/config"
	"transvisor/internal/domain"
	"transvisor/internal/hub"
	"transvisor/internal/los"
	"transvisor/internal/store"
	"transvisor/internal/view"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	registry *store.Registry
	panel    *view.Panel
	hub      *hub.Hub
	routes   *RouteHandler
	los      *LOSHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := store.NewRegistry(nil)
	_, err := reg.Add("vta.geojson", []domain.Feature{
		{
			Type:       "Feature",
			Properties: domain.FeatureProperties{Name: "22 (0)", Trips: []int{25300, 26000, 30000, 31000}},
			Geometry:   domain.NewLineString([][2]float64{{-121.9, 37.3}, {-121.8, 37.4}}),
		},
		{
			Type:       "Feature",
			Properties: domain.FeatureProperties{Name: "Owl (0)", Trips: []int{90600}},
			Geometry:   domain.NewLineString([][2]float64{{-122.0, 37.1}, {-121.7, 37.2}}),
		},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Reclassify(los.DefaultWindow))

	h := hub.NewHub(testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	panel := view.NewPanel(reg, h, testLogger)
	return &fixture{
		registry: reg,
		panel:    panel,
		hub:      h,
		routes:   NewRouteHandler(reg, panel, testLogger),
		los:      NewLOSHandler(panel, testLogger),
	}
}

func call(fn http.HandlerFunc, method, target, body string, pathValues ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGetLOS(t *testing.T) {
	f := newFixture(t)

	rec := call(f.los.GetLOS, http.MethodGet, "/v1/los", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[LOSResponse](t, rec)
	assert.Equal(t, 25200, resp.Window.Start)
	assert.Equal(t, 32400, resp.Window.End)
	assert.Len(t, resp.Legend, len(los.DefaultScale))
}

func TestSetLOS(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		window los.Window
	}{
		{"form", "los_start=16&los_end=18", http.StatusOK, los.WindowFromHours(16, 18)},
		{"json", `{"los_start": 6, "los_end": 9}`, http.StatusOK, los.WindowFromHours(6, 9)},
		{"fractional form hour", "los_start=7.5&los_end=9", http.StatusBadRequest, los.DefaultWindow},
		{"fractional json hour", `{"los_start": 6.5, "los_end": 9}`, http.StatusBadRequest, los.DefaultWindow},
		{"defaults", "", http.StatusOK, los.DefaultWindow},
		{"only start", "los_start=8", http.StatusOK, los.Window{Start: 28800, End: 32400}},
		{"empty window", "los_start=9&los_end=9", http.StatusBadRequest, los.DefaultWindow},
		{"reversed", `{"los_start": 18, "los_end": 16}`, http.StatusBadRequest, los.DefaultWindow},
		{"not a number", "los_start=seven", http.StatusBadRequest, los.DefaultWindow},
		{"out of range", "los_start=-1", http.StatusBadRequest, los.DefaultWindow},
		{"bad json", `{"los_start": }`, http.StatusBadRequest, los.DefaultWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := call(f.los.SetLOS, http.MethodPost, "/v1/los", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.window, f.registry.Window())
		})
	}
}

func TestSetLOSRegrades(t *testing.T) {
	f := newFixture(t)

	rec := call(f.los.SetLOS, http.MethodPost, "/v1/los", "los_start=25&los_end=26")
	require.Equal(t, http.StatusOK, rec.Code)

	r, _ := f.registry.Get(1)
	// one trip in an hour
	assert.Equal(t, "E", los.DefaultScale.Grade(r.Grade).Name)

	rec = call(f.los.SetLOS, http.MethodPost, "/v1/los", "los_start=26&los_end=25")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	r, _ = f.registry.Get(1)
	assert.Equal(t, "E", los.DefaultScale.Grade(r.Grade).Name)
}

func TestListAndGetRoutes(t *testing.T) {
	f := newFixture(t)

	rec := call(f.routes.ListRoutes, http.MethodGet, "/v1/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[RoutesResponse](t, rec)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "D", list.Routes[0].Grade)
	assert.Equal(t, "#fee090", list.Routes[0].Background)

	rec = call(f.routes.GetRoute, http.MethodGet, "/v1/routes/0", "", "index", "0")
	require.Equal(t, http.StatusOK, rec.Code)
	route := decode[map[string]any](t, rec)
	assert.Equal(t, "D", route["los"])
	assert.Equal(t, true, route["visible"])
	assert.Equal(t, "#fee090", route["style"].(map[string]any)["color"])

	tests := []struct {
		index  string
		status int
	}{
		{"7", http.StatusNotFound},
		{"-1", http.StatusBadRequest},
		{"abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := call(f.routes.GetRoute, http.MethodGet, "/v1/routes/"+tt.index, "", "index", tt.index)
		assert.Equal(t, tt.status, rec.Code, tt.index)
	}
}

func TestGetRouteTrips(t *testing.T) {
	f := newFixture(t)

	rec := call(f.routes.GetRouteTrips, http.MethodGet, "/v1/routes/1/trips", "", "index", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TripsResponse{Index: 1, Name: "Owl (0)", Trips: []string{"25:10"}}, decode[TripsResponse](t, rec))

	rec = call(f.routes.GetRouteTrips, http.MethodGet, "/v1/routes/9/trips", "", "index", "9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisibilityEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := call(f.routes.HideRoute, http.MethodPost, "/v1/routes/0/hide", "", "index", "0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.panel.Visible(0))

	rec = call(f.routes.ShowRoute, http.MethodPost, "/v1/routes/0/show", "", "index", "0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.panel.Visible(0))

	rec = call(f.routes.ShowRoute, http.MethodPost, "/v1/routes/5/show", "", "index", "5")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(f.routes.ShowOnlyRoute, http.MethodPost, "/v1/routes/1/only", "", "index", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	only := decode[VisibilityResponse](t, rec)
	require.NotNil(t, only.Bounds)
	assert.Equal(t, domain.BoundingBox{MinLat: 37.1, MaxLat: 37.2, MinLon: -122.0, MaxLon: -121.7}, *only.Bounds)
	assert.False(t, f.panel.Visible(0))

	call(f.routes.HideAll, http.MethodPost, "/v1/routes/hide-all", "")
	assert.False(t, f.panel.Visible(1))
	call(f.routes.ShowAll, http.MethodPost, "/v1/routes/show-all", "")
	assert.True(t, f.panel.Visible(0))
	assert.True(t, f.panel.Visible(1))
}

func TestGetLayerAndBounds(t *testing.T) {
	f := newFixture(t)

	rec := call(f.routes.GetLayer, http.MethodGet, "/v1/layer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	layer := decode[view.Layer](t, rec)
	require.Len(t, layer.Features, 2)
	assert.Equal(t, 1, layer.Features[0].Properties.Index)
	assert.Equal(t, "route route-0", layer.Features[1].Properties.ClassName)

	rec = call(f.routes.GetBounds, http.MethodGet, "/v1/bounds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.BoundingBox{MinLat: 37.1, MaxLat: 37.4, MinLon: -122.0, MaxLon: -121.7}, decode[domain.BoundingBox](t, rec))

	empty := NewRouteHandler(store.NewRegistry(nil), view.NewPanel(store.NewRegistry(nil), nil, testLogger), testLogger)
	rec = call(empty.GetBounds, http.MethodGet, "/v1/bounds", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeLoader struct {
	mu     sync.Mutex
	loaded []config.Source
	done   chan struct{}
}

func (l *fakeLoader) Load(_ context.Context, src config.Source) ([]int, error) {
	l.mu.Lock()
	l.loaded = append(l.loaded, src)
	l.mu.Unlock()
	close(l.done)
	return []int{0}, nil
}

func TestAddSource(t *testing.T) {
	loader := &fakeLoader{done: make(chan struct{})}
	h := NewSourceHandler(context.Background(), loader, nil, testLogger)

	rec := call(h.AddSource, http.MethodPost, "/v1/sources", `{"id": "https://example.com/vta.zip"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, SourceAccepted{ID: "https://example.com/vta.zip", Kind: "gtfs", Status: "loading"}, decode[SourceAccepted](t, rec))

	select {
	case <-loader.done:
	case <-time.After(time.Second):
		t.Fatal("source was not loaded")
	}

	for _, body := range []string{`{"kind": "gtfs"}`, `{"id": "https://example.com/a", "kind": "csv"}`, `not json`} {
		rec := call(h.AddSource, http.MethodPost, "/v1/sources", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAddSourceRefusesLocalTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))

	tests := []struct {
		name    string
		allowed []string
		id      string
		status  int
	}{
		{"local path", nil, path, http.StatusBadRequest},
		{"file url", nil, "file://" + path, http.StatusBadRequest},
		{"relative path", nil, "routes.geojson", http.StatusBadRequest},
		{"loopback", nil, "http://127.0.0.1:6379/routes.geojson", http.StatusForbidden},
		{"localhost", nil, "http://localhost/routes.geojson", http.StatusForbidden},
		{"private network", nil, "http://10.0.0.5/routes.geojson", http.StatusForbidden},
		{"link local", nil, "http://169.254.169.254/latest/meta-data", http.StatusForbidden},
		{"host not listed", []string{"feeds.example.com"}, "https://other.example.com/vta.zip", http.StatusForbidden},
		{"host listed", []string{"feeds.example.com"}, "https://feeds.example.com/vta.zip", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &fakeLoader{done: make(chan struct{})}
			h := NewSourceHandler(context.Background(), loader, tt.allowed, testLogger)

			rec := call(h.AddSource, http.MethodPost, "/v1/sources", `{"id": "`+tt.id+`", "kind": "geojson"}`)
			assert.Equal(t, tt.status, rec.Code)

			if tt.status != http.StatusAccepted {
				select {
				case <-loader.done:
					t.Fatal("refused source was loaded")
				case <-time.After(20 * time.Millisecond):
				}
			}
		})
	}
}

type readiness bool

func (r readiness) IsReady() bool { return bool(r) }

func TestHealth(t *testing.T) {
	reg := store.NewRegistry(nil)

	rec := call(NewHealthHandler(readiness(true), reg).Healthz, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = call(NewHealthHandler(readiness(false), reg).Readyz, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = call(NewHealthHandler(readiness(true), reg).Readyz, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ReadyResponse](t, rec).Ready)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	rec := call(NewStatsHandler(f.registry, f.hub, nil).GetStats, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, stats.Registry.Routes)
	assert.Equal(t, "07:00-09:00", stats.Registry.Window)
	assert.Equal(t, 1, stats.Registry.ByGrade["D"])
	assert.Nil(t, stats.RateLimit)
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/los", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/los", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWebSocketSubscribe(t *testing.T) {
	f := newFixture(t)
	ws := NewWSHandler(f.hub, f.panel, testLogger)
	srv := httptest.NewServer(http.HandlerFunc(ws.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() hub.Message {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg hub.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe","payload":{"topics":["los"]}}`)))
	snapshot := read()
	assert.Equal(t, "los.snapshot", snapshot.Type)

	require.NoError(t, f.panel.Reclassify(los.WindowFromHours(16, 18)))
	ev := read()
	assert.Equal(t, hub.TopicLOS, ev.Type)
	assert.Equal(t, float64(57600), ev.Payload.(map[string]any)["start"])

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", read().Type)
}
