package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/motioncam/internal/control"
	"github.com/mikeyg42/motioncam/internal/pipeline"
	"github.com/mikeyg42/motioncam/internal/storage"
	"github.com/mikeyg42/motioncam/internal/zones"
)

type fakeCamera struct {
	mu      sync.Mutex
	current string
	running bool
	openErr error
}

func (f *fakeCamera) Switch(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	if f.openErr != nil {
		return f.openErr
	}
	f.current, f.running = target, true
	return nil
}

func (f *fakeCamera) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return pipeline.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeCamera) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.running
}

type fakeComments map[string]string

func (f fakeComments) ReadComment(ctx context.Context, path string) (string, error) {
	if c, ok := f[filepath.Base(path)]; ok {
		return c, nil
	}
	return "", errors.New("no comment")
}

type fakeCatalog struct {
	recs    []storage.ClipRecord
	deleted []string
}

func (f *fakeCatalog) ListClips(ctx context.Context, limit int) ([]storage.ClipRecord, error) {
	return f.recs, nil
}

func (f *fakeCatalog) DeleteClip(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("unreachable") }

type fixture struct {
	server   *Server
	state    *control.State
	camera   *fakeCamera
	clipsDir string
}

func setupTestServer(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		state:    control.NewState(false, nil),
		camera:   &fakeCamera{},
		clipsDir: t.TempDir(),
	}
	deps := Deps{State: f.state, Camera: f.camera}
	if mutate != nil {
		mutate(&deps)
	}
	f.server = NewServer(Config{
		ClipsDir:       f.clipsDir,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, deps, zaptest.NewLogger(t))
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestZonesLifecycle(t *testing.T) {
	f := setupTestServer(t, nil)

	w := f.do(t, http.MethodGet, "/api/exclusion_zones", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["zones"])

	body := map[string]any{"zones": []map[string]int{{"startX": 50, "startY": 60, "endX": 10, "endY": 20}}}
	w = f.do(t, http.MethodPost, "/api/exclusion_zones", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []zones.Zone{{StartX: 50, StartY: 60, EndX: 10, EndY: 20}}, f.state.Zones())

	w = f.do(t, http.MethodDelete, "/api/exclusion_zones", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.state.Zones())
}

func TestSetZonesRejectsBadInput(t *testing.T) {
	f := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/exclusion_zones", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := map[string]any{"zones": []map[string]int{{"startX": -1, "startY": 0, "endX": 10, "endY": 10}}}
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/exclusion_zones", body).Code)
	assert.Empty(t, f.state.Zones())
}

func TestLegacyRoutes(t *testing.T) {
	f := setupTestServer(t, nil)

	body := map[string]any{"zones": []map[string]int{{"startX": 1, "startY": 2, "endX": 3, "endY": 4}}}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/set_exclusion_zones", body).Code)
	assert.Len(t, f.state.Zones(), 1)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/clear_exclusion_zones", nil).Code)
	assert.Empty(t, f.state.Zones())

	w := f.do(t, http.MethodPost, "/toggle_motion_detection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["motion_detection_active"])
}

func TestToggleMotion(t *testing.T) {
	f := setupTestServer(t, nil)

	w := f.do(t, http.MethodPost, "/api/motion/toggle", nil)
	assert.Equal(t, true, decode(t, w)["motion_detection_active"])
	assert.True(t, f.state.MotionDetectionEnabled())

	w = f.do(t, http.MethodPost, "/api/motion/toggle", nil)
	assert.Equal(t, false, decode(t, w)["motion_detection_active"])

	w = f.do(t, http.MethodGet, "/api/motion", nil)
	assert.Equal(t, false, decode(t, w)["motion_detection_active"])
}

func TestSourceSwitchAndStop(t *testing.T) {
	f := setupTestServer(t, nil)

	w := f.do(t, http.MethodPost, "/api/source", map[string]string{"source": "rtsp://cam"})
	require.Equal(t, http.StatusOK, w.Code)
	src, running := f.camera.Current()
	assert.Equal(t, "rtsp://cam", src)
	assert.True(t, running)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/source", map[string]string{}).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/source", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/api/source", nil).Code)

	f.camera.openErr = errors.New("cannot open")
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/source", map[string]string{"source": "bad"}).Code)
}

func TestListClips(t *testing.T) {
	catalog := &fakeCatalog{recs: []storage.ClipRecord{
		{Name: "2024-03-01_10-00-00.mp4", Comment: "1 person", Labels: pq.StringArray{"person"}},
	}}
	f := setupTestServer(t, func(d *Deps) {
		d.Catalog = catalog
		d.Comments = fakeComments{"2024-03-02_11-30-00.mp4": "2 car"}
	})

	for _, name := range []string{"2024-03-01_10-00-00.mp4", "2024-03-02_11-30-00.mp4", ".tmp.tagging.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.clipsDir, name), []byte("abc"), 0o644))
	}

	w := f.do(t, http.MethodGet, "/api/clips", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Clips []ClipInfo `json:"clips"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Clips, 2)
	assert.Equal(t, "2024-03-02_11-30-00.mp4", resp.Clips[0].Name)
	assert.Equal(t, "2 car", resp.Clips[0].Comment)
	assert.Equal(t, "11:30:00AM 02 March 2024", resp.Clips[0].DisplayTime)
	assert.Equal(t, "1 person", resp.Clips[1].Comment)
	assert.Equal(t, []string{"person"}, resp.Clips[1].Labels)
	assert.Equal(t, int64(3), resp.Clips[1].Size)
}

func TestGetAndDeleteClip(t *testing.T) {
	catalog := &fakeCatalog{}
	f := setupTestServer(t, func(d *Deps) { d.Catalog = catalog })
	require.NoError(t, os.WriteFile(filepath.Join(f.clipsDir, "a.mp4"), []byte("video"), 0o644))

	w := f.do(t, http.MethodGet, "/api/clips/a.mp4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video", w.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/clips/b.mp4", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/clips/.hidden.mp4", nil).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/clips/a.mp4", nil).Code)
	assert.NoFileExists(t, filepath.Join(f.clipsDir, "a.mp4"))
	assert.Equal(t, []string{"a.mp4"}, catalog.deleted)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/clips/a.mp4", nil).Code)
}

func TestHealth(t *testing.T) {
	f := setupTestServer(t, nil)
	w := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	f = setupTestServer(t, func(d *Deps) { d.Health = map[string]HealthChecker{"catalog": failingCheck{}} })
	w = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestStats(t *testing.T) {
	f := setupTestServer(t, nil)
	w := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w))

	f = setupTestServer(t, func(d *Deps) {
		d.Stats = func() map[string]any {
			return map[string]any{"worker": map[string]uint64{"processed": 3}}
		}
	})
	w = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	worker, ok := decode(t, w)["worker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, worker["processed"])
}

func TestFeedUnavailable(t *testing.T) {
	f := setupTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/video_feed", nil).Code)
}

func TestCORS(t *testing.T) {
	f := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/motion/toggle", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/motion", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
