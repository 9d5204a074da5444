package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/motioncam/internal/detection"
	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/notification"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
)

type fakeDetector struct {
	mu     sync.Mutex
	calls  int
	paths  []string
	labels []string
	err    error
}

func (f *fakeDetector) Detect(ctx context.Context, imagePath string) (*detection.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.paths = append(f.paths, imagePath)
	if f.err != nil {
		return nil, f.err
	}
	return &detection.Result{Labels: f.labels}, nil
}

type fakeTagger struct {
	mu     sync.Mutex
	calls  int
	labels []string
	err    error
}

func (f *fakeTagger) Tag(ctx context.Context, clipPath string, labels []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.labels = labels
	if f.err != nil {
		return "", f.err
	}
	return "tagged", nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (f *fakeDispatcher) SendAlert(ctx context.Context, a notification.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeCatalog struct {
	mu   sync.Mutex
	recs []*storage.ClipRecord
}

func (f *fakeCatalog) SaveClip(ctx context.Context, rec *storage.ClipRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	worker   *Worker
	detector *fakeDetector
	tagger   *fakeTagger
	disp     *fakeDispatcher
	catalog  *fakeCatalog
	pub      *recordingPublisher
}

func setupTestWorker(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		detector: &fakeDetector{labels: []string{"person", "car", "person"}},
		tagger:   &fakeTagger{},
		disp:     &fakeDispatcher{},
		catalog:  &fakeCatalog{},
		pub:      &recordingPublisher{},
	}
	w, err := New(Config{TempDir: t.TempDir(), QueueSize: 4}, f.detector, f.tagger, f.disp,
		WithCatalog(f.catalog),
		WithEvents(f.pub),
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	w.selectPreview = func(clipPath string, indices []int, outPath string) (int, error) {
		idx, err := recorder.PreviewIndex(indices)
		if err != nil {
			return 0, err
		}
		return idx, os.WriteFile(outPath, []byte("jpeg"), 0o644)
	}
	w.selectMaskedPreview = func(string, []int, string) error { return errors.New("no masked clip") }
	f.worker = w
	return f
}

func testClip(indices ...int) *recorder.Clip {
	return &recorder.Clip{
		ID:                 "session-1",
		Path:               filepath.Join("clips", "2024-03-01_10-00-00.mp4"),
		StartTime:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		EndTime:            time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC),
		FrameCount:         120,
		MotionFrameIndices: indices,
		StopReason:         recorder.StopNoMotion,
	}
}

func TestHandleAlertsWithTaggedLabels(t *testing.T) {
	f := setupTestWorker(t)

	require.NoError(t, f.worker.handle(context.Background(), testClip(1, 2, 3)))

	assert.Equal(t, 1, f.detector.calls)
	assert.Equal(t, 1, f.tagger.calls)
	require.Equal(t, 1, f.disp.count())

	alert := f.disp.alerts[0]
	assert.Equal(t, f.tagger.labels, alert.Labels)
	assert.Equal(t, "2 person, 1 car", alert.Summary)
	assert.Equal(t, "2024-03-01_10-00-00.mp4", alert.ClipName)
	assert.FileExists(t, alert.PreviewImagePath)

	require.Len(t, f.catalog.recs, 1)
	assert.Equal(t, "tagged", f.catalog.recs[0].Comment)
	assert.Equal(t, 3, f.catalog.recs[0].MotionFrames)
	assert.Equal(t, []events.Type{events.ClipProcessed}, f.pub.types())
}

func TestHandleDetectsOnMaskedPreview(t *testing.T) {
	f := setupTestWorker(t)
	var maskedIndices []int
	f.worker.selectMaskedPreview = func(maskedPath string, indices []int, outPath string) error {
		maskedIndices = indices
		return os.WriteFile(outPath, []byte("masked"), 0o644)
	}
	clip := testClip(3, 7, 9)
	clip.MaskedPath = filepath.Join("temp", "masked_video.mp4")

	require.NoError(t, f.worker.handle(context.Background(), clip))

	require.Len(t, f.detector.paths, 1)
	assert.Equal(t, filepath.Join(f.worker.cfg.TempDir, recorder.MaskedPreviewName), f.detector.paths[0])
	assert.Equal(t, []int{3, 7, 9}, maskedIndices)

	require.Equal(t, 1, f.disp.count())
	assert.Equal(t, filepath.Join(f.worker.cfg.TempDir, recorder.PreviewName), f.disp.alerts[0].PreviewImagePath)
}

func TestHandleDetectsOnRawPreviewWhenMaskedFails(t *testing.T) {
	f := setupTestWorker(t)
	clip := testClip(5)
	clip.MaskedPath = filepath.Join("temp", "masked_video.mp4")

	require.NoError(t, f.worker.handle(context.Background(), clip))

	require.Len(t, f.detector.paths, 1)
	assert.Equal(t, filepath.Join(f.worker.cfg.TempDir, recorder.PreviewName), f.detector.paths[0])
}

func TestHandleDetectionFailureSkipsTagAndAlert(t *testing.T) {
	f := setupTestWorker(t)
	f.detector.err = errors.New("service unavailable")

	err := f.worker.handle(context.Background(), testClip(4))
	require.Error(t, err)

	assert.Zero(t, f.tagger.calls)
	assert.Zero(t, f.disp.count())
	assert.Empty(t, f.catalog.recs)
}

func TestHandleTagFailureStillAlerts(t *testing.T) {
	f := setupTestWorker(t)
	f.tagger.err = errors.New("ffmpeg exited")

	require.NoError(t, f.worker.handle(context.Background(), testClip(2)))
	assert.Equal(t, 1, f.disp.count())
	require.Len(t, f.catalog.recs, 1)
	assert.Empty(t, f.catalog.recs[0].Comment)
}

func TestHandleEmptyIndices(t *testing.T) {
	f := setupTestWorker(t)

	err := f.worker.handle(context.Background(), testClip())
	assert.ErrorIs(t, err, recorder.ErrNoMotionFrames)
	assert.Zero(t, f.detector.calls)
}

func TestWorkerProcessesEachClipOnce(t *testing.T) {
	f := setupTestWorker(t)
	ctx := context.Background()
	f.worker.Start(ctx)

	require.NoError(t, f.worker.Enqueue(testClip(1)))
	require.NoError(t, f.worker.Enqueue(testClip(2)))
	f.worker.Stop()

	assert.Equal(t, 2, f.detector.calls)
	assert.Equal(t, 2, f.disp.count())
	assert.Equal(t, uint64(2), f.worker.Metrics().Processed.Load())
	snap := f.worker.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap["processed"])
	assert.Equal(t, uint64(2), snap["alerts"])

	assert.ErrorIs(t, f.worker.Enqueue(testClip(3)), ErrStopped)
}

func TestWorkerFailedJobPublishesEvent(t *testing.T) {
	f := setupTestWorker(t)
	f.detector.err = errors.New("down")
	f.worker.Start(context.Background())

	require.NoError(t, f.worker.Enqueue(testClip(1)))
	f.worker.Stop()

	assert.Equal(t, []events.Type{events.ClipFailed}, f.pub.types())
	assert.Equal(t, uint64(1), f.worker.Metrics().Failed.Load())
}

func TestEnqueueQueueFull(t *testing.T) {
	f := setupTestWorker(t)
	// Mark running without a consumer so the queue fills.
	f.worker.running = true

	for i := 0; i < 4; i++ {
		require.NoError(t, f.worker.Enqueue(testClip(1)))
	}
	assert.ErrorIs(t, f.worker.Enqueue(testClip(1)), ErrQueueFull)
	assert.Equal(t, uint64(1), f.worker.Metrics().Dropped.Load())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{TempDir: "x"}, nil, &fakeTagger{}, &fakeDispatcher{})
	assert.Error(t, err)
	_, err = New(Config{}, &fakeDetector{}, &fakeTagger{}, &fakeDispatcher{})
	assert.Error(t, err)
}
