// Package postprocess runs the slow per-clip work after a recording session
// ends: preview extraction, object detection, tagging, archiving and alerts.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/detection"
	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/metadata"
	"github.com/mikeyg42/motioncam/internal/notification"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
)

// ErrQueueFull is returned by Enqueue when the job cannot be accepted.
var ErrQueueFull = errors.New("postprocess: queue full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("postprocess: worker stopped")

// Tagger embeds the label summary into a clip.
type Tagger interface {
	Tag(ctx context.Context, clipPath string, labels []string) (string, error)
}

// Archiver copies a clip and its artifacts to long-term storage.
type Archiver interface {
	ArchiveClip(ctx context.Context, clipPath, comment string, extras ...string) (string, error)
}

// Catalog records processed clips.
type Catalog interface {
	SaveClip(ctx context.Context, rec *storage.ClipRecord) error
}

// Config controls the worker.
type Config struct {
	TempDir    string
	QueueSize  int
	JobTimeout time.Duration
}

// Metrics tracks worker activity
type Metrics struct {
	Queued    atomic.Uint64
	Dropped   atomic.Uint64
	Processed atomic.Uint64
	Failed    atomic.Uint64
	Alerts    atomic.Uint64
}

func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"queued":    m.Queued.Load(),
		"dropped":   m.Dropped.Load(),
		"processed": m.Processed.Load(),
		"failed":    m.Failed.Load(),
		"alerts":    m.Alerts.Load(),
	}
}

// Worker consumes finished clips on a single goroutine, so the single-slot
// temp images are never shared between jobs.
type Worker struct {
	cfg        Config
	detector   detection.Detector
	tagger     Tagger
	dispatcher notification.Dispatcher
	archiver   Archiver
	catalog    Catalog
	events     events.Publisher
	logger     *zap.Logger

	selectPreview       func(clipPath string, indices []int, outPath string) (int, error)
	selectMaskedPreview func(maskedPath string, indices []int, outPath string) error

	queue   chan *recorder.Clip
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	metrics Metrics
}

// Option configures optional collaborators.
type Option func(*Worker)

func WithArchiver(a Archiver) Option { return func(w *Worker) { w.archiver = a } }

func WithCatalog(c Catalog) Option { return func(w *Worker) { w.catalog = c } }

func WithEvents(p events.Publisher) Option { return func(w *Worker) { w.events = p } }

func WithLogger(l *zap.Logger) Option { return func(w *Worker) { w.logger = l } }

// New builds a worker. Detector, tagger and dispatcher are required.
func New(cfg Config, det detection.Detector, tagger Tagger, disp notification.Dispatcher, opts ...Option) (*Worker, error) {
	if det == nil || tagger == nil || disp == nil {
		return nil, errors.New("postprocess: detector, tagger and dispatcher are required")
	}
	if cfg.TempDir == "" {
		return nil, errors.New("postprocess: temp dir required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	w := &Worker{
		cfg:                 cfg,
		detector:            det,
		tagger:              tagger,
		dispatcher:          disp,
		events:              events.Nop{},
		logger:              zap.L(),
		selectPreview:       recorder.SelectPreview,
		selectMaskedPreview: recorder.SelectMaskedPreview,
		queue:               make(chan *recorder.Clip, cfg.QueueSize),
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("postprocess")
	return w, nil
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop drains queued jobs and waits for the worker to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
}

// Enqueue hands a finished clip to the worker without blocking. Each clip is
// processed at most once.
func (w *Worker) Enqueue(clip *recorder.Clip) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrStopped
	}
	select {
	case w.queue <- clip:
		w.metrics.Queued.Add(1)
		return nil
	default:
		w.metrics.Dropped.Add(1)
		w.logger.Warn("Post-processing queue full, clip left unprocessed", zap.String("clip", clip.Path))
		return ErrQueueFull
	}
}

func (w *Worker) Metrics() *Metrics {
	return &w.metrics
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case clip := <-w.queue:
			w.process(ctx, clip)
		case <-w.stopCh:
			for {
				select {
				case clip := <-w.queue:
					w.process(ctx, clip)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, clip *recorder.Clip) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := w.handle(ctx, clip); err != nil {
		w.metrics.Failed.Add(1)
		w.logger.Error("Clip post-processing failed",
			zap.String("clip", clip.Name()),
			zap.Error(err))
		w.events.Publish(events.Event{Type: events.ClipFailed, Clip: clip.Name(), Error: err.Error()})
		return
	}
	w.metrics.Processed.Add(1)
	w.logger.Info("Clip post-processed",
		zap.String("clip", clip.Name()),
		zap.Duration("took", time.Since(start)))
}

// handle runs the steps for one clip. Detection failures abort before
// tagging and alerting; tag, archive and catalog failures are logged and the
// alert still goes out with the detected labels.
func (w *Worker) handle(ctx context.Context, clip *recorder.Clip) error {
	log := w.logger.With(zap.String("clip", clip.Name()), zap.String("session", clip.ID))

	previewPath := filepath.Join(w.cfg.TempDir, recorder.PreviewName)
	idx, err := w.selectPreview(clip.Path, clip.MotionFrameIndices, previewPath)
	if err != nil {
		return fmt.Errorf("select preview: %w", err)
	}
	log.Debug("Preview selected", zap.Int("frame", idx))

	maskedPreview := ""
	if clip.MaskedPath != "" {
		p := filepath.Join(w.cfg.TempDir, recorder.MaskedPreviewName)
		if err := w.selectMaskedPreview(clip.MaskedPath, clip.MotionFrameIndices, p); err != nil {
			log.Warn("Masked preview unavailable", zap.Error(err))
		} else {
			maskedPreview = p
		}
	}

	// Detection reads the masked preview, or the raw one when it is missing.
	detectPath := previewPath
	if maskedPreview != "" {
		detectPath = maskedPreview
	}
	result, err := w.detector.Detect(ctx, detectPath)
	if err != nil {
		return fmt.Errorf("detect objects: %w", err)
	}
	labels := result.Labels
	summary := metadata.FormatLabels(labels)

	comment, err := w.tagger.Tag(ctx, clip.Path, labels)
	if err != nil {
		log.Error("Failed to tag clip", zap.Error(err))
		comment = ""
	}

	objectKey := ""
	if w.archiver != nil {
		key, err := w.archiver.ArchiveClip(ctx, clip.Path, comment, previewPath, maskedPreview, result.AnnotatedImagePath)
		if err != nil {
			log.Warn("Failed to archive clip", zap.Error(err))
		} else {
			objectKey = key
		}
	}

	if w.catalog != nil {
		rec := &storage.ClipRecord{
			ID:           clip.ID,
			Name:         clip.Name(),
			Path:         clip.Path,
			StartTime:    clip.StartTime,
			EndTime:      clip.EndTime,
			FrameCount:   clip.FrameCount,
			MotionFrames: len(clip.MotionFrameIndices),
			StopReason:   string(clip.StopReason),
			Labels:       pq.StringArray(labels),
			Comment:      comment,
			ObjectKey:    objectKey,
		}
		if err := w.catalog.SaveClip(ctx, rec); err != nil {
			log.Warn("Failed to catalog clip", zap.Error(err))
		}
	}

	alert := notification.Alert{
		Labels:             labels,
		Summary:            summary,
		Timestamp:          clip.StartTime,
		ClipName:           clip.Name(),
		PreviewImagePath:   previewPath,
		AnnotatedImagePath: existingFile(result.AnnotatedImagePath),
	}
	if err := w.dispatcher.SendAlert(ctx, alert); err != nil {
		log.Error("Failed to send alert", zap.Error(err))
	} else {
		w.metrics.Alerts.Add(1)
	}

	w.events.Publish(events.Event{
		Type:    events.ClipProcessed,
		Clip:    clip.Name(),
		Labels:  labels,
		Summary: summary,
		Reason:  string(clip.StopReason),
	})
	return nil
}

func existingFile(p string) string {
	if p == "" {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
