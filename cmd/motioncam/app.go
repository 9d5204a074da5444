package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/motioncam/internal/api"
	"github.com/mikeyg42/motioncam/internal/capture"
	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/control"
	"github.com/mikeyg42/motioncam/internal/detection"
	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/metadata"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/notification"
	"github.com/mikeyg42/motioncam/internal/pipeline"
	"github.com/mikeyg42/motioncam/internal/postprocess"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
	"github.com/mikeyg42/motioncam/internal/stream"
)

// Application holds all components
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	state    *control.State
	detector *motion.Detector
	recorder *recorder.Recorder
	worker   *postprocess.Worker
	feed     *stream.Hub
	mjpeg    *stream.MJPEGSink
	events   *events.Hub
	runner   *pipeline.Runner
	camera   *pipeline.Camera
	store    *storage.MinIOStore
	catalog  *storage.Catalog
	server   *api.Server

	// workerCtx outlives the signal context so queued clips are drained.
	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// NewApplication wires every component from cfg. Optional backends that fail
// to come up are logged and skipped.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{cfg: cfg, logger: logger}
	app.workerCtx, app.workerCancel = context.WithCancel(context.WithoutCancel(ctx))

	app.state = control.NewState(cfg.Motion.Enabled, cfg.Motion.ExclusionZones)

	det, err := motion.NewDetector(cfg.MotionConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create motion detector: %w", err)
	}
	app.detector = det

	rec, err := recorder.New(cfg.RecorderConfig(),
		recorder.NewVideoWriterFactory(cfg.Recording.Codec),
		recorder.WithLogger(logger))
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	app.recorder = rec

	dispatcher, err := app.buildDispatcher(ctx)
	if err != nil {
		app.Cleanup()
		return nil, err
	}

	app.events = events.NewHub(logger)
	opts := []postprocess.Option{
		postprocess.WithEvents(app.events),
		postprocess.WithLogger(logger),
	}

	health := map[string]api.HealthChecker{}
	minioCfg, pgCfg := cfg.StorageConfigs()
	if cfg.Storage.MinIO.Enabled {
		store, err := storage.NewMinIOStore(ctx, minioCfg)
		if err != nil {
			logger.Warn("Clip archive disabled", zap.Error(err))
		} else {
			app.store = store
			archive := storage.NewArchive(store, cfg.Storage.MinIO.Prefix, logger)
			opts = append(opts, postprocess.WithArchiver(archive))
			health["archive"] = archive
		}
	}
	if cfg.Storage.Postgres.Enabled {
		catalog, err := storage.OpenCatalog(ctx, pgCfg)
		if err != nil {
			logger.Warn("Clip catalog disabled", zap.Error(err))
		} else {
			app.catalog = catalog
			opts = append(opts, postprocess.WithCatalog(catalog))
			health["catalog"] = catalog
		}
	}

	tagger := metadata.NewTagger(cfg.Recording.FFmpegPath, logger)
	objDetector := detection.NewClient(cfg.DetectionConfig(), logger)

	worker, err := postprocess.New(postprocess.Config{
		TempDir:    cfg.Recording.TempDir,
		QueueSize:  cfg.PostProcess.QueueSize,
		JobTimeout: cfg.PostProcess.JobTimeout,
	}, objDetector, tagger, dispatcher, opts...)
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("failed to create post-processing worker: %w", err)
	}
	app.worker = worker

	if err := capture.SetNetworkTimeout(cfg.Capture.NetworkTimeout); err != nil {
		logger.Warn("Failed to set capture network timeout", zap.Error(err))
	}

	app.feed = stream.NewHub(logger)
	app.mjpeg = stream.NewMJPEGSink()
	app.runner = pipeline.NewRunner(
		pipeline.RunnerConfig{DrawRegions: cfg.Capture.DrawRegions},
		app.state, det, rec,
		stream.Multi{app.feed, app.mjpeg},
		worker, app.events, logger)
	app.camera = pipeline.NewCamera(ctx, app.runner, pipeline.OpenCapture, logger)

	deps := api.Deps{
		State:    app.state,
		Camera:   app.camera,
		Feed:     app.feed,
		MJPEG:    app.mjpeg,
		Events:   app.events,
		Publish:  app.events,
		Comments: tagger,
		Health:   health,
		Stats:    app.stats,
	}
	if app.catalog != nil {
		deps.Catalog = app.catalog
	}
	app.server = api.NewServer(api.Config{
		Addr:           cfg.API.Addr,
		AllowedOrigins: cfg.API.AllowedOrigins,
		RateLimitRPS:   cfg.API.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.API.RateLimit.Burst,
		ClipsDir:       cfg.Recording.ClipsDir,
		ClipExtension:  cfg.Recording.Extension,
	}, deps, logger)

	return app, nil
}

func (app *Application) buildDispatcher(ctx context.Context) (notification.Dispatcher, error) {
	var multi notification.Multi
	retry := app.cfg.RetryConfig()
	name := app.cfg.Notification.SystemName

	if app.cfg.Notification.SMTP.Enabled {
		d, err := notification.NewSMTPDispatcher(app.cfg.SMTPConfig(), name, retry, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP dispatcher: %w", err)
		}
		multi = append(multi, d)
	}
	if app.cfg.Notification.Gmail.Enabled {
		d, err := notification.NewGmailDispatcher(ctx, app.cfg.GmailConfig(), name, retry, app.logger)
		if err != nil {
			app.logger.Warn("Gmail alerts disabled", zap.Error(err))
		} else {
			multi = append(multi, d)
		}
	}
	if len(multi) == 0 {
		app.logger.Info("No alert backend configured; alerts are dropped")
		return notification.Nop{}, nil
	}
	return multi, nil
}

// stats collects component counters for the API.
func (app *Application) stats() map[string]any {
	frames, dropped := app.feed.Stats()
	out := map[string]any{
		"detector": app.detector.Stats(),
		"pipeline": app.runner.Metrics().Snapshot(),
		"recorder": app.recorder.Metrics().Snapshot(),
		"worker":   app.worker.Metrics().Snapshot(),
		"stream": map[string]any{
			"viewers": app.feed.Viewers(),
			"frames":  frames,
			"dropped": dropped,
		},
		"events": map[string]any{
			"clients": app.events.ClientCount(),
			"dropped": app.events.Dropped(),
		},
	}
	if app.store != nil {
		out["archive"] = app.store.Metrics().Snapshot()
	}
	return out
}

// Run starts capture, the worker and the HTTP server, and blocks until ctx
// is cancelled or a component fails. The capture loop is stopped first so
// its session is finalized and queued before the worker drains.
func (app *Application) Run(ctx context.Context) error {
	app.worker.Start(app.workerCtx)

	if src := app.cfg.Capture.Source; src != "" {
		if err := app.camera.Switch(src); err != nil {
			app.logger.Error("Initial source failed to open; waiting for /api/source", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := app.camera.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			return err
		}
		app.worker.Stop()
		app.events.Close()
		return nil
	})

	return g.Wait()
}

// Cleanup releases native resources. Safe to call on a partly built app.
func (app *Application) Cleanup() {
	if app.workerCancel != nil {
		app.workerCancel()
	}
	if app.detector != nil {
		if err := app.detector.Close(); err != nil {
			app.logger.Warn("Failed to close motion detector", zap.Error(err))
		}
	}
	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			app.logger.Warn("Failed to close catalog", zap.Error(err))
		}
	}
}
